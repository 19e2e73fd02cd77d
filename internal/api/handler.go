// Package api serves the onboarding endpoints clients call before opening a
// realtime session.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler handles HTTP requests
type Handler struct {
	svc    *game.Service
	logger *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *game.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up the routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /start", h.handleStart)
	mux.HandleFunc("POST /join", h.handleJoin)
	mux.HandleFunc("GET /score/{gameId}", h.handleScore)
	mux.HandleFunc("GET /leaderboard", h.handleLeaderboard)
	mux.HandleFunc("GET /health", h.handleHealth)
}

type startRequest struct {
	Name string `json:"name"`
}

type joinRequest struct {
	Name     string `json:"name"`
	GameCode string `json:"gameCode"`
}

type healthResponse struct {
	Status    string `json:"status"`
	LiveRooms int    `json:"liveRooms"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.svc.Start(r.Context(), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, session, http.StatusCreated)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.svc.Join(r.Context(), req.Name, req.GameCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, session, http.StatusOK)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.Score(r.Context(), r.PathValue("gameId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, card, http.StatusOK)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondJSON(w, entries, http.StatusOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", LiveRooms: h.svc.LiveRooms()}
	if err := h.svc.Health(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		resp.Status = "degraded"
		resp.Error = store.ErrUnavailable.Error()
		h.respondJSON(w, resp, http.StatusServiceUnavailable)
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidName),
		errors.Is(err, game.ErrInvalidCode),
		errors.Is(err, game.ErrRoomFull):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrRoomNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		msg = store.ErrUnavailable.Error()
	}
	h.errorResponse(w, msg, status)
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
