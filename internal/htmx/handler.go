// Package htmx serves HTML fragments for pages that poll room and
// leaderboard state.
package htmx

import (
	"errors"
	"log/slog"
	"net/http"

	"tiktakrooms/internal/game"

	"github.com/a-h/templ"
)

// Handler serves HTMX fragments.
type Handler struct {
	dir    *game.Directory
	svc    *game.Service
	logger *slog.Logger
}

// NewHandler creates a new HTMX handler.
func NewHandler(dir *game.Directory, svc *game.Service, logger *slog.Logger) *Handler {
	return &Handler{dir: dir, svc: svc, logger: logger}
}

// RegisterRoutes sets up the HTMX routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /htmx/leaderboard", h.handleLeaderboard)
	mux.HandleFunc("GET /htmx/game/{code}", h.handleGame)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Leaderboard(r.Context(), 0)
	if err != nil {
		h.logger.Error("leaderboard fragment failed", "error", err)
		h.render(w, r, ErrorStatus("storage unavailable"), http.StatusInternalServerError)
		return
	}
	h.render(w, r, Leaderboard(entries), http.StatusOK)
}

func (h *Handler) handleGame(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !h.dir.ValidCode(code) {
		h.render(w, r, ErrorStatus(game.ErrInvalidCode.Error()), http.StatusBadRequest)
		return
	}
	room, err := h.dir.GetOrCreate(r.Context(), game.NormalizeCode(code))
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		h.render(w, r, ErrorStatus(err.Error()), http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("game fragment failed", "code", code, "error", err)
		h.render(w, r, ErrorStatus("storage unavailable"), http.StatusInternalServerError)
		return
	}
	h.render(w, r, Board(room.Snapshot().View(h.svc.BaseURL())), http.StatusOK)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, c templ.Component, status int) {
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, r)
}
