// Package ws is the realtime session layer: it maps WebSocket connections
// to room membership and feeds client intents into rooms.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"tiktakrooms/internal/broadcast"
	"tiktakrooms/internal/game"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	opTimeout      = 5 * time.Second
	maxChatLength  = 500
)

const storageUnavailable = "storage unavailable"

// Handler handles WebSocket connections for real-time game updates.
type Handler struct {
	dir      *game.Directory
	hub      *broadcast.Hub
	baseURL  string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler creates a new WebSocket handler. An empty allowedOrigin accepts
// any origin.
func NewHandler(dir *game.Directory, hub *broadcast.Hub, baseURL, allowedOrigin string, logger *slog.Logger) *Handler {
	return &Handler{
		dir:     dir,
		hub:     hub,
		baseURL: baseURL,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin == "" || allowedOrigin == "*" || r.Header.Get("Origin") == allowedOrigin
			},
		},
		now: time.Now,
	}
}

// RegisterRoutes sets up the WebSocket routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWebSocket)
}

// session is the per-connection state. It is only touched by the
// connection's read loop, so it needs no locking.
type session struct {
	client   *broadcast.Client
	conn     *websocket.Conn
	code     string
	playerID string
	name     string
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{
		client: broadcast.NewClient(uuid.NewString(), broadcast.DefaultBuffer),
		conn:   conn,
	}
	h.logger.Debug("websocket connected", "client_id", s.client.ID, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(s, done)
	h.readPump(r.Context(), s)

	// Leaving the hub never ends the room; the player can reconnect.
	if s.code != "" {
		h.hub.Leave(s.code, s.client)
	}
	s.client.Close()
	<-done
	h.logger.Debug("websocket disconnected", "client_id", s.client.ID, "code", s.code, "player_id", s.playerID)
}

func (h *Handler) readPump(ctx context.Context, s *session) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "client_id", s.client.ID, "error", err)
			}
			return
		}
		h.dispatch(ctx, s, message)
	}
}

func (h *Handler) writePump(s *session, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-s.client.Messages():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, s *session, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		h.reply(s, EventError, errorPayload{Error: "malformed message"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch env.Event {
	case EventJoinRoom:
		h.joinRoom(ctx, s, env.Data)
	case EventMakeMove:
		h.makeMove(ctx, s, env.Data)
	case EventChat:
		h.chat(s, env.Data)
	default:
		h.reply(s, EventError, errorPayload{Error: "unknown event " + env.Event})
	}
}

func (h *Handler) joinRoom(ctx context.Context, s *session, data json.RawMessage) {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(s, EventRoomJoined, roomJoinedPayload{Error: "malformed join request"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		h.reply(s, EventRoomJoined, roomJoinedPayload{Error: "userId is required"})
		return
	}
	if !h.dir.ValidCode(req.GameCode) {
		h.reply(s, EventRoomJoined, roomJoinedPayload{Error: game.ErrInvalidCode.Error()})
		return
	}
	code := game.NormalizeCode(req.GameCode)
	// A missing or invalid name is fine for a reconnect; a new seat rejects it.
	name, nameErr := game.ValidateName(req.Name)
	if nameErr != nil {
		room, err := h.dir.GetOrCreate(ctx, code)
		if err == nil {
			if _, ok := room.Snapshot().Player(req.UserID); !ok {
				err = nameErr
			}
		}
		if err != nil {
			h.reply(s, EventRoomJoined, roomJoinedPayload{Error: h.clientError(err)})
			return
		}
	}

	room, player, added, err := h.dir.Join(ctx, code, req.UserID, name)
	if err != nil {
		h.logger.Info("join rejected", "code", code, "player_id", req.UserID, "error", err)
		h.reply(s, EventRoomJoined, roomJoinedPayload{Error: h.clientError(err)})
		return
	}

	if s.code != "" && s.code != code {
		h.hub.Leave(s.code, s.client)
	}
	s.code, s.playerID, s.name = code, player.ID, player.Name
	h.hub.Join(code, s.client)

	snap := room.Snapshot()
	view := snap.View(h.baseURL)
	h.reply(s, EventRoomJoined, roomJoinedPayload{Success: true, Game: &view, Player: &player})

	joined := playerJoinedPayload{Game: view, PlayerCount: len(snap.Players)}
	if added {
		// The rest of the room heard about the new seat from the notifier.
		h.reply(s, EventPlayerJoined, joined)
		return
	}
	h.broadcast(code, EventPlayerJoined, joined)
	h.logger.Info("player reconnected", "code", code, "player_id", player.ID)
}

func (h *Handler) makeMove(ctx context.Context, s *session, data json.RawMessage) {
	var req makeMoveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Position == nil {
		h.reply(s, EventInvalidMove, errorPayload{Error: "position is required"})
		return
	}
	if s.playerID == "" {
		h.reply(s, EventInvalidMove, errorPayload{Error: "join a room first"})
		return
	}
	if req.PlayerID != "" && req.PlayerID != s.playerID {
		h.reply(s, EventInvalidMove, errorPayload{Error: "playerId does not match this session"})
		return
	}
	if req.GameCode != "" && game.NormalizeCode(req.GameCode) != s.code {
		h.reply(s, EventInvalidMove, errorPayload{Error: "not joined to " + req.GameCode})
		return
	}

	// Success is broadcast by the notifier.
	if _, err := h.dir.Move(ctx, s.code, *req.Position, s.playerID); err != nil {
		h.logger.Debug("move rejected", "code", s.code, "player_id", s.playerID, "position", *req.Position, "error", err)
		h.reply(s, EventInvalidMove, errorPayload{Error: h.clientError(err)})
	}
}

func (h *Handler) chat(s *session, data json.RawMessage) {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(s, EventError, errorPayload{Error: "malformed chat message"})
		return
	}
	if s.code == "" {
		h.reply(s, EventError, errorPayload{Error: "join a room first"})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || utf8.RuneCountInString(msg) > maxChatLength {
		h.reply(s, EventError, errorPayload{Error: "message must be 1 to 500 characters"})
		return
	}
	h.broadcast(s.code, EventChat, chatPayload{
		Sender:    s.name,
		Message:   msg,
		Timestamp: h.now().UTC(),
	})
}

// clientError hides store failures behind a generic message.
func (h *Handler) clientError(err error) string {
	if game.IsRuleViolation(err) || errors.Is(err, game.ErrInvalidName) || errors.Is(err, game.ErrInvalidCode) {
		return err.Error()
	}
	h.logger.Error("session operation failed", "error", err)
	return storageUnavailable
}

func (h *Handler) reply(s *session, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("encode reply failed", "event", event, "error", err)
		return
	}
	if !s.client.Enqueue(msg) {
		h.logger.Warn("reply dropped", "event", event, "client_id", s.client.ID)
	}
}

func (h *Handler) broadcast(code, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("encode broadcast failed", "event", event, "error", err)
		return
	}
	h.hub.Broadcast(code, msg)
}
