package ws

import (
	"encoding/json"
	"time"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/models"
)

// Client to server events.
const (
	EventJoinRoom = "join-room"
	EventMakeMove = "make-move"
	EventChat     = "chat-message"
)

// Server to client events.
const (
	EventRoomJoined   = "room-joined"
	EventPlayerJoined = "player-joined"
	EventMoveUpdated  = "move-updated"
	EventGameOver     = "game-over"
	EventInvalidMove  = "invalid-move"
	EventError        = "error"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRoomRequest struct {
	UserID   string `json:"userId"`
	GameCode string `json:"gameCode"`
	Name     string `json:"name"`
}

type makeMoveRequest struct {
	GameCode string `json:"gameCode"`
	Position *int   `json:"position"`
	PlayerID string `json:"playerId"`
}

type chatRequest struct {
	GameCode string `json:"gameCode"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
}

type roomJoinedPayload struct {
	Success bool           `json:"success"`
	Game    *game.GameView `json:"game,omitempty"`
	Player  *models.Player `json:"player,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type playerJoinedPayload struct {
	Game        game.GameView `json:"game"`
	PlayerCount int           `json:"playerCount"`
}

type moveUpdatedPayload struct {
	Game          game.GameView `json:"game"`
	CurrentPlayer models.Symbol `json:"currentPlayer"`
}

type gameOverPayload struct {
	Winner string        `json:"winner"`
	Game   game.GameView `json:"game"`
}

type chatPayload struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
