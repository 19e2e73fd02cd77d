package ws

import (
	"log/slog"

	"tiktakrooms/internal/broadcast"
	"tiktakrooms/internal/game"
)

// Notifier turns room changes into broadcasts. It runs inside the room's
// serialized section, so messages for one room leave in apply order.
type Notifier struct {
	hub     *broadcast.Hub
	baseURL string
	logger  *slog.Logger
}

// NewNotifier creates a game.Listener that broadcasts through hub.
func NewNotifier(hub *broadcast.Hub, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{hub: hub, baseURL: baseURL, logger: logger}
}

func (n *Notifier) PlayerJoined(code string, snap game.Snapshot) {
	n.send(code, EventPlayerJoined, playerJoinedPayload{
		Game:        snap.View(n.baseURL),
		PlayerCount: len(snap.Players),
	})
}

// MoveApplied sends move-updated, then game-over when the move ended the game.
func (n *Notifier) MoveApplied(code string, res game.MoveResult) {
	view := res.Update.Game.View(n.baseURL)
	n.send(code, EventMoveUpdated, moveUpdatedPayload{Game: view, CurrentPlayer: res.Update.CurrentPlayer})
	if res.Outcome != nil {
		n.send(code, EventGameOver, gameOverPayload{Winner: res.Outcome.String(), Game: view})
	}
}

func (n *Notifier) send(code, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		n.logger.Error("encode broadcast failed", "event", event, "code", code, "error", err)
		return
	}
	n.hub.Broadcast(code, msg)
}

var _ game.Listener = (*Notifier)(nil)
