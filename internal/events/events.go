// Package events publishes game lifecycle events for other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tiktakrooms/internal/models"

	"github.com/nats-io/nats.go"
)

// Event types, appended to the configured subject prefix.
const (
	GameCreated  = "game.created"
	PlayerJoined = "player.joined"
	GameFinished = "game.finished"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "tiktakrooms"

// Event is the JSON body of every published message.
type Event struct {
	Type    string          `json:"type"`
	GameID  string          `json:"gameId"`
	Code    string          `json:"gameCode"`
	Player  *models.Player  `json:"player,omitempty"`
	Winner  string          `json:"winner,omitempty"`
	Board   string          `json:"board,omitempty"`
	Players []models.Player `json:"players,omitempty"`
	At      time.Time       `json:"at"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Discard drops every event. Used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }

// NATS publishes events as core NATS messages.
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials url and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *slog.Logger) (*NATS, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("tiktakrooms"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATS) Subject(eventType string) string {
	return Subject(p.prefix, eventType)
}

// Subject joins a prefix and an event type.
func Subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.nc.Drain()
}

var (
	_ Publisher = Discard{}
	_ Publisher = (*NATS)(nil)
)
