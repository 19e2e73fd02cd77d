// Package store defines the durable record of games, players and scores.
package store

import (
	"context"
	"errors"
	"time"

	"tiktakrooms/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrGameFull      = errors.New("game already has two players")
	ErrDuplicateCode = errors.New("game code already in use")
	ErrUnavailable   = errors.New("storage unavailable")
)

// MaxPlayers is the number of players a game may link.
const MaxPlayers = 2

// Checkpoint is the mutable part of a game written after every move.
type Checkpoint struct {
	Board   models.Board
	Turn    models.Symbol
	Outcome models.Outcome
}

// GameRecord is the durable snapshot of one game.
type GameRecord struct {
	ID        string
	Code      string
	Board     models.Board
	Turn      models.Symbol
	Outcome   models.Outcome
	Scored    bool
	Players   []models.Player
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Gateway is the persistence surface rooms and onboarding rely on.
type Gateway interface {
	CreateGame(ctx context.Context, gameID, code string, board models.Board) error
	AppendPlayer(ctx context.Context, gameID string, player models.Player) error
	CheckpointBoard(ctx context.Context, gameID string, cp Checkpoint) error
	// RecordOutcome reports true only the first time an outcome is stored for a game.
	RecordOutcome(ctx context.Context, gameID string, outcome models.Outcome) (bool, error)
	LoadGame(ctx context.Context, code string) (GameRecord, error)
	LoadGameByID(ctx context.Context, gameID string) (GameRecord, error)
	IncrementScore(ctx context.Context, name string, delta int) error
	Scores(ctx context.Context, names ...string) (map[string]int, error)
	TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
