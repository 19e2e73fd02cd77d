package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tiktakrooms/internal/events"
	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"
)

// Snapshot is an immutable view of a room at one point in time.
type Snapshot struct {
	GameID  string
	Code    string
	Players []models.Player
	Board   models.Board
	Turn    models.Symbol
	Outcome models.Outcome
	Status  models.Status
}

// Player looks up a member by id.
func (s Snapshot) Player(id string) (models.Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

func (s Snapshot) clone() *Snapshot {
	next := s
	next.Players = append([]models.Player(nil), s.Players...)
	return &next
}

func statusOf(s *Snapshot) models.Status {
	switch {
	case s.Outcome.Terminal():
		return models.StatusFinished
	case len(s.Players) == store.MaxPlayers:
		return models.StatusInProgress
	default:
		return models.StatusWaiting
	}
}

// Update is the board half of a move result. It is always delivered first.
type Update struct {
	Game          Snapshot
	CurrentPlayer models.Symbol
}

// MoveResult carries an accepted move: the board update, then the outcome
// when the move ended the game.
type MoveResult struct {
	Update  Update
	Outcome *models.Outcome
}

// Listener is told about every published room change. Calls for one room
// arrive in the order the changes were applied.
type Listener interface {
	PlayerJoined(code string, game Snapshot)
	MoveApplied(code string, result MoveResult)
}

type nopListener struct{}

func (nopListener) PlayerJoined(string, Snapshot)   {}
func (nopListener) MoveApplied(string, MoveResult) {}

// roomDeps is shared by every room of a directory.
type roomDeps struct {
	store    store.Gateway
	listener Listener
	events   events.Publisher
	policy   ScorePolicy
	logger   *slog.Logger
	now      func() time.Time
}

// Room is the authoritative state of one game. Mutations are serialized by
// mu; readers load the last published snapshot without locking.
type Room struct {
	mu         sync.Mutex
	state      atomic.Pointer[Snapshot]
	lastActive atomic.Int64
	retired    atomic.Bool // set under mu
	deps       *roomDeps
}

func newRoom(snap Snapshot, deps *roomDeps) *Room {
	r := &Room{deps: deps}
	snap.Status = statusOf(&snap)
	r.state.Store(&snap)
	r.touch()
	return r
}

// Code returns the room's join code.
func (r *Room) Code() string { return r.state.Load().Code }

// GameID returns the durable game id.
func (r *Room) GameID() string { return r.state.Load().GameID }

// Snapshot returns the last published state.
func (r *Room) Snapshot() Snapshot { return *r.state.Load() }

func (r *Room) touch() { r.lastActive.Store(r.deps.now().UnixNano()) }

func (r *Room) idleSince() time.Time { return time.Unix(0, r.lastActive.Load()) }

// AddPlayer seats a player. A player already in the room is returned as is
// with added=false, without waiting on pending moves.
func (r *Room) AddPlayer(ctx context.Context, id, name string) (player models.Player, added bool, err error) {
	if r.retired.Load() {
		return models.Player{}, false, errRetired
	}
	if p, ok := r.state.Load().Player(id); ok {
		r.touch()
		return p, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired.Load() {
		return models.Player{}, false, errRetired
	}

	cur := r.state.Load()
	if p, ok := cur.Player(id); ok {
		return p, false, nil
	}
	if len(cur.Players) >= store.MaxPlayers {
		return models.Player{}, false, ErrRoomFull
	}

	symbol := models.SymbolX
	if len(cur.Players) == 1 {
		symbol = cur.Players[0].Symbol.Other()
	}
	player = models.Player{ID: id, Name: name, Symbol: symbol}

	if err := r.deps.store.AppendPlayer(ctx, cur.GameID, player); err != nil {
		if errors.Is(err, store.ErrGameFull) {
			return models.Player{}, false, ErrRoomFull
		}
		return models.Player{}, false, fmt.Errorf("add player to %s: %w", cur.Code, err)
	}

	next := cur.clone()
	next.Players = append(next.Players, player)
	next.Status = statusOf(next)
	r.state.Store(next)
	r.touch()

	r.deps.logger.Info("player joined",
		"code", next.Code, "game_id", next.GameID, "player_id", id, "symbol", symbol)
	r.deps.listener.PlayerJoined(next.Code, *next)
	r.publish(ctx, events.Event{Type: events.PlayerJoined, GameID: next.GameID, Code: next.Code, Player: &player})
	return player, true, nil
}

// AttemptMove places the player's symbol at position. The new state is
// published only after the checkpoint succeeds; on a store failure the room
// is left exactly as it was.
func (r *Room) AttemptMove(ctx context.Context, position int, playerID string) (MoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired.Load() {
		return MoveResult{}, errRetired
	}

	cur := r.state.Load()
	p, ok := cur.Player(playerID)
	if !ok {
		return MoveResult{}, ErrUnknownPlayer
	}
	if p.Symbol != cur.Turn {
		return MoveResult{}, ErrNotYourTurn
	}
	if cur.Outcome.Terminal() {
		return MoveResult{}, ErrGameAlreadyOver
	}
	if len(cur.Players) < store.MaxPlayers {
		return MoveResult{}, ErrWaitingForOpponent
	}
	board, err := ApplyMove(cur.Board, position, p.Symbol)
	if err != nil {
		return MoveResult{}, err
	}

	next := cur.clone()
	next.Board = board
	next.Turn = cur.Turn.Other()
	next.Outcome = Evaluate(board)
	next.Status = statusOf(next)

	cp := store.Checkpoint{Board: next.Board, Turn: next.Turn, Outcome: next.Outcome}
	if err := r.deps.store.CheckpointBoard(ctx, next.GameID, cp); err != nil {
		r.deps.logger.Error("checkpoint failed, move rolled back",
			"code", next.Code, "game_id", next.GameID, "position", position, "error", err)
		return MoveResult{}, fmt.Errorf("checkpoint %s: %w", next.Code, err)
	}
	r.state.Store(next)
	r.touch()

	result := MoveResult{Update: Update{Game: *next, CurrentPlayer: next.Turn}}
	if next.Outcome.Terminal() {
		outcome := next.Outcome
		result.Outcome = &outcome
		r.settle(ctx, next)
	}
	r.deps.listener.MoveApplied(next.Code, result)
	return result, nil
}

// settle records a finished game's outcome and applies the score policy the
// first time the outcome is recorded. Failures are logged; a game left
// unscored is settled again when it is next hydrated.
func (r *Room) settle(ctx context.Context, snap *Snapshot) {
	logger := r.deps.logger.With("code", snap.Code, "game_id", snap.GameID)

	first, err := r.deps.store.RecordOutcome(ctx, snap.GameID, snap.Outcome)
	if err != nil {
		logger.Error("record outcome failed", "error", err)
		return
	}
	if !first {
		return
	}
	for name, delta := range r.deps.policy.Deltas(snap.Players, snap.Outcome) {
		if err := r.deps.store.IncrementScore(ctx, name, delta); err != nil {
			logger.Error("increment score failed", "name", name, "delta", delta, "error", err)
		}
	}
	logger.Info("game finished", "outcome", snap.Outcome.String())
	r.publish(ctx, events.Event{
		Type:    events.GameFinished,
		GameID:  snap.GameID,
		Code:    snap.Code,
		Winner:  snap.Outcome.String(),
		Board:   snap.Board.String(),
		Players: snap.Players,
	})
}

func (r *Room) publish(ctx context.Context, e events.Event) {
	if err := r.deps.events.Publish(ctx, e); err != nil {
		r.deps.logger.Warn("publish event failed", "type", e.Type, "code", e.Code, "error", err)
	}
}

// retire marks the room as evicted. It reports false when a mutation is in
// flight, in which case the room stays live.
func (r *Room) retire() bool {
	if !r.mu.TryLock() {
		return false
	}
	r.retired.Store(true)
	r.mu.Unlock()
	return true
}

// Hydrate rebuilds a room snapshot from its durable record. Records written
// before turns were persisted fall back to counting marks.
func Hydrate(rec store.GameRecord) Snapshot {
	snap := Snapshot{
		GameID:  rec.ID,
		Code:    rec.Code,
		Players: append([]models.Player(nil), rec.Players...),
		Board:   rec.Board,
		Turn:    rec.Turn,
		Outcome: rec.Outcome,
	}
	if !snap.Turn.Valid() {
		snap.Turn = turnByParity(rec.Board)
	}
	if !snap.Outcome.Terminal() {
		// Older records may carry a decided board with no outcome.
		snap.Outcome = Evaluate(rec.Board)
	}
	snap.Status = statusOf(&snap)
	return snap
}
