// Package memory is an in-process store.Gateway used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/google/uuid"
)

type score struct {
	id    string
	value int
}

// Store keeps games and scores in maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	games  map[string]*store.GameRecord
	codes  map[string]string
	scores map[string]*score
	now    func() time.Time

	failMu   sync.RWMutex
	failWith error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		games:  make(map[string]*store.GameRecord),
		codes:  make(map[string]string),
		scores: make(map[string]*score),
		now:    time.Now,
	}
}

// Fail makes every later call return err wrapped in store.ErrUnavailable,
// simulating an unreachable store. A nil err restores normal operation.
func (s *Store) Fail(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failWith = err
}

func (s *Store) fail(op string) error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	if s.failWith != nil {
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, s.failWith)
	}
	return nil
}

func (s *Store) CreateGame(ctx context.Context, gameID, code string, board models.Board) error {
	if err := s.fail("create game"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code]; exists {
		return store.ErrDuplicateCode
	}
	now := s.now()
	s.games[gameID] = &store.GameRecord{
		ID:        gameID,
		Code:      code,
		Board:     board,
		Turn:      models.SymbolX,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.codes[code] = gameID
	return nil
}

func (s *Store) AppendPlayer(ctx context.Context, gameID string, player models.Player) error {
	if err := s.fail("append player"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	for _, p := range g.Players {
		if p.ID == player.ID {
			return nil
		}
	}
	if len(g.Players) >= store.MaxPlayers {
		return store.ErrGameFull
	}
	g.Players = append(g.Players, player)
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) CheckpointBoard(ctx context.Context, gameID string, cp store.Checkpoint) error {
	if err := s.fail("checkpoint board"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	g.Board = cp.Board
	g.Turn = cp.Turn
	g.Outcome = cp.Outcome
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, gameID string, outcome models.Outcome) (bool, error) {
	if err := s.fail("record outcome"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return false, store.ErrNotFound
	}
	if g.Scored {
		return false, nil
	}
	g.Outcome = outcome
	g.Scored = true
	g.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) LoadGame(ctx context.Context, code string) (store.GameRecord, error) {
	if err := s.fail("load game"); err != nil {
		return store.GameRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return store.GameRecord{}, store.ErrNotFound
	}
	return copyRecord(s.games[id]), nil
}

func (s *Store) LoadGameByID(ctx context.Context, gameID string) (store.GameRecord, error) {
	if err := s.fail("load game"); err != nil {
		return store.GameRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.GameRecord{}, store.ErrNotFound
	}
	return copyRecord(g), nil
}

func (s *Store) IncrementScore(ctx context.Context, name string, delta int) error {
	if err := s.fail("increment score"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[name]
	if !ok {
		sc = &score{id: uuid.NewString()}
		s.scores[name] = sc
	}
	sc.value += delta
	return nil
}

func (s *Store) Scores(ctx context.Context, names ...string) (map[string]int, error) {
	if err := s.fail("scores"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(names))
	for _, name := range names {
		if sc, ok := s.scores[name]; ok {
			out[name] = sc.value
		} else {
			out[name] = 0
		}
	}
	return out, nil
}

func (s *Store) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	if err := s.fail("top scores"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]models.ScoreEntry, 0, len(s.scores))
	for name, sc := range s.scores {
		entries = append(entries, models.ScoreEntry{ID: sc.id, Name: name, Score: sc.value})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.fail("ping")
}

func (s *Store) Close() error { return nil }

func copyRecord(g *store.GameRecord) store.GameRecord {
	out := *g
	out.Players = append([]models.Player(nil), g.Players...)
	return out
}

var _ store.Gateway = (*Store)(nil)
