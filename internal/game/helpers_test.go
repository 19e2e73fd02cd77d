package game_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/memory"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures listener calls in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PlayerJoined(code string, g game.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("joined %s %d", code, len(g.Players)))
}

func (r *recorder) MoveApplied(code string, res game.MoveResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "move "+res.Update.Game.Board.String())
	if res.Outcome != nil {
		r.events = append(r.events, "over "+res.Outcome.String())
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memory.Store
	dir   *game.Directory
	rec   *recorder
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, gw *memory.Store) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, gw, ptr(game.DefaultScorePolicy()))
}

func newFixtureWithPolicy(t *testing.T, gw *memory.Store, policy *game.ScorePolicy) *fixture {
	t.Helper()
	f := &fixture{store: gw, rec: &recorder{}, clock: newFakeClock()}
	dir, err := game.NewDirectory(game.Options{
		Store:    gw,
		Listener: f.rec,
		Policy:   policy,
		Logger:   discardLogger(),
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.dir = dir
	return f
}

// startedRoom creates a room with Alice as X and Bob as O.
func (f *fixture) startedRoom(t *testing.T) *game.Room {
	t.Helper()
	ctx := context.Background()
	room, err := f.dir.Create(ctx)
	require.NoError(t, err)
	_, _, err = room.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	_, _, err = room.AddPlayer(ctx, "bob", "Bob")
	require.NoError(t, err)
	return room
}

// play applies moves alternating between alice (X) and bob (O).
func play(t *testing.T, room *game.Room, positions ...int) game.MoveResult {
	t.Helper()
	var res game.MoveResult
	for i, pos := range positions {
		id := "alice"
		if i%2 == 1 {
			id = "bob"
		}
		var err error
		res, err = room.AttemptMove(context.Background(), pos, id)
		require.NoError(t, err, "move %d at %d", i, pos)
	}
	return res
}

func ptr[T any](v T) *T { return &v }

func mustBoard(t *testing.T, s string) models.Board {
	t.Helper()
	b, err := models.ParseBoard(s)
	require.NoError(t, err)
	return b
}

// countingStore counts and slows down LoadGame calls.
type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	loads int
	delay time.Duration
}

func (c *countingStore) LoadGame(ctx context.Context, code string) (store.GameRecord, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	time.Sleep(c.delay)
	return c.Store.LoadGame(ctx, code)
}

func (c *countingStore) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
