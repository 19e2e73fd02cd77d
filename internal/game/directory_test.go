package game_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectoryRequiresStore(t *testing.T) {
	_, err := game.NewDirectory(game.Options{})
	assert.Error(t, err)
}

func TestDirectoryCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		room, err := f.dir.Create(ctx)
		require.NoError(t, err)

		code := room.Code()
		assert.Len(t, code, game.DefaultCodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(game.CodeAlphabet, c), "unexpected %q in %s", c, code)
		}
		assert.True(t, f.dir.ValidCode(code))
		assert.False(t, seen[code])
		seen[code] = true

		rec, err := f.store.LoadGame(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, room.GameID(), rec.ID)
	}
	assert.Equal(t, 20, f.dir.Len())
}

func TestDirectoryValidCode(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		code string
		want bool
	}{
		{"ABC234", true},
		{" abc234 ", true},
		{"ABC23", false},
		{"ABC2345", false},
		{"ABC0O1", false},
		{"ABC-34", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.dir.ValidCode(tt.code), "code %q", tt.code)
	}
}

func TestDirectoryGetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.dir.Create(ctx)
	require.NoError(t, err)

	got, err := f.dir.GetOrCreate(ctx, strings.ToLower(room.Code()))
	require.NoError(t, err)
	assert.Same(t, room, got)

	_, err = f.dir.GetOrCreate(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
	assert.Equal(t, 1, f.dir.Len(), "unknown codes never create rooms")
}

func TestDirectoryGetOrCreateStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(assert.AnError)

	_, err := f.dir.GetOrCreate(context.Background(), "ABC234")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, game.ErrRoomNotFound)
}

func TestDirectoryHydratesEvictedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.startedRoom(t)
	play(t, room, 0, 4)
	before := room.Snapshot()

	require.True(t, f.dir.Evict(room.Code()))
	assert.Equal(t, 0, f.dir.Len())
	assert.False(t, f.dir.Evict(room.Code()))

	hydrated, err := f.dir.GetOrCreate(ctx, room.Code())
	require.NoError(t, err)
	assert.NotSame(t, room, hydrated)

	after := hydrated.Snapshot()
	assert.Equal(t, before.Board, after.Board)
	assert.Equal(t, before.Players, after.Players)
	assert.Equal(t, models.SymbolX, after.Turn)
	assert.Equal(t, models.StatusInProgress, after.Status)

	// Reconnects are recognized and play continues on the new room.
	_, added, err := hydrated.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	assert.False(t, added)
	res, err := hydrated.AttemptMove(ctx, 8, "alice")
	require.NoError(t, err)
	assert.Equal(t, "X___O___X", res.Update.Game.Board.String())
}

func TestDirectoryRetiredRoomRedirects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.startedRoom(t)
	require.True(t, f.dir.Evict(room.Code()))

	// The stale handle refuses work; the directory helpers resolve again.
	_, err := room.AttemptMove(ctx, 0, "alice")
	assert.Error(t, err)
	assert.Equal(t, models.EmptyBoard, room.Snapshot().Board.String())

	res, err := f.dir.Move(ctx, room.Code(), 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, "X________", res.Update.Game.Board.String())

	_, p, added, err := f.dir.Join(ctx, room.Code(), "bob", "Bob")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, models.SymbolO, p.Symbol)
}

func TestDirectoryReconnectSkipsRetiredRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.startedRoom(t)
	code := stale.Code()
	require.True(t, f.dir.Evict(code))

	// Even a known member is turned away by the evicted handle.
	_, _, err := stale.AddPlayer(ctx, "alice", "Alice")
	assert.Error(t, err)

	_, err = f.dir.Move(ctx, code, 4, "alice")
	require.NoError(t, err)

	room, p, added, err := f.dir.Join(ctx, code, "alice", "")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, models.SymbolX, p.Symbol)
	assert.NotSame(t, stale, room)
	assert.Equal(t, "____X____", room.Snapshot().Board.String())
}

func TestDirectoryHydrationIsSharedAcrossCallers(t *testing.T) {
	counting := &countingStore{Store: memory.New(), delay: 50 * time.Millisecond}
	ctx := context.Background()
	require.NoError(t, counting.CreateGame(ctx, "game-1", "SHARE2", models.Board{}))

	dir, err := game.NewDirectory(game.Options{Store: counting, Logger: discardLogger()})
	require.NoError(t, err)

	const callers = 16
	rooms := make([]*game.Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := dir.GetOrCreate(ctx, "share2")
			assert.NoError(t, err)
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, counting.Loads())
	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
}

func TestDirectorySettlesUnscoredGameOnHydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateGame(ctx, "game-1", "SETL34", models.Board{}))
	require.NoError(t, f.store.AppendPlayer(ctx, "game-1", models.Player{ID: "a", Name: "Alice", Symbol: models.SymbolX}))
	require.NoError(t, f.store.AppendPlayer(ctx, "game-1", models.Player{ID: "b", Name: "Bob", Symbol: models.SymbolO}))
	require.NoError(t, f.store.CheckpointBoard(ctx, "game-1", store.Checkpoint{
		Board:   mustBoard(t, "XXXOO____"),
		Turn:    models.SymbolO,
		Outcome: models.Won(models.SymbolX),
	}))

	for i := 0; i < 2; i++ {
		room, err := f.dir.GetOrCreate(ctx, "SETL34")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFinished, room.Snapshot().Status)
		require.True(t, f.dir.Evict("SETL34"))
	}

	scores, err := f.store.Scores(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, scores["Alice"], "outcome is scored exactly once")
}

func TestDirectorySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle, err := f.dir.Create(ctx)
	require.NoError(t, err)
	finished := f.startedRoom(t)
	play(t, finished, 0, 3, 1, 4, 2)

	f.clock.Advance(game.DefaultFinishedTTL)
	assert.Equal(t, 1, f.dir.Sweep(f.clock.Now()))
	_, ok := f.dir.Lookup(finished.Code())
	assert.False(t, ok)
	_, ok = f.dir.Lookup(idle.Code())
	assert.True(t, ok)

	// Activity resets the idle clock.
	f.clock.Advance(game.DefaultIdleTTL - time.Minute)
	_, _, err = idle.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, f.dir.Sweep(f.clock.Now()))

	f.clock.Advance(game.DefaultIdleTTL)
	assert.Equal(t, 1, f.dir.Sweep(f.clock.Now()))
	assert.Equal(t, 0, f.dir.Len())

	// Evicted rooms come back from the store.
	back, err := f.dir.GetOrCreate(ctx, idle.Code())
	require.NoError(t, err)
	assert.Len(t, back.Snapshot().Players, 1)
}

func TestDirectoryRunStopsOnCancel(t *testing.T) {
	dir, err := game.NewDirectory(game.Options{
		Store:         memory.New(),
		Logger:        discardLogger(),
		SweepInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dir.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDirectoryScorePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy *game.ScorePolicy
		want   map[string]int
	}{
		{"nil uses default", nil, map[string]int{"Alice": 1, "Bob": 0}},
		{"all zero scores nothing", &game.ScorePolicy{}, map[string]int{"Alice": 0, "Bob": 0}},
		{"custom points", &game.ScorePolicy{WinPoints: 3, LossPoints: 1}, map[string]int{"Alice": 3, "Bob": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWithPolicy(t, memory.New(), tt.policy)
			room := f.startedRoom(t)
			play(t, room, 0, 3, 1, 4, 2)

			scores, err := f.store.Scores(context.Background(), "Alice", "Bob")
			require.NoError(t, err)
			assert.Equal(t, tt.want, scores)
		})
	}
}
