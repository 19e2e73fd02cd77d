package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomStartAndFirstMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.dir.Create(ctx)
	require.NoError(t, err)
	snap := room.Snapshot()
	assert.Equal(t, models.EmptyBoard, snap.Board.String())
	assert.Equal(t, models.StatusWaiting, snap.Status)

	alice, added, err := room.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, models.SymbolX, alice.Symbol)
	assert.Equal(t, models.StatusWaiting, room.Snapshot().Status)

	bob, added, err := room.AddPlayer(ctx, "bob", "Bob")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, models.SymbolO, bob.Symbol)
	assert.Equal(t, models.StatusInProgress, room.Snapshot().Status)
	assert.Equal(t, models.SymbolX, room.Snapshot().Turn)

	res, err := room.AttemptMove(ctx, 0, "alice")
	require.NoError(t, err)
	assert.Equal(t, "X________", res.Update.Game.Board.String())
	assert.Equal(t, models.SymbolO, res.Update.CurrentPlayer)
	assert.Nil(t, res.Outcome)

	res, err = room.AttemptMove(ctx, 4, "bob")
	require.NoError(t, err)
	assert.Equal(t, "X___O____", res.Update.Game.Board.String())
	assert.Equal(t, models.SymbolX, res.Update.CurrentPlayer)

	rec, err := f.store.LoadGame(ctx, room.Code())
	require.NoError(t, err)
	assert.Equal(t, "X___O____", rec.Board.String())
	assert.Equal(t, models.SymbolX, rec.Turn)

	assert.Equal(t, []string{
		"joined " + room.Code() + " 1",
		"joined " + room.Code() + " 2",
		"move X________",
		"move X___O____",
	}, f.rec.Events())
}

func TestRoomTurnAlternates(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()

	positions := []int{0, 1, 2, 4, 3, 5, 7, 6, 8}
	for n, pos := range positions {
		want, mover := models.SymbolX, "alice"
		if n%2 == 1 {
			want, mover = models.SymbolO, "bob"
		}
		require.Equal(t, want, room.Snapshot().Turn, "before move %d", n)
		_, err := room.AttemptMove(ctx, pos, mover)
		require.NoError(t, err)
		assert.Equal(t, want.Other(), room.Snapshot().Turn, "after move %d", n)
	}
}

func TestRoomNotYourTurnWinsOverCellErrors(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()
	play(t, room, 0)

	for _, pos := range []int{0, 1, -1, 9} {
		_, err := room.AttemptMove(ctx, pos, "alice")
		assert.ErrorIs(t, err, game.ErrNotYourTurn, "position %d", pos)
	}
	assert.Equal(t, "X________", room.Snapshot().Board.String())
}

func TestRoomRejectsInvalidMoves(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()
	play(t, room, 4)

	tests := []struct {
		name     string
		position int
		player   string
		want     error
	}{
		{"unknown player", 0, "mallory", game.ErrUnknownPlayer},
		{"occupied cell", 4, "bob", game.ErrCellOccupied},
		{"below range", -1, "bob", game.ErrOutOfRange},
		{"above range", 9, "bob", game.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := room.AttemptMove(ctx, tt.position, tt.player)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, game.IsRuleViolation(err))
			assert.Equal(t, "____X____", room.Snapshot().Board.String())
			assert.Equal(t, models.SymbolO, room.Snapshot().Turn)
		})
	}
}

func TestRoomWaitsForOpponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.dir.Create(ctx)
	require.NoError(t, err)
	_, _, err = room.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)

	_, err = room.AttemptMove(ctx, 0, "alice")
	assert.ErrorIs(t, err, game.ErrWaitingForOpponent)
	assert.Equal(t, models.EmptyBoard, room.Snapshot().Board.String())
}

func TestRoomReconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.dir.Create(ctx)
	require.NoError(t, err)

	first, added, err := room.AddPlayer(ctx, "alice", "Alice")
	require.NoError(t, err)
	require.True(t, added)

	again, added, err := room.AddPlayer(ctx, "alice", "Alice (new tab)")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first, again)
	assert.Len(t, room.Snapshot().Players, 1)

	bob, _, err := room.AddPlayer(ctx, "bob", "Bob")
	require.NoError(t, err)
	bobAgain, added, err := room.AddPlayer(ctx, "bob", "Bob")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, models.SymbolO, bobAgain.Symbol)
	assert.Equal(t, bob, bobAgain)
	assert.Len(t, room.Snapshot().Players, 2)

	// One joined event per real addition.
	assert.Len(t, f.rec.Events(), 2)
}

func TestRoomFull(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)

	for _, id := range []string{"carol", "dave"} {
		_, _, err := room.AddPlayer(context.Background(), id, id)
		assert.ErrorIs(t, err, game.ErrRoomFull)
	}
	assert.Len(t, room.Snapshot().Players, 2)
}

func TestRoomWin(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()

	res := play(t, room, 0, 3, 1, 4, 2)
	assert.Equal(t, "XXXOO____", res.Update.Game.Board.String())
	require.NotNil(t, res.Outcome)
	assert.Equal(t, models.Won(models.SymbolX), *res.Outcome)
	assert.Equal(t, models.StatusFinished, room.Snapshot().Status)

	_, err := room.AttemptMove(ctx, 8, "bob")
	assert.ErrorIs(t, err, game.ErrGameAlreadyOver)

	events := f.rec.Events()
	assert.Equal(t, []string{"move XXXOO____", "over X"}, events[len(events)-2:])

	rec, err := f.store.LoadGameByID(ctx, room.GameID())
	require.NoError(t, err)
	assert.True(t, rec.Scored)
	assert.Equal(t, models.Won(models.SymbolX), rec.Outcome)

	scores, err := f.store.Scores(ctx, "Alice", "Bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Alice": 1, "Bob": 0}, scores)
}

func TestRoomDraw(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()

	res := play(t, room, 0, 1, 2, 4, 3, 5, 7, 6, 8)
	assert.Equal(t, "XOXXOOOXX", res.Update.Game.Board.String())
	require.NotNil(t, res.Outcome)
	assert.Equal(t, models.Drawn(), *res.Outcome)
	assert.Equal(t, "draw", res.Outcome.String())

	scores, err := f.store.Scores(ctx, "Alice", "Bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Alice": 0, "Bob": 0}, scores)
}

func TestRoomRollsBackOnCheckpointFailure(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()
	play(t, room, 0)
	before := room.Snapshot()
	eventsBefore := len(f.rec.Events())

	f.store.Fail(errors.New("connection reset"))
	_, err := room.AttemptMove(ctx, 4, "bob")
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, game.IsRuleViolation(err))
	assert.Equal(t, before, room.Snapshot())
	assert.Len(t, f.rec.Events(), eventsBefore, "nothing is broadcast for a failed move")

	f.store.Fail(nil)
	res, err := room.AttemptMove(ctx, 4, "bob")
	require.NoError(t, err)
	assert.Equal(t, "X___O____", res.Update.Game.Board.String())
}

func TestRoomAddPlayerStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.dir.Create(ctx)
	require.NoError(t, err)

	f.store.Fail(errors.New("connection reset"))
	_, _, err = room.AddPlayer(ctx, "alice", "Alice")
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, room.Snapshot().Players)
}

func TestRoomConcurrentMoves(t *testing.T) {
	f := newFixture(t)
	room := f.startedRoom(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, id := range []string{"alice", "bob"} {
		for pos := 0; pos < 9; pos++ {
			wg.Add(1)
			go func(id string, pos int) {
				defer wg.Done()
				if _, err := room.AttemptMove(ctx, pos, id); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(id, pos)
		}
	}
	wg.Wait()

	snap := room.Snapshot()
	assert.Equal(t, accepted, snap.Board.Filled())
	xs, ox := 0, 0
	for _, c := range snap.Board {
		switch c {
		case models.SymbolX:
			xs++
		case models.SymbolO:
			ox++
		}
	}
	assert.True(t, xs == ox || xs == ox+1, "X=%d O=%d", xs, ox)

	rec, err := f.store.LoadGameByID(ctx, room.GameID())
	require.NoError(t, err)
	assert.Equal(t, snap.Board, rec.Board)
	assert.Equal(t, snap.Turn, rec.Turn)
}

func TestHydrate(t *testing.T) {
	players := []models.Player{
		{ID: "a", Name: "Alice", Symbol: models.SymbolX},
		{ID: "b", Name: "Bob", Symbol: models.SymbolO},
	}
	tests := []struct {
		name       string
		rec        store.GameRecord
		wantTurn   models.Symbol
		wantStatus models.Status
		wantOut    models.Outcome
	}{
		{
			name:       "persisted turn is copied",
			rec:        store.GameRecord{Board: mustBoard(t, "X___O____"), Turn: models.SymbolX, Players: players},
			wantTurn:   models.SymbolX,
			wantStatus: models.StatusInProgress,
		},
		{
			name:       "legacy record uses parity",
			rec:        store.GameRecord{Board: mustBoard(t, "X________"), Players: players},
			wantTurn:   models.SymbolO,
			wantStatus: models.StatusInProgress,
		},
		{
			name:       "one player waits",
			rec:        store.GameRecord{Turn: models.SymbolX, Players: players[:1]},
			wantTurn:   models.SymbolX,
			wantStatus: models.StatusWaiting,
		},
		{
			name:       "persisted outcome finishes",
			rec:        store.GameRecord{Board: mustBoard(t, "XXX_O_O__"), Turn: models.SymbolO, Outcome: models.Won(models.SymbolX), Players: players},
			wantTurn:   models.SymbolO,
			wantStatus: models.StatusFinished,
			wantOut:    models.Won(models.SymbolX),
		},
		{
			name:       "legacy decided board",
			rec:        store.GameRecord{Board: mustBoard(t, "XXXOO____"), Players: players},
			wantTurn:   models.SymbolO,
			wantStatus: models.StatusFinished,
			wantOut:    models.Won(models.SymbolX),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := game.Hydrate(tt.rec)
			assert.Equal(t, tt.wantTurn, snap.Turn)
			assert.Equal(t, tt.wantStatus, snap.Status)
			assert.Equal(t, tt.wantOut, snap.Outcome)
			assert.Equal(t, tt.rec.Board, snap.Board)
			assert.Equal(t, tt.rec.Players, snap.Players)
		})
	}
}
