// Package storetest holds the behaviour every store.Gateway must share.
package storetest

import (
	"context"
	"testing"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty gateway for one subtest.
type Factory func(t *testing.T) store.Gateway

// Run exercises the gateway contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and load", func(t *testing.T) { testCreateAndLoad(t, newStore(t)) })
	t.Run("duplicate code", func(t *testing.T) { testDuplicateCode(t, newStore(t)) })
	t.Run("append player", func(t *testing.T) { testAppendPlayer(t, newStore(t)) })
	t.Run("opaque player ids", func(t *testing.T) { testOpaquePlayerIDs(t, newStore(t)) })
	t.Run("checkpoint", func(t *testing.T) { testCheckpoint(t, newStore(t)) })
	t.Run("record outcome once", func(t *testing.T) { testRecordOutcome(t, newStore(t)) })
	t.Run("scores", func(t *testing.T) { testScores(t, newStore(t)) })
	t.Run("ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func newGame(t *testing.T, s store.Gateway, code string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, s.CreateGame(context.Background(), id, code, models.Board{}))
	return id
}

func testCreateAndLoad(t *testing.T, s store.Gateway) {
	ctx := context.Background()
	id := newGame(t, s, "ABC234")

	rec, err := s.LoadGame(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "ABC234", rec.Code)
	assert.Equal(t, models.EmptyBoard, rec.Board.String())
	assert.Equal(t, models.SymbolX, rec.Turn)
	assert.False(t, rec.Outcome.Terminal())
	assert.Empty(t, rec.Players)

	byID, err := s.LoadGameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ABC234", byID.Code)

	_, err = s.LoadGame(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.LoadGameByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateCode(t *testing.T, s store.Gateway) {
	newGame(t, s, "DUPE22")
	err := s.CreateGame(context.Background(), uuid.NewString(), "DUPE22", models.Board{})
	assert.ErrorIs(t, err, store.ErrDuplicateCode)
}

func testAppendPlayer(t *testing.T, s store.Gateway) {
	ctx := context.Background()
	id := newGame(t, s, "PLAY34")

	alice := models.Player{ID: uuid.NewString(), Name: "Alice", Symbol: models.SymbolX}
	bob := models.Player{ID: uuid.NewString(), Name: "Bob", Symbol: models.SymbolO}
	carol := models.Player{ID: uuid.NewString(), Name: "Carol", Symbol: models.SymbolX}

	require.NoError(t, s.AppendPlayer(ctx, id, alice))
	require.NoError(t, s.AppendPlayer(ctx, id, alice), "relinking the same player is a no-op")
	require.NoError(t, s.AppendPlayer(ctx, id, bob))
	assert.ErrorIs(t, s.AppendPlayer(ctx, id, carol), store.ErrGameFull)

	rec, err := s.LoadGame(ctx, "PLAY34")
	require.NoError(t, err)
	require.Len(t, rec.Players, 2)
	assert.Equal(t, alice, rec.Players[0])
	assert.Equal(t, bob, rec.Players[1])

	assert.ErrorIs(t, s.AppendPlayer(ctx, uuid.NewString(), carol), store.ErrNotFound)
}

func testOpaquePlayerIDs(t *testing.T, s store.Gateway) {
	ctx := context.Background()
	id := newGame(t, s, "OPAQ78")

	alice := models.Player{ID: "alice-socket", Name: "Alice", Symbol: models.SymbolX}
	bob := models.Player{ID: "42", Name: "Bob", Symbol: models.SymbolO}
	require.NoError(t, s.AppendPlayer(ctx, id, alice))
	require.NoError(t, s.AppendPlayer(ctx, id, bob))

	rec, err := s.LoadGameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []models.Player{alice, bob}, rec.Players)
}

func testCheckpoint(t *testing.T, s store.Gateway) {
	ctx := context.Background()
	id := newGame(t, s, "CHKP56")

	board, err := models.ParseBoard("X___O____")
	require.NoError(t, err)
	require.NoError(t, s.CheckpointBoard(ctx, id, store.Checkpoint{Board: board, Turn: models.SymbolX}))

	rec, err := s.LoadGameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "X___O____", rec.Board.String())
	assert.Equal(t, models.SymbolX, rec.Turn)

	won, err := models.ParseBoard("XXX_O_O__")
	require.NoError(t, err)
	require.NoError(t, s.CheckpointBoard(ctx, id, store.Checkpoint{Board: won, Turn: models.SymbolO, Outcome: models.Won(models.SymbolX)}))
	rec, err = s.LoadGameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.Won(models.SymbolX), rec.Outcome)

	err = s.CheckpointBoard(ctx, uuid.NewString(), store.Checkpoint{Board: board, Turn: models.SymbolO})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRecordOutcome(t *testing.T, s store.Gateway) {
	ctx := context.Background()
	id := newGame(t, s, "OUTC78")

	first, err := s.RecordOutcome(ctx, id, models.Drawn())
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.RecordOutcome(ctx, id, models.Drawn())
	require.NoError(t, err)
	assert.False(t, again)

	rec, err := s.LoadGameByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Scored)
	assert.Equal(t, models.Drawn(), rec.Outcome)

	_, err = s.RecordOutcome(ctx, uuid.NewString(), models.Drawn())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testScores(t *testing.T, s store.Gateway) {
	ctx := context.Background()

	require.NoError(t, s.IncrementScore(ctx, "Alice", 1))
	require.NoError(t, s.IncrementScore(ctx, "Alice", 1))
	require.NoError(t, s.IncrementScore(ctx, "Bob", 1))
	require.NoError(t, s.IncrementScore(ctx, "Carol", 3))

	scores, err := s.Scores(ctx, "Alice", "Bob", "Nobody")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Alice": 2, "Bob": 1, "Nobody": 0}, scores)

	top, err := s.TopScores(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Carol", top[0].Name)
	assert.Equal(t, 3, top[0].Score)
	assert.NotEmpty(t, top[0].ID)
	assert.Equal(t, "Alice", top[1].Name)
	assert.Equal(t, 2, top[1].Score)
}
