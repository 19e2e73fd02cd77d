package leaderboard_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"tiktakrooms/internal/leaderboard"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/memory"
	"tiktakrooms/internal/store/storetest"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{
		Addr:        endpoint,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 3 * time.Second,
	})
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestGatewayContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	rdb := startRedis(t)

	storetest.Run(t, func(t *testing.T) store.Gateway {
		require.NoError(t, rdb.FlushDB(context.Background()).Err())
		return leaderboard.New(memory.New(), noClose{rdb}, "", testLogger())
	})
}

func TestTopScoresServedFromRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()
	rdb := startRedis(t)
	inner := memory.New()
	lb := leaderboard.New(inner, noClose{rdb}, "test:lb", testLogger())

	require.NoError(t, lb.IncrementScore(ctx, "Alice", 2))
	require.NoError(t, lb.IncrementScore(ctx, "Bob", 2))
	require.NoError(t, lb.IncrementScore(ctx, "Carol", 1))

	// First read is incomplete in Redis and rebuilds from the store.
	first, err := lb.TopScores(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 3)

	card, err := rdb.ZCard(ctx, "test:lb").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	// With the store down, the projection still answers.
	inner.Fail(assert.AnError)
	second, err := lb.TopScores(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "Alice", second[0].Name)
	assert.Equal(t, "Bob", second[1].Name)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestColdProjectionIsOnlyFilledByRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()
	rdb := startRedis(t)
	inner := memory.New()
	lb := leaderboard.New(inner, noClose{rdb}, "test:cold", testLogger())

	require.NoError(t, inner.IncrementScore(ctx, "Alice", 5))
	require.NoError(t, inner.IncrementScore(ctx, "Bob", 3))
	require.NoError(t, lb.Rebuild(ctx))

	// The projection goes cold, then a score lands before the next read.
	require.NoError(t, rdb.Del(ctx, "test:cold").Err())
	require.NoError(t, lb.IncrementScore(ctx, "Alice", 1))

	exists, err := rdb.Exists(ctx, "test:cold").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "increment must not recreate a cold projection")

	top, err := lb.TopScores(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Alice", top[0].Name)
	assert.Equal(t, 6, top[0].Score)
	assert.Equal(t, "Bob", top[1].Name)
	assert.Equal(t, 3, top[1].Score)

	// Warm again: increments land in Redis and reads skip the store.
	require.NoError(t, lb.IncrementScore(ctx, "Bob", 4))
	inner.Fail(assert.AnError)
	top, err = lb.TopScores(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Bob", top[0].Name)
	assert.Equal(t, 7, top[0].Score)
}

func TestFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	lb := leaderboard.New(memory.New(), rdb, "", testLogger())
	defer lb.Close()

	require.NoError(t, lb.IncrementScore(ctx, "Alice", 1))
	require.NoError(t, lb.IncrementScore(ctx, "Bob", 3))

	top, err := lb.TopScores(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Bob", top[0].Name)
	assert.Equal(t, 3, top[0].Score)
}

// noClose keeps a shared container client open across subtests.
type noClose struct {
	*redis.Client
}

func (noClose) Close() error { return nil }
