// Package leaderboard keeps a Redis sorted-set projection of player scores
// in front of a store.Gateway. The gateway stays the source of truth; Redis
// only serves the top-N reads.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set used when none is configured.
const DefaultKey = "tiktakrooms:leaderboard"

// incrIfWarm bumps a member only while the projection exists. A cold
// projection is filled by Rebuild alone.
var incrIfWarm = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("ZINCRBY", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// Gateway decorates a store.Gateway with a Redis read model for scores.
// Every other call passes through to the wrapped gateway.
type Gateway struct {
	store.Gateway

	rdb    redis.UniversalClient
	key    string
	idsKey string
	logger *slog.Logger
}

// New wraps inner. An empty key falls back to DefaultKey.
func New(inner store.Gateway, rdb redis.UniversalClient, key string, logger *slog.Logger) *Gateway {
	if key == "" {
		key = DefaultKey
	}
	return &Gateway{
		Gateway: inner,
		rdb:     rdb,
		key:     key,
		idsKey:  key + ":ids",
		logger:  logger,
	}
}

// IncrementScore writes through to the store and then bumps the sorted set
// if it is warm. A Redis failure is logged; the next read rebuilds the
// projection.
func (g *Gateway) IncrementScore(ctx context.Context, name string, delta int) error {
	if err := g.Gateway.IncrementScore(ctx, name, delta); err != nil {
		return err
	}
	if err := incrIfWarm.Run(ctx, g.rdb, []string{g.key}, delta, name).Err(); err != nil {
		g.logger.Warn("leaderboard increment failed", "name", name, "error", err)
		g.invalidate(ctx)
	}
	return nil
}

// TopScores serves the ranking from Redis and falls back to the store when
// the projection is cold, incomplete or unreachable.
func (g *Gateway) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	entries, ok := g.fromRedis(ctx, limit)
	if ok {
		return entries, nil
	}

	entries, err := g.Gateway.TopScores(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := g.Rebuild(ctx); err != nil {
		g.logger.Warn("leaderboard rebuild failed", "error", err)
	}
	return entries, nil
}

func (g *Gateway) fromRedis(ctx context.Context, limit int) ([]models.ScoreEntry, bool) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := g.rdb.ZRevRangeWithScores(ctx, g.key, 0, stop).Result()
	if err != nil {
		g.logger.Warn("leaderboard read failed", "error", err)
		return nil, false
	}
	if len(zs) == 0 {
		return nil, false
	}

	names := make([]string, len(zs))
	for i, z := range zs {
		names[i] = fmt.Sprint(z.Member)
	}
	ids, err := g.rdb.HMGet(ctx, g.idsKey, names...).Result()
	if err != nil {
		g.logger.Warn("leaderboard id lookup failed", "error", err)
		return nil, false
	}

	entries := make([]models.ScoreEntry, 0, len(zs))
	for i, z := range zs {
		id, ok := ids[i].(string)
		if !ok {
			// A name scored since the last rebuild has no id yet.
			return nil, false
		}
		entries = append(entries, models.ScoreEntry{ID: id, Name: names[i], Score: int(z.Score)})
	}
	sortTies(entries)
	return entries, true
}

// Rebuild replaces the projection with the full ranking from the store.
func (g *Gateway) Rebuild(ctx context.Context) error {
	entries, err := g.Gateway.TopScores(ctx, 0)
	if err != nil {
		return err
	}
	_, err = g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, g.key, g.idsKey)
		if len(entries) == 0 {
			return nil
		}
		members := make([]redis.Z, len(entries))
		ids := make(map[string]any, len(entries))
		for i, e := range entries {
			members[i] = redis.Z{Score: float64(e.Score), Member: e.Name}
			ids[e.Name] = e.ID
		}
		pipe.ZAdd(ctx, g.key, members...)
		pipe.HSet(ctx, g.idsKey, ids)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	g.logger.Debug("leaderboard rebuilt", "entries", len(entries))
	return nil
}

func (g *Gateway) invalidate(ctx context.Context) {
	if err := g.rdb.Del(ctx, g.key, g.idsKey).Err(); err != nil {
		g.logger.Warn("leaderboard invalidate failed", "error", err)
	}
}

// Close closes the Redis client and the wrapped gateway.
func (g *Gateway) Close() error {
	rerr := g.rdb.Close()
	if err := g.Gateway.Close(); err != nil {
		return err
	}
	return rerr
}

// sortTies orders equal scores by name so Redis matches the SQL stores,
// which break ties alphabetically. ZREVRANGE breaks them in reverse.
func sortTies(entries []models.ScoreEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
}

var _ store.Gateway = (*Gateway)(nil)
