// Package postgres provides a PostgreSQL-backed store.Gateway on pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/postgres/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

// ErrDirtySchema is returned by Open when a previous migration failed midway.
var ErrDirtySchema = errors.New("postgres schema is dirty")

// Options tunes the connection pool.
type Options struct {
	MaxConns int32
	MinConns int32
}

// Store persists games and scores in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn, verifies the connection and runs migrations.
func Open(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrateUp(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	// The *sql.DB only borrows connections from the pool; closing it hands
	// them back without closing the pool.
	db := stdlib.OpenDBFromPool(s.pool)
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("migration instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		// A half-applied migration needs a manual repair and a force to the
		// last clean version before the server may start.
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("schema up to date")
			return nil
		}
		return err
	}
	newVersion, _, _ := m.Version()
	s.logger.Info("schema migrated", "version", newVersion)
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate empties every table. Intended for test fixtures.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE users, games, scores`); err != nil {
		return unavailable("truncate", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// validID filters out strings postgres would reject as uuid input, which
// would otherwise surface as a storage failure instead of a miss.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Store) CreateGame(ctx context.Context, gameID, code string, board models.Board) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO games (id, code, board, turn) VALUES ($1, $2, $3, $4)`,
		gameID, code, board.String(), string(models.SymbolX),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateCode
		}
		return unavailable("create game", err)
	}
	return nil
}

func (s *Store) AppendPlayer(ctx context.Context, gameID string, player models.Player) error {
	if !validID(gameID) {
		return store.ErrNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("append player", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock serializes concurrent joins for the same game.
	var locked string
	err = tx.QueryRow(ctx, `SELECT id::text FROM games WHERE id = $1 FOR UPDATE`, gameID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return unavailable("append player", err)
	}

	rows, err := tx.Query(ctx, `SELECT id::text FROM users WHERE game_id = $1`, gameID)
	if err != nil {
		return unavailable("append player", err)
	}
	linked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return unavailable("append player", err)
	}
	for _, id := range linked {
		if id == player.ID {
			return nil
		}
	}
	if len(linked) >= store.MaxPlayers {
		return store.ErrGameFull
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, game_id, name, symbol, seat) VALUES ($1, $2, $3, $4, $5)`,
		player.ID, gameID, player.Name, string(player.Symbol), len(linked),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrGameFull
		}
		return unavailable("append player", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE games SET updated_at = NOW() WHERE id = $1`, gameID); err != nil {
		return unavailable("append player", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("append player", err)
	}
	return nil
}

func (s *Store) CheckpointBoard(ctx context.Context, gameID string, cp store.Checkpoint) error {
	if !validID(gameID) {
		return store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET board = $2, turn = $3, outcome = $4, updated_at = NOW() WHERE id = $1`,
		gameID, cp.Board.String(), string(cp.Turn), cp.Outcome.String(),
	)
	if err != nil {
		return unavailable("checkpoint board", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, gameID string, outcome models.Outcome) (bool, error) {
	if !validID(gameID) {
		return false, store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET outcome = $2, scored = TRUE, updated_at = NOW() WHERE id = $1 AND NOT scored`,
		gameID, outcome.String(),
	)
	if err != nil {
		return false, unavailable("record outcome", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, gameID).Scan(&exists)
	if err != nil {
		return false, unavailable("record outcome", err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) LoadGame(ctx context.Context, code string) (store.GameRecord, error) {
	return s.loadGame(ctx, `WHERE code = $1`, code)
}

func (s *Store) LoadGameByID(ctx context.Context, gameID string) (store.GameRecord, error) {
	if !validID(gameID) {
		return store.GameRecord{}, store.ErrNotFound
	}
	return s.loadGame(ctx, `WHERE id = $1`, gameID)
}

func (s *Store) loadGame(ctx context.Context, where, arg string) (store.GameRecord, error) {
	var (
		rec                  store.GameRecord
		board, turn, outcome string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, code, board, turn, outcome, scored, created_at, updated_at FROM games `+where,
		arg,
	).Scan(&rec.ID, &rec.Code, &board, &turn, &outcome, &rec.Scored, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.GameRecord{}, store.ErrNotFound
		}
		return store.GameRecord{}, unavailable("load game", err)
	}
	if rec.Board, err = models.ParseBoard(board); err != nil {
		return store.GameRecord{}, fmt.Errorf("load game %s: %w", rec.ID, err)
	}
	if rec.Outcome, err = models.ParseOutcome(outcome); err != nil {
		return store.GameRecord{}, fmt.Errorf("load game %s: %w", rec.ID, err)
	}
	rec.Turn = models.Symbol(turn)

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, name, symbol FROM users WHERE game_id = $1 ORDER BY seat`, rec.ID)
	if err != nil {
		return store.GameRecord{}, unavailable("load players", err)
	}
	rec.Players, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Player, error) {
		var (
			p      models.Player
			symbol string
		)
		err := row.Scan(&p.ID, &p.Name, &symbol)
		p.Symbol = models.Symbol(symbol)
		return p, err
	})
	if err != nil {
		return store.GameRecord{}, unavailable("load players", err)
	}
	return rec, nil
}

func (s *Store) IncrementScore(ctx context.Context, name string, delta int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scores (name, id, score) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET score = scores.score + EXCLUDED.score, updated_at = NOW()`,
		name, uuid.NewString(), delta,
	)
	if err != nil {
		return unavailable("increment score", err)
	}
	return nil
}

func (s *Store) Scores(ctx context.Context, names ...string) (map[string]int, error) {
	out := make(map[string]int, len(names))
	for _, name := range names {
		out[name] = 0
	}
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT name, score FROM scores WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, unavailable("scores", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			score int
		)
		if err := rows.Scan(&name, &score); err != nil {
			return nil, unavailable("scores", err)
		}
		out[name] = score
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scores", err)
	}
	return out, nil
}

func (s *Store) TopScores(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	var arg any
	if limit > 0 {
		arg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, name, score FROM scores ORDER BY score DESC, name ASC LIMIT $1`, arg)
	if err != nil {
		return nil, unavailable("top scores", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ScoreEntry, error) {
		var e models.ScoreEntry
		err := row.Scan(&e.ID, &e.Name, &e.Score)
		return e, err
	})
	if err != nil {
		return nil, unavailable("top scores", err)
	}
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

var _ store.Gateway = (*Store)(nil)
