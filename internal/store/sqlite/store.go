// Package sqlite provides a SQLite-backed store.Gateway.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists games and scores in a single SQLite file.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Store) CreateGame(ctx context.Context, gameID, code string, board models.Board) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO games (id, code, board, turn, outcome, scored, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', 0, ?, ?)`,
		gameID, code, board.String(), string(models.SymbolX), now, now,
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("append player", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, gameID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return unavailable("append player", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM users WHERE game_id = ?`, gameID)
	if err != nil {
		return unavailable("append player", err)
	}
	var linked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return unavailable("append player", err)
		}
		linked = append(linked, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, game_id, name, symbol, seat, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		player.ID, gameID, player.Name, string(player.Symbol), len(linked), toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrGameFull
		}
		return unavailable("append player", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE games SET updated_at = ? WHERE id = ?`, toMillis(time.Now()), gameID); err != nil {
		return unavailable("append player", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("append player", err)
	}
	return nil
}

func (s *Store) CheckpointBoard(ctx context.Context, gameID string, cp store.Checkpoint) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET board = ?, turn = ?, outcome = ?, updated_at = ? WHERE id = ?`,
		cp.Board.String(), string(cp.Turn), cp.Outcome.String(), toMillis(time.Now()), gameID,
	)
	if err != nil {
		return unavailable("checkpoint board", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("checkpoint board", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, gameID string, outcome models.Outcome) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET outcome = ?, scored = 1, updated_at = ? WHERE id = ? AND scored = 0`,
		outcome.String(), toMillis(time.Now()), gameID,
	)
	if err != nil {
		return false, unavailable("record outcome", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("record outcome", err)
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, gameID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, unavailable("record outcome", err)
	}
	return false, nil
}

func (s *Store) LoadGame(ctx context.Context, code string) (store.GameRecord, error) {
	return s.loadGame(ctx, `WHERE code = ?`, code)
}

func (s *Store) LoadGameByID(ctx context.Context, gameID string) (store.GameRecord, error) {
	return s.loadGame(ctx, `WHERE id = ?`, gameID)
}

func (s *Store) loadGame(ctx context.Context, where string, arg string) (store.GameRecord, error) {
	var (
		rec                  store.GameRecord
		board, turn, outcome string
		scored               int
		created, updated     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, board, turn, outcome, scored, created_at, updated_at FROM games `+where,
		arg,
	).Scan(&rec.ID, &rec.Code, &board, &turn, &outcome, &scored, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rec.Scored = scored != 0
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, symbol FROM users WHERE game_id = ? ORDER BY seat`, rec.ID)
	if err != nil {
		return store.GameRecord{}, unavailable("load players", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p      models.Player
			symbol string
		)
		if err := rows.Scan(&p.ID, &p.Name, &symbol); err != nil {
			return store.GameRecord{}, unavailable("load players", err)
		}
		p.Symbol = models.Symbol(symbol)
		rec.Players = append(rec.Players, p)
	}
	if err := rows.Err(); err != nil {
		return store.GameRecord{}, unavailable("load players", err)
	}
	return rec, nil
}

func (s *Store) IncrementScore(ctx context.Context, name string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (name, id, score, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET score = score + excluded.score, updated_at = excluded.updated_at`,
		name, uuid.NewString(), delta, toMillis(time.Now()),
	)
	if err != nil {
		return unavailable("increment score", err)
	}
	return nil
}

func (s *Store) Scores(ctx context.Context, names ...string) (map[string]int, error) {
	out := make(map[string]int, len(names))
	if len(names) == 0 {
		return out, nil
	}
	args := make([]any, len(names))
	for i, name := range names {
		out[name] = 0
		args[i] = name
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, score FROM scores WHERE name IN (`+placeholders+`)`, args...)
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
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, score FROM scores ORDER BY score DESC, name ASC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("top scores", err)
	}
	defer rows.Close()

	var entries []models.ScoreEntry
	for rows.Next() {
		var e models.ScoreEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Score); err != nil {
			return nil, unavailable("top scores", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("top scores", err)
	}
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

var _ store.Gateway = (*Store)(nil)
