package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/google/uuid"
)

const (
	MaxNameLength          = 20
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// GameView is the client-facing shape of a room.
type GameView struct {
	GameID        string          `json:"gameId"`
	GameCode      string          `json:"gameCode"`
	GameURL       string          `json:"gameUrl"`
	State         string          `json:"state"`
	Status        models.Status   `json:"status"`
	Users         []models.Player `json:"users"`
	CurrentPlayer models.Symbol   `json:"currentPlayer"`
	Winner        *string         `json:"winner"`
}

// View renders a snapshot for clients. baseURL prefixes the shareable link.
func (s Snapshot) View(baseURL string) GameView {
	v := GameView{
		GameID:        s.GameID,
		GameCode:      s.Code,
		GameURL:       strings.TrimRight(baseURL, "/") + "/game/" + s.Code,
		State:         s.Board.String(),
		Status:        s.Status,
		Users:         append([]models.Player{}, s.Players...),
		CurrentPlayer: s.Turn,
	}
	if s.Outcome.Terminal() {
		w := s.Outcome.String()
		v.Winner = &w
	}
	return v
}

// User identifies the caller of an onboarding request.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is returned by Start and Join.
type Session struct {
	User User     `json:"user"`
	Game GameView `json:"game"`
}

// ScoredPlayer is a member of a game with their cumulative score.
type ScoredPlayer struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Symbol models.Symbol `json:"symbol"`
	Score  int           `json:"score"`
}

// ScoreCard is the result of a score lookup for one game.
type ScoreCard struct {
	GameID   string         `json:"gameId"`
	GameCode string         `json:"gameCode"`
	State    string         `json:"state"`
	Winner   *string        `json:"winner"`
	Users    []ScoredPlayer `json:"users"`
}

// Service handles onboarding: creating and joining games before a client
// opens its realtime session, plus the read-side lookups.
type Service struct {
	dir             *Directory
	store           store.Gateway
	baseURL         string
	leaderboardSize int
	logger          *slog.Logger
}

// NewService creates a new onboarding service
func NewService(dir *Directory, gw store.Gateway, baseURL string, leaderboardSize int, logger *slog.Logger) *Service {
	if leaderboardSize <= 0 {
		leaderboardSize = DefaultLeaderboardSize
	}
	return &Service{
		dir:             dir,
		store:           gw,
		baseURL:         baseURL,
		leaderboardSize: leaderboardSize,
		logger:          logger,
	}
}

// BaseURL is the prefix used for shareable game links.
func (s *Service) BaseURL() string { return s.baseURL }

// ValidateName trims name and checks its length in characters.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// Start creates a game and seats the caller as X.
func (s *Service) Start(ctx context.Context, name string) (Session, error) {
	name, err := ValidateName(name)
	if err != nil {
		return Session{}, err
	}
	room, err := s.dir.Create(ctx)
	if err != nil {
		return Session{}, err
	}
	return s.seat(ctx, room.Code(), name)
}

// Join seats the caller in an existing game as O.
func (s *Service) Join(ctx context.Context, name, code string) (Session, error) {
	name, err := ValidateName(name)
	if err != nil {
		return Session{}, err
	}
	if !s.dir.ValidCode(code) {
		return Session{}, ErrInvalidCode
	}
	return s.seat(ctx, code, name)
}

func (s *Service) seat(ctx context.Context, code, name string) (Session, error) {
	id := uuid.NewString()
	room, player, _, err := s.dir.Join(ctx, code, id, name)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User: User{ID: player.ID, Name: player.Name},
		Game: room.Snapshot().View(s.baseURL),
	}, nil
}

// Score returns the board, winner and cumulative scores for one game. Live
// rooms are preferred over the stored record.
func (s *Service) Score(ctx context.Context, gameID string) (ScoreCard, error) {
	rec, err := s.store.LoadGameByID(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ScoreCard{}, ErrRoomNotFound
		}
		return ScoreCard{}, fmt.Errorf("load game %s: %w", gameID, err)
	}
	snap := Hydrate(rec)
	if room, ok := s.dir.Lookup(rec.Code); ok {
		snap = room.Snapshot()
	}

	names := make([]string, len(snap.Players))
	for i, p := range snap.Players {
		names[i] = p.Name
	}
	scores, err := s.store.Scores(ctx, names...)
	if err != nil {
		return ScoreCard{}, fmt.Errorf("load scores: %w", err)
	}

	view := snap.View(s.baseURL)
	card := ScoreCard{
		GameID:   snap.GameID,
		GameCode: snap.Code,
		State:    view.State,
		Winner:   view.Winner,
		Users:    make([]ScoredPlayer, len(snap.Players)),
	}
	for i, p := range snap.Players {
		card.Users[i] = ScoredPlayer{ID: p.ID, Name: p.Name, Symbol: p.Symbol, Score: scores[p.Name]}
	}
	return card, nil
}

// Leaderboard returns the top players. Non-positive limits use the
// configured size; limits are capped at MaxLeaderboardSize.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]models.ScoreEntry, error) {
	if limit <= 0 {
		limit = s.leaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	entries, err := s.store.TopScores(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	if entries == nil {
		entries = []models.ScoreEntry{}
	}
	return entries, nil
}

// Health checks store connectivity.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// LiveRooms reports how many rooms are held in memory.
func (s *Service) LiveRooms() int { return s.dir.Len() }
