package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tiktakrooms/internal/events"
	"tiktakrooms/internal/models"
	"tiktakrooms/internal/store"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"golang.org/x/sync/singleflight"
)

// CodeAlphabet is the set of characters game codes are drawn from. It leaves
// out characters that are easy to misread, such as 0/O and 1/I.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength  = 6
	DefaultIdleTTL     = 30 * time.Minute
	DefaultFinishedTTL = 5 * time.Minute
	DefaultSweepEvery  = time.Minute

	createAttempts = 5
	resolveRetries = 3
)

// Options configures a Directory. Zero values fall back to defaults.
type Options struct {
	Store    store.Gateway
	Listener Listener
	Events   events.Publisher
	// Policy scores finished games. Nil means DefaultScorePolicy.
	Policy   *ScorePolicy
	Logger   *slog.Logger

	CodeLength    int
	IdleTTL       time.Duration
	FinishedTTL   time.Duration
	SweepInterval time.Duration

	// Now is used for activity tracking. Tests override it.
	Now func() time.Time
}

// Directory maps game codes to live rooms. Rooms missing from memory are
// hydrated from the store on first contact.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	hydrating  singleflight.Group
	deps       *roomDeps
	newCode    func() string
	codeLength int

	idleTTL       time.Duration
	finishedTTL   time.Duration
	sweepInterval time.Duration
}

// NewDirectory creates an empty directory.
func NewDirectory(opts Options) (*Directory, error) {
	if opts.Store == nil {
		return nil, errors.New("directory requires a store")
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	policy := DefaultScorePolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = DefaultCodeLength
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.FinishedTTL <= 0 {
		opts.FinishedTTL = DefaultFinishedTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepEvery
	}

	gen, err := nanoid.CustomASCII(CodeAlphabet, opts.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("code generator: %w", err)
	}

	return &Directory{
		rooms: make(map[string]*Room),
		deps: &roomDeps{
			store:    opts.Store,
			listener: opts.Listener,
			events:   opts.Events,
			policy:   policy,
			logger:   opts.Logger,
			now:      opts.Now,
		},
		newCode:       gen,
		codeLength:    opts.CodeLength,
		idleTTL:       opts.IdleTTL,
		finishedTTL:   opts.FinishedTTL,
		sweepInterval: opts.SweepInterval,
	}, nil
}

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code, once normalized, has the shape of a code
// this directory hands out.
func (d *Directory) ValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != d.codeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return false
		}
	}
	return true
}

// Create registers a new, empty game in the store and in memory.
func (d *Directory) Create(ctx context.Context) (*Room, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		id := uuid.NewString()
		code := d.newCode()

		err := d.deps.store.CreateGame(ctx, id, code, models.Board{})
		if errors.Is(err, store.ErrDuplicateCode) {
			d.deps.logger.Debug("game code collision, retrying", "code", code, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create game: %w", err)
		}

		room := newRoom(Snapshot{GameID: id, Code: code, Turn: models.SymbolX}, d.deps)
		d.mu.Lock()
		d.rooms[code] = room
		d.mu.Unlock()

		d.deps.logger.Info("game created", "code", code, "game_id", id)
		room.publish(ctx, events.Event{Type: events.GameCreated, GameID: id, Code: code})
		return room, nil
	}
	return nil, fmt.Errorf("create game: %w after %d attempts", store.ErrDuplicateCode, createAttempts)
}

// Lookup returns the live room for code without touching the store.
func (d *Directory) Lookup(code string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[NormalizeCode(code)]
	return room, ok
}

// GetOrCreate returns the live room for code, hydrating it from the store if
// needed. Concurrent callers for the same code share one load. Codes never
// registered through onboarding yield ErrRoomNotFound.
func (d *Directory) GetOrCreate(ctx context.Context, code string) (*Room, error) {
	code = NormalizeCode(code)
	if room, ok := d.Lookup(code); ok {
		return room, nil
	}

	v, err, _ := d.hydrating.Do(code, func() (any, error) {
		if room, ok := d.Lookup(code); ok {
			return room, nil
		}
		rec, err := d.deps.store.LoadGame(ctx, code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRoomNotFound
			}
			return nil, fmt.Errorf("load game %s: %w", code, err)
		}

		room := newRoom(Hydrate(rec), d.deps)
		d.mu.Lock()
		if live, ok := d.rooms[code]; ok {
			d.mu.Unlock()
			return live, nil
		}
		d.rooms[code] = room
		d.mu.Unlock()

		snap := room.Snapshot()
		d.deps.logger.Info("room hydrated",
			"code", code, "game_id", snap.GameID, "players", len(snap.Players), "board", snap.Board.String())
		if snap.Outcome.Terminal() && !rec.Scored {
			room.settle(ctx, &snap)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Join seats a player in the room for code, resolving the room again if it
// was evicted mid-call.
func (d *Directory) Join(ctx context.Context, code, playerID, name string) (*Room, models.Player, bool, error) {
	for i := 0; ; i++ {
		room, err := d.GetOrCreate(ctx, code)
		if err != nil {
			return nil, models.Player{}, false, err
		}
		p, added, err := room.AddPlayer(ctx, playerID, name)
		if errors.Is(err, errRetired) && i < resolveRetries {
			continue
		}
		if errors.Is(err, errRetired) {
			err = ErrRoomNotFound
		}
		return room, p, added, err
	}
}

// Move applies a move in the room for code, resolving the room again if it
// was evicted mid-call.
func (d *Directory) Move(ctx context.Context, code string, position int, playerID string) (MoveResult, error) {
	for i := 0; ; i++ {
		room, err := d.GetOrCreate(ctx, code)
		if err != nil {
			return MoveResult{}, err
		}
		res, err := room.AttemptMove(ctx, position, playerID)
		if errors.Is(err, errRetired) && i < resolveRetries {
			continue
		}
		if errors.Is(err, errRetired) {
			err = ErrRoomNotFound
		}
		return res, err
	}
}

// Evict drops the live room for code. The next contact rehydrates it.
func (d *Directory) Evict(code string) bool {
	code = NormalizeCode(code)
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[code]
	if !ok || !room.retire() {
		return false
	}
	delete(d.rooms, code)
	return true
}

// Sweep evicts rooms idle for longer than their TTL and returns how many were
// removed. Finished rooms use the shorter finished TTL.
func (d *Directory) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for code, room := range d.rooms {
		ttl := d.idleTTL
		if room.Snapshot().Status == models.StatusFinished {
			ttl = d.finishedTTL
		}
		if now.Sub(room.idleSince()) < ttl {
			continue
		}
		if !room.retire() {
			continue
		}
		delete(d.rooms, code)
		evicted++
	}
	return evicted
}

// Run sweeps idle rooms until ctx is cancelled.
func (d *Directory) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.deps.logger.Info("room sweeper started",
		"interval", d.sweepInterval, "idle_ttl", d.idleTTL, "finished_ttl", d.finishedTTL)
	for {
		select {
		case <-ctx.Done():
			d.deps.logger.Info("room sweeper stopped", "live_rooms", d.Len())
			return nil
		case <-ticker.C:
			if n := d.Sweep(d.deps.now()); n > 0 {
				d.deps.logger.Info("evicted idle rooms", "count", n, "live_rooms", d.Len())
			}
		}
	}
}

// Len returns the number of live rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
