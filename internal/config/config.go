// Package config loads server configuration from defaults, an optional YAML
// file and TTT_-prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TTT_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	HTTP  HTTPConfig  `yaml:"http" envPrefix:"HTTP_"`
	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	NATS  NATSConfig  `yaml:"nats" envPrefix:"NATS_"`
	Game  GameConfig  `yaml:"game" envPrefix:"GAME_"`
	Log   LogConfig   `yaml:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	AllowedOrigin   string        `yaml:"allowed_origin" env:"ALLOWED_ORIGIN"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	StaticDir       string        `yaml:"static_dir" env:"STATIC_DIR"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	MaxConns    int32  `yaml:"max_conns" env:"MAX_CONNS"`
}

// RedisConfig enables the leaderboard projection when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Key      string `yaml:"key" env:"KEY"`
}

// NATSConfig enables lifecycle events when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

type GameConfig struct {
	CodeLength      int           `yaml:"code_length" env:"CODE_LENGTH"`
	RoomIdleTTL     time.Duration `yaml:"room_idle_ttl" env:"ROOM_IDLE_TTL"`
	FinishedRoomTTL time.Duration `yaml:"finished_room_ttl" env:"FINISHED_ROOM_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	WinPoints       int           `yaml:"win_points" env:"WIN_POINTS"`
	DrawPoints      int           `yaml:"draw_points" env:"DRAW_POINTS"`
	LossPoints      int           `yaml:"loss_points" env:"LOSS_POINTS"`
	LeaderboardSize int           `yaml:"leaderboard_size" env:"LEADERBOARD_SIZE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "tiktakrooms.db",
			MaxConns:   10,
		},
		Redis: RedisConfig{Key: "tiktakrooms:leaderboard"},
		NATS:  NATSConfig{SubjectPrefix: "tiktakrooms"},
		Game: GameConfig{
			CodeLength:      6,
			RoomIdleTTL:     30 * time.Minute,
			FinishedRoomTTL: 5 * time.Minute,
			SweepInterval:   time.Minute,
			WinPoints:       1,
			LeaderboardSize: 10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if u, err := url.Parse(c.HTTP.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("http.base_url %q must be an absolute URL", c.HTTP.BaseURL))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be one of memory, sqlite, postgres", c.Store.Driver))
	}

	if c.Game.CodeLength < 4 || c.Game.CodeLength > 12 {
		errs = append(errs, fmt.Errorf("game.code_length %d must be between 4 and 12", c.Game.CodeLength))
	}
	if c.Game.RoomIdleTTL <= 0 || c.Game.FinishedRoomTTL <= 0 || c.Game.SweepInterval <= 0 {
		errs = append(errs, errors.New("game ttl and sweep durations must be positive"))
	}
	if c.Game.WinPoints < 0 || c.Game.DrawPoints < 0 || c.Game.LossPoints < 0 {
		errs = append(errs, errors.New("game points must not be negative"))
	}
	if c.Game.LeaderboardSize < 1 || c.Game.LeaderboardSize > 100 {
		errs = append(errs, fmt.Errorf("game.leaderboard_size %d must be between 1 and 100", c.Game.LeaderboardSize))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
