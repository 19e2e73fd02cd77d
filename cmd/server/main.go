package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tiktakrooms/internal/api"
	"tiktakrooms/internal/broadcast"
	"tiktakrooms/internal/config"
	"tiktakrooms/internal/events"
	"tiktakrooms/internal/game"
	"tiktakrooms/internal/htmx"
	"tiktakrooms/internal/leaderboard"
	"tiktakrooms/internal/logging"
	"tiktakrooms/internal/store"
	"tiktakrooms/internal/store/memory"
	"tiktakrooms/internal/store/postgres"
	"tiktakrooms/internal/store/sqlite"
	"tiktakrooms/internal/ws"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Initialize layers
	hub := broadcast.NewHub(logger)
	defer hub.Close()

	dir, err := game.NewDirectory(game.Options{
		Store:    gw,
		Listener: ws.NewNotifier(hub, cfg.HTTP.BaseURL, logger),
		Events:   publisher,
		Policy: &game.ScorePolicy{
			WinPoints:  cfg.Game.WinPoints,
			DrawPoints: cfg.Game.DrawPoints,
			LossPoints: cfg.Game.LossPoints,
		},
		Logger:        logger,
		CodeLength:    cfg.Game.CodeLength,
		IdleTTL:       cfg.Game.RoomIdleTTL,
		FinishedTTL:   cfg.Game.FinishedRoomTTL,
		SweepInterval: cfg.Game.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	svc := game.NewService(dir, gw, cfg.HTTP.BaseURL, cfg.Game.LeaderboardSize, logger)

	// Setup routes
	mux := http.NewServeMux()
	api.NewHandler(svc, logger).RegisterRoutes(mux)
	ws.NewHandler(dir, hub, cfg.HTTP.BaseURL, cfg.HTTP.AllowedOrigin, logger).RegisterRoutes(mux)
	htmx.NewHandler(dir, svc, logger).RegisterRoutes(mux)
	if cfg.HTTP.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.HTTP.StaticDir)))
	}

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.Recoverer(logger,
			api.LoggingMiddleware(logger,
				api.CORSMiddleware(cfg.HTTP.AllowedOrigin, mux))),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dir.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped", "live_rooms", dir.Len())
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Gateway, error) {
	var (
		gw  store.Gateway
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		gw, err = sqlite.Open(cfg.Store.SQLitePath)
	case config.DriverPostgres:
		gw, err = postgres.Open(ctx, cfg.Store.PostgresDSN, postgres.Options{MaxConns: cfg.Store.MaxConns}, logger)
	default:
		logger.Warn("using in-memory store; games are lost on restart")
		gw = memory.New()
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	if cfg.Redis.Addr == "" {
		return gw, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The projection falls back to the store, so a cold Redis is not fatal.
		logger.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}
	return leaderboard.New(gw, rdb, cfg.Redis.Key, logger), nil
}

func openPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.Discard{}, nil
	}
	pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return pub, nil
}
