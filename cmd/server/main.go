package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/roomrelay/roomrelay/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)

	app := server.NewApp(cfg,
		server.NewRedisBackplane(rdb),
		server.NewRedisPresence(rdb, cfg.PresenceTTL, logger),
		logger,
	)

	httpServer := server.CreateServer(cfg.Port, app.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Port)
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	app.Shutdown()
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close", "error", err)
	}
	logger.Info("server stopped")
}
