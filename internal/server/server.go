package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// App bundles the shared clients and core components so that handlers,
// sessions, and the supervisor reach them without package-level state.
type App struct {
	cfg        Config
	logger     *slog.Logger
	registry   *Registry
	supervisor *Supervisor
	backplane  Backplane
	presence   Presence
}

// NewApp wires the registry and supervisor around the given backplane and
// presence store. The configuration is sanitized here, so callers may pass
// partially filled structs.
func NewApp(cfg Config, backplane Backplane, presence Presence, logger *slog.Logger) *App {
	cfg = cfg.sanitize()
	registry := NewRegistry(logger)
	return &App{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		supervisor: NewSupervisor(registry, backplane, logger),
		backplane:  backplane,
		presence:   presence,
	}
}

// Shutdown force-closes every connection so sessions drain, then tears
// down all backplane subscriptions unconditionally. It returns once every
// subscriber task has terminated.
func (a *App) Shutdown() {
	a.logger.Info("shutting down relay core")
	a.registry.CloseAll()
	a.supervisor.CancelAll()
}

// CreateServer creates and configures an HTTP server with the specified
// port and handler. It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for
// connections. It returns an error if the server fails to start.
func StartServer(server *http.Server) error {
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without
// interrupting active connections, waiting until the timeout is reached.
// Hijacked WebSocket connections are not waited on here; App.Shutdown
// closes them.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
