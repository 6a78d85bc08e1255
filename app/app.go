// Package app wires the configuration, logger, credential store, worker
// pool and engine into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/tinyweb/config"
	"github.com/searchktools/tinyweb/core"
	"github.com/searchktools/tinyweb/core/observability"
	"github.com/searchktools/tinyweb/core/pools"
	"github.com/searchktools/tinyweb/core/store"
)

// ShutdownTimeout bounds how long Run waits for in-flight requests
const ShutdownTimeout = 10 * time.Second

// App is the server instance
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	logClose io.Closer
	store    *store.CredentialStore
	workers  *pools.WorkerPool
	monitor  *observability.Monitor
	engine   *core.Engine
}

// New builds every component. On error the ones already built are released.
func New(cfg *config.Config) (*App, error) {
	log, logClose, err := observability.NewLogger(observability.LogOptions{
		Enabled:   cfg.OpenLog,
		Level:     cfg.LogLevel,
		QueueSize: cfg.LogQueueSize,
		Dir:       cfg.LogDir,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{cfg: cfg, log: log, logClose: logClose, monitor: observability.NewMonitor()}

	a.store, err = store.Open(store.Options{PoolSize: cfg.PoolSize, SnapshotPath: cfg.UserDB}, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	a.workers = pools.NewWorkerPool(cfg.Workers)
	a.engine, err = core.NewEngine(cfg.EngineOptions(), a.workers, a.store, a.monitor, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	log.Info().
		Int("workers", cfg.Workers).
		Int("poolSize", cfg.PoolSize).
		Bool("logEnabled", cfg.OpenLog).
		Int("logLevel", cfg.LogLevel).
		Int("logQueue", cfg.LogQueueSize).
		Msg("LogSys level, session pool num, worker pool num")
	return a, nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully and
// releases everything. It returns nil after a signal-driven shutdown.
func (a *App) Run() error {
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- a.engine.Run() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("Signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("shutdown did not complete")
		return err
	}
	if err := <-errc; !errors.Is(err, core.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the components in reverse order of creation. The engine
// must have stopped or never run.
func (a *App) Close() {
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		a.engine.Shutdown(ctx)
		cancel()
		a.log.Info().Str("stats", a.engine.StatsText()).Msg("engine statistics")
		a.log.Info().Str("report", a.monitor.Report()).Msg("request metrics")
		a.engine = nil
	}
	if a.workers != nil {
		a.workers.Close()
		a.workers = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.logClose != nil {
		if err := a.logClose.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close logger:", err)
		}
		a.logClose = nil
	}
}
