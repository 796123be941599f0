// Package app wires the lockgate daemon: config, logging, the lock store, the session
// source, the gate, and the HTTP and websocket surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"lockgate/cmd/internal/api"
	"lockgate/cmd/internal/auth/session"
	"lockgate/cmd/internal/devicelock"
	"lockgate/cmd/internal/gate"
	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/internal/metrics"
	"lockgate/cmd/internal/realtime"
	"lockgate/cmd/security/pin"
)

// sessionSource is a session.Source the HTTP surface can bind to a session id.
type sessionSource interface {
	session.Source
	Adopt(ctx context.Context, sessionID string) error
}

// App is the lockgate runtime: it owns the store, the session source and the HTTP server.
type App struct {
	cfg Config
	log Logger

	closeStore func() error
	pool       *pgxpool.Pool
	pgSource   *session.PostgresSource

	gate     *gate.Gate
	hub      *realtime.Hub
	unfollow func()
	ws       *realtime.WSGateway
	api      *api.Handler
	metrics  *metrics.Metrics
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := pin.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("pin config: %w", err)
	}

	store, closeStore := openStore(cfg, log)

	a := &App{
		cfg:        cfg,
		log:        log,
		closeStore: closeStore,
		metrics:    metrics.New(),
	}

	source, err := a.newSessionSource(ctx)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	locker := devicelock.New(store, devicelock.Options{
		Hasher:      hasher,
		Logger:      log,
		IdleTimeout: cfg.LockIdleTimeout,
	})

	a.gate = gate.New(locker, source, gate.Options{
		Logger:        log,
		Observer:      a.metrics,
		PollInterval:  cfg.PollInterval,
		MaxAttempts:   cfg.PinMaxAttempts,
		AttemptWindow: cfg.PinAttemptWindow,
	})

	a.hub = realtime.NewHub(log, a.metrics.ConnectedRegions())
	a.unfollow = a.hub.Follow(a.gate)
	a.ws = realtime.NewWSGateway(log, a.hub, a.gate)

	a.api, err = api.NewHandler(log, a.gate, source.Adopt, api.LoadConfigFromEnv())
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// openStore opens the configured backend. A store that cannot be opened is replaced by
// lockstore.Unavailable: the gate then runs unlocked instead of refusing to start.
func openStore(cfg Config, log Logger) (lockstore.Store, func() error) {
	store, closeFn, err := lockstore.Open(cfg.Store, cfg.StorePath, log)
	if err != nil {
		log.Error("store.open.fail", "backend", cfg.Store, "path", cfg.StorePath, "err", err)
		return lockstore.Unavailable{Err: err}, func() error { return nil }
	}
	log.Info("store.open", "backend", cfg.Store, "path", cfg.StorePath)
	return store, closeFn
}

// newSessionSource decides between the Postgres-backed observer and the in-memory source.
func (a *App) newSessionSource(ctx context.Context) (sessionSource, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("session.source.memory")
		return session.NewMemorySource(false, a.log), nil
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	// app owns the pool; PostgresSource only borrows connections.
	a.pool = pool
	a.pgSource = session.NewPostgresSource(pool, sessCfg, a.log)
	a.log.Info("session.source.postgres", "channel", sessCfg.Channel)
	return a.pgSource, nil
}

// Gate returns the orchestrator.
func (a *App) Gate() *gate.Gate { return a.gate }

// Run serves HTTP and drives the gate (and the session listener) until ctx is canceled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	eg, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"http", base,
		"ws", wsBaseURL(base)+"/ws",
		"session_source", a.sourceName(),
	)

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	eg.Go(func() error { return a.gate.Run(gctx) })

	if a.pgSource != nil {
		eg.Go(func() error { return a.pgSource.Run(gctx) })
	}

	err = eg.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) sourceName() string {
	if a.pgSource != nil {
		return "postgres"
	}
	return "memory"
}

// close releases resources in reverse construction order. Safe to call more than once.
func (a *App) close() {
	if a.gate != nil {
		a.gate.Close()
	}
	if a.unfollow != nil {
		a.unfollow()
		a.unfollow = nil
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.closeStore = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
