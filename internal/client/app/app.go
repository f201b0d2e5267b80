// Package app wires the client together: local store, remote gateway,
// sync core and entity services. It also turns connectivity changes and
// timers into drain triggers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/config"
	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/services"
	"github.com/dmitrijs2005/motiumsync/internal/client/storage"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/drain"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
)

type Mode string

const (
	ModeUnknown Mode = ""
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const pingTimeout = 3 * time.Second

type App struct {
	cfg      *config.Config
	gateway  gateway.Gateway
	Core     *core.Core
	Services *services.Services
	logger   logging.Logger
	closers  []io.Closer

	mu     sync.Mutex
	mode   Mode
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the local store and connects the gRPC gateway described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, logCloser := newLogger(cfg)

	db, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, fmt.Errorf("open local store: %w", err)
	}

	gw, err := gateway.NewGRPCGateway(cfg.ServerAddr, cfg.AccessToken, gateway.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		_ = db.Close()
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}

	a := NewWithDeps(cfg, db, gw, clock.NewMonotonic(), logger)
	a.closers = append(a.closers, gw, db)
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}
	return a, nil
}

// NewWithDeps assembles an App from ready components. The caller keeps
// ownership of db and gw.
func NewWithDeps(cfg *config.Config, db *sql.DB, gw gateway.Gateway, c clock.Clock, logger logging.Logger) *App {
	sc := core.New(db, gw, c, logger, core.Config{
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      queue.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		DrainOnWrite: cfg.DrainOnWrite,
	})
	return &App{
		cfg:      cfg,
		gateway:  gw,
		Core:     sc,
		Services: services.New(sc, &http.Client{Timeout: cfg.RequestTimeout}),
		logger:   logger.With("module", "app"),
	}
}

func newLogger(cfg *config.Config) (logging.Logger, io.Closer) {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return logging.NewStdoutLogger(level), nil
	}
	return logging.NewFileLogger(logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}, level)
}

// Logger is the app's logger.
func (a *App) Logger() logging.Logger {
	return a.logger
}

// Start launches the sync core, the connectivity watcher and the
// periodic timer.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return nil
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.Core.Init(ctx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchConnectivity(bg, a.cfg.OnlineCheckInterval)
	}()
	if a.cfg.PeriodicInterval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.periodic(bg, a.cfg.PeriodicInterval)
		}()
	}
	return nil
}

// Run starts the app and blocks until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Close(sctx)
}

// Foreground reports that the user brought the app to the foreground.
func (a *App) Foreground() {
	a.Core.Trigger(drain.TriggerForeground)
}

// Mode is the last observed connectivity state.
func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// setMode records m and reports whether it is a change to online.
func (a *App) setMode(ctx context.Context, m Mode) bool {
	a.mu.Lock()
	prev := a.mode
	a.mode = m
	a.mu.Unlock()

	if prev == m {
		return false
	}
	a.logger.Info(ctx, "connectivity changed", "from", prev, "to", m)
	return m == ModeOnline && prev == ModeOffline
}

// checkConnectivity pings the server once and triggers a drain when the
// connection comes back.
func (a *App) checkConnectivity(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.gateway.Ping(pctx)
	cancel()

	mode := ModeOnline
	if err != nil {
		mode = ModeOffline
	}
	if a.setMode(ctx, mode) {
		a.Core.Trigger(drain.TriggerConnectivity)
	}
}

func (a *App) watchConnectivity(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.checkConnectivity(ctx)
	for {
		select {
		case <-ticker.C:
			a.checkConnectivity(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) periodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick applies due license unlinks and requests a drain.
func (a *App) tick(ctx context.Context) {
	if n, err := a.Services.Licenses.ApplyDueUnlinks(ctx); err != nil {
		a.logger.Error(ctx, "failed to apply due license unlinks", "error", err)
	} else if n > 0 {
		a.logger.Info(ctx, "license unlinks applied", "count", n)
	}
	a.Core.Trigger(drain.TriggerTimer)
}

// Close stops the background loops and the sync core, then releases the
// store, the gateway and the log file.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	errs := []error{a.Core.Shutdown(ctx)}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
