// Package server wires the sync backend: Postgres storage, the gRPC record
// service, receipt presigning and the HTTP router, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/server/config"
	"github.com/dmitrijs2005/motiumsync/internal/server/httpapi"
	"github.com/dmitrijs2005/motiumsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/motiumsync/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/motiumsync/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	records  *services.RecordService
	receipts *services.ReceiptService
}

// NewApp connects to Postgres, applies migrations and builds the services.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewStdoutLogger(slog.LevelInfo)

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	receipts, err := services.NewReceiptService(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		records:  services.NewRecordService(db, rm, logger),
		receipts: receipts,
	}, nil
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

func (app *App) startGRPCServer(ctx context.Context) error {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.records, app.receipts, app.config.SecretKey)
	return s.Run(ctx)
}

func (app *App) startHTTPServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:    app.config.HTTPAddr,
		Handler: httpapi.NewRouter(app.records, app.config.SecretKey, app.logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
		defer cancel()
		app.logger.Info(ctx, "Stopping HTTP server...")
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until a signal arrives or a server fails, then closes the
// database.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := app.initSignalHandler(ctx)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.startGRPCServer(ctx) })
	if app.config.HTTPAddr != "" {
		g.Go(func() error { return app.startHTTPServer(ctx) })
	}

	err := g.Wait()
	if cerr := app.db.Close(); err == nil {
		err = cerr
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
	return err
}
