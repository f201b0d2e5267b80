package server

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/server/config"
	"github.com/dmitrijs2005/motiumsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/motiumsync/internal/server/services"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	receipts, err := services.NewReceiptService(context.Background(), cfg)
	require.NoError(t, err)

	return &App{
		config:   cfg,
		logger:   logging.Nop(),
		db:       db,
		records:  services.NewRecordService(db, repomanager.NewPostgresRepositoryManager(), logging.Nop()),
		receipts: receipts,
	}, mock
}

func TestRun_StopsOnCancelAndClosesDB(t *testing.T) {
	app, mock := newTestApp(t)
	mock.ExpectClose()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ServerFailureStopsApp(t *testing.T) {
	app, mock := newTestApp(t)
	app.config.GRPCAddr = "127.0.0.1:99999"
	mock.ExpectClose()

	select {
	case err := <-runAsync(app):
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after the gRPC listener failed")
	}
}

func runAsync(app *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	return done
}
