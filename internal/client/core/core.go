// Package core is the offline-first sync core as seen by entity services:
// atomic local writes with enqueue, pending-record queries, status
// observation and on-demand drains. It owns the drain worker's lifecycle.
package core

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/drain"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
)

// Config tunes the queue and the drain worker. Zero values take defaults.
type Config struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	Backoff     queue.Backoff
	// DrainOnWrite posts a drain trigger after every committed local write.
	DrainOnWrite bool
}

type Core struct {
	db       *sql.DB
	clock    clock.Clock
	gateway  gateway.Gateway
	queue    *queue.Queue
	resolver *conflict.Resolver
	worker   *drain.Worker
	hub      *Hub
	logger   logging.Logger
	cfg      Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(db *sql.DB, gw gateway.Gateway, c clock.Clock, l logging.Logger, cfg Config) *Core {
	var qopts []queue.Option
	if cfg.Backoff.Base > 0 {
		qopts = append(qopts, queue.WithBackoff(cfg.Backoff))
	}
	qopts = append(qopts, queue.WithMaxAttempts(cfg.MaxAttempts))

	core := &Core{
		db:       db,
		clock:    c,
		gateway:  gw,
		queue:    queue.New(db, c, qopts...),
		resolver: conflict.New(),
		hub:      NewHub(),
		logger:   l.With("module", "core"),
		cfg:      cfg,
	}
	core.worker = drain.New(db, core.queue, gw, core.resolver, c, l,
		drain.WithBatchSize(cfg.BatchSize),
		drain.WithConcurrency(cfg.Concurrency),
		drain.WithNotifier(core.hub),
	)
	return core
}

// Resolver is where entity services register their conflict overrides.
// Register before Init.
func (c *Core) Resolver() *conflict.Resolver { return c.resolver }

// Gateway exposes the remote for services that need more than queued
// writes (receipt uploads).
func (c *Core) Gateway() gateway.Gateway { return c.gateway }

func (c *Core) Clock() clock.Clock { return c.clock }

// Init re-enqueues orphaned records, starts the drain worker and requests a
// first cycle.
func (c *Core) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	deviceID, err := metadata.NewSQLiteRepository(c.db).DeviceID(ctx)
	if err != nil {
		return err
	}
	if _, err := c.worker.Recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true

	go func() {
		defer close(c.done)
		_ = c.worker.Run(runCtx)
	}()
	c.worker.Trigger(drain.TriggerStartup)
	c.logger.Info(ctx, "sync core started", "device_id", deviceID)
	return nil
}

// Shutdown cancels any running cycle and waits for the worker to exit or
// ctx to expire. Remote answers already received are committed first.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		c.hub.Close()
		return nil
	}
	c.started = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	defer c.hub.Close()
	select {
	case <-done:
		c.logger.Info(ctx, "sync core stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger forwards an external event (connectivity, foreground, timer).
func (c *Core) Trigger(t drain.Trigger) {
	c.worker.Trigger(t)
}

// ForceDrainNow runs a cycle on the caller's goroutine. If one is already
// running a follow-up cycle is requested and common.ErrDrainInProgress is
// returned.
func (c *Core) ForceDrainNow(ctx context.Context) (drain.Report, error) {
	r, err := c.worker.RunOnce(ctx, drain.TriggerUser)
	if errors.Is(err, common.ErrDrainInProgress) {
		c.worker.Trigger(drain.TriggerUser)
	}
	return r, err
}

// LastReport is the summary of the most recent cycle.
func (c *Core) LastReport() drain.Report {
	return c.worker.LastReport()
}

// Draining reports whether a cycle is in progress.
func (c *Core) Draining() bool {
	return c.worker.Draining()
}

// QueueOperation writes a local change and enqueues it in one transaction.
// payload is the diff for CREATE/UPDATE and ignored for DELETE.
func (c *Core) QueueOperation(ctx context.Context, kind domain.EntityKind, id string, action models.Action, payload []byte, priority int) (*models.LocalRecord, error) {
	var rec *models.LocalRecord
	err := c.Update(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		rec, err = tx.QueueOperation(ctx, kind, id, action, payload, priority)
		return err
	})
	return rec, err
}

// Update runs fn in one local transaction. Status changes are published and
// a drain is requested only after it commits.
func (c *Core) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	tx := &Tx{core: c}
	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, db dbx.DBTX) error {
		tx.db = db
		return fn(ctx, tx)
	})
	if err != nil {
		return err
	}
	for _, ch := range tx.changes {
		c.hub.Publish(ch.key, ch.status)
	}
	if len(tx.changes) > 0 && c.cfg.DrainOnWrite {
		c.worker.Trigger(drain.TriggerLocalWrite)
	}
	return nil
}

// Get returns the local record.
func (c *Core) Get(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error) {
	return records.NewSQLiteRepository(c.db).Get(ctx, kind, id)
}

// List returns all local records of kind, oldest change first.
func (c *Core) List(ctx context.Context, kind domain.EntityKind) ([]*models.LocalRecord, error) {
	return records.NewSQLiteRepository(c.db).ScanByStatus(ctx, kind)
}

// GetPendingSync lists records of kind the remote has not confirmed yet,
// including FAILED ones awaiting the user.
func (c *Core) GetPendingSync(ctx context.Context, kind domain.EntityKind) ([]*models.LocalRecord, error) {
	if !kind.Valid() {
		return nil, common.ErrUnknownKind
	}
	return records.NewSQLiteRepository(c.db).ScanByStatus(ctx, kind,
		models.StatusPendingUpload, models.StatusPendingDelete, models.StatusConflict, models.StatusFailed)
}

// PendingOperations lists the queue in dequeue order.
func (c *Core) PendingOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	return c.queue.List(ctx)
}

// ObserveSyncStatus streams the status of one record: its current status
// first, then every committed change. The channel closes when ctx is done
// or the core shuts down. A record that does not exist yet starts with no
// initial value.
func (c *Core) ObserveSyncStatus(ctx context.Context, kind domain.EntityKind, id string) (<-chan models.SyncStatus, error) {
	if !kind.Valid() {
		return nil, common.ErrUnknownKind
	}
	key := models.Key{Kind: kind, ID: id}
	ch, stop := c.hub.subscribe(key)

	rec, err := c.Get(ctx, kind, id)
	switch {
	case err == nil:
		c.hub.seed(key, ch, rec.Status)
	case !errors.Is(err, common.ErrorNotFound):
		stop()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.hub.done:
		}
		stop()
	}()
	return ch, nil
}
