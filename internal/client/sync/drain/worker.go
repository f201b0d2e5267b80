// Package drain moves queued operations to the remote.
//
// One Worker runs per device session. Triggers from connectivity changes,
// the app coming to the foreground, a timer or the user are posted to a
// one-slot channel read by a single consumer, so any number of triggers
// during a cycle collapse into exactly one follow-up cycle.
package drain

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Trigger names why a cycle started.
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerConnectivity Trigger = "connectivity"
	TriggerForeground   Trigger = "foreground"
	TriggerTimer        Trigger = "timer"
	TriggerUser         Trigger = "user"
	TriggerLocalWrite   Trigger = "local_write"
)

const (
	DefaultBatchSize   = 20
	DefaultConcurrency = 4
)

// Notifier receives status changes after they are committed.
type Notifier interface {
	Publish(key models.Key, status models.SyncStatus)
}

type nopNotifier struct{}

func (nopNotifier) Publish(models.Key, models.SyncStatus) {}

var errOffline = errors.New("connectivity lost")

type Worker struct {
	db       *sql.DB
	queue    *queue.Queue
	gateway  gateway.Gateway
	resolver *conflict.Resolver
	clock    clock.Clock
	logger   logging.Logger
	notifier Notifier

	batchSize   int
	concurrency int

	triggers chan Trigger
	draining atomic.Bool

	mu   sync.Mutex
	last Report
}

type Option func(*Worker)

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func New(db *sql.DB, q *queue.Queue, gw gateway.Gateway, r *conflict.Resolver, c clock.Clock, l logging.Logger, opts ...Option) *Worker {
	w := &Worker{
		db:          db,
		queue:       q,
		gateway:     gw,
		resolver:    r,
		clock:       c,
		logger:      l.With("module", "drain"),
		notifier:    nopNotifier{},
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		triggers:    make(chan Trigger, 1),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Trigger asks for a cycle. It never blocks; if a request is already
// pending the new one is dropped.
func (w *Worker) Trigger(t Trigger) {
	select {
	case w.triggers <- t:
	default:
	}
}

// Draining reports whether a cycle is in progress.
func (w *Worker) Draining() bool {
	return w.draining.Load()
}

// LastReport returns the report of the most recent finished cycle.
func (w *Worker) LastReport() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run consumes triggers until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "drain worker started")
	defer w.logger.Info(ctx, "drain worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-w.triggers:
			if _, err := w.RunOnce(ctx, t); err != nil && !errors.Is(err, common.ErrDrainInProgress) {
				w.logger.Error(ctx, "drain cycle failed", "trigger", t, "error", err)
			}
		}
	}
}

// RunOnce drains the queue until it is empty, every ready entry has been
// tried once, connectivity is lost or ctx is cancelled. It returns
// common.ErrDrainInProgress if another cycle is running.
func (w *Worker) RunOnce(ctx context.Context, t Trigger) (Report, error) {
	if !w.draining.CompareAndSwap(false, true) {
		return Report{}, common.ErrDrainInProgress
	}
	defer w.draining.Store(false)

	start := w.clock.Now()
	report := Report{Trigger: t}
	seen := make(map[models.Key]struct{})

	var cycleErr error
	for {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}

		// over-fetch by len(seen) so entries retried in this cycle cannot
		// starve the rest of the queue
		ops, err := w.queue.DequeueBatch(ctx, w.batchSize+len(seen))
		if err != nil {
			cycleErr = err
			break
		}
		fresh := make([]*models.PendingOperation, 0, w.batchSize)
		for _, op := range ops {
			if _, ok := seen[op.Key()]; ok {
				continue
			}
			seen[op.Key()] = struct{}{}
			fresh = append(fresh, op)
			if len(fresh) == w.batchSize {
				break
			}
		}
		if len(fresh) == 0 {
			break
		}

		if offline := w.dispatch(ctx, fresh, &report); offline {
			report.Aborted = true
			report.Offline = true
			break
		}
	}

	report.Duration = w.clock.Now().Sub(start)
	if !report.Aborted && cycleErr == nil {
		lctx := context.WithoutCancel(ctx)
		if err := metadata.NewSQLiteRepository(w.db).SetLastDrain(lctx, w.clock.Now()); err != nil {
			w.logger.Warn(lctx, "failed to store last drain time", "error", err)
		}
	}

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	w.logger.Info(ctx, "drain cycle finished", report.LogArgs()...)
	return report, cycleErr
}

// dispatch runs ops with bounded concurrency. Operations in one batch are
// unique per record, so a record is never in flight twice. It reports
// whether the batch was cut short by lost connectivity.
func (w *Worker) dispatch(ctx context.Context, ops []*models.PendingOperation, report *Report) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	var mu sync.Mutex
	for _, op := range ops {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, conflicted := w.process(gctx, op)

			mu.Lock()
			report.add(out, conflicted)
			mu.Unlock()

			if out == outcomeOffline {
				return errOffline
			}
			return nil
		})
	}
	return errors.Is(g.Wait(), errOffline)
}
