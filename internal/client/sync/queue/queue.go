package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/pending"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/google/uuid"
)

// DefaultMaxAttempts is how many transient failures an operation survives
// before it is parked and its record marked FAILED.
const DefaultMaxAttempts = 8

// Queue is the durable pending-operation queue. Methods suffixed with Tx run
// on the caller's transaction so a record write and its enqueue commit
// together.
type Queue struct {
	db          *sql.DB
	clock       clock.Clock
	backoff     Backoff
	maxAttempts int
	newOpID     func() string
}

type Option func(*Queue)

func WithBackoff(b Backoff) Option {
	return func(q *Queue) { q.backoff = b }
}

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithOpIDs replaces the UUID generator; tests use it for stable ids.
func WithOpIDs(f func() string) Option {
	return func(q *Queue) { q.newOpID = f }
}

func New(db *sql.DB, c clock.Clock, opts ...Option) *Queue {
	q := &Queue{
		db:          db,
		clock:       c,
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		newOpID:     uuid.NewString,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// MaxAttempts returns the configured retry budget.
func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// EnqueueTx inserts or coalesces req on tx and returns the stored entry.
// It never touches the network.
func (q *Queue) EnqueueTx(ctx context.Context, tx dbx.DBTX, req Request) (*models.PendingOperation, error) {
	repo := pending.NewSQLiteRepository(tx)

	existing, err := repo.Get(ctx, req.Kind, req.EntityID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, common.WrapLocal("enqueue", err)
	}

	op, err := Coalesce(existing, req, q.clock.Now(), q.newOpID)
	if err != nil {
		return nil, err
	}
	if existing != nil && op.OpID == existing.OpID && op.Priority == existing.Priority {
		return existing, nil
	}
	if err := repo.Put(ctx, &op); err != nil {
		return nil, common.WrapLocal("enqueue", err)
	}
	return &op, nil
}

// Enqueue runs EnqueueTx in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, req Request) (*models.PendingOperation, error) {
	var op *models.PendingOperation
	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		op, err = q.EnqueueTx(ctx, tx, req)
		return err
	})
	return op, err
}

// DequeueBatch returns up to max operations ready to dispatch, ordered by
// priority desc then enqueue time asc. Entries stay queued until marked.
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]*models.PendingOperation, error) {
	ops, err := pending.NewSQLiteRepository(q.db).DequeueBatch(ctx, max, q.clock.Now())
	return ops, common.WrapLocal("dequeue", err)
}

// MarkSucceededTx removes the entry if it still carries opID. A false
// result means the record was re-enqueued while the write was in flight.
func (q *Queue) MarkSucceededTx(ctx context.Context, tx dbx.DBTX, kind domain.EntityKind, id, opID string) (bool, error) {
	ok, err := pending.NewSQLiteRepository(tx).RemoveIfOp(ctx, kind, id, opID)
	return ok, common.WrapLocal("mark succeeded", err)
}

// Failure describes what MarkFailedTx did with the entry.
type Failure struct {
	Removed       bool
	Parked        bool
	Attempts      int
	NextAttemptAt time.Time
	// Stale is set when the entry was replaced by a newer enqueue.
	Stale bool
}

// MarkFailedTx records a failed attempt. Permanent failures remove the
// entry; transient ones bump attempts, push the backoff deadline and park
// the entry once the retry budget is spent.
func (q *Queue) MarkFailedTx(ctx context.Context, tx dbx.DBTX, kind domain.EntityKind, id, opID string, cause error, permanent bool) (Failure, error) {
	repo := pending.NewSQLiteRepository(tx)

	if permanent {
		ok, err := repo.RemoveIfOp(ctx, kind, id, opID)
		if err != nil {
			return Failure{}, common.WrapLocal("mark failed", err)
		}
		return Failure{Removed: ok, Stale: !ok}, nil
	}

	op, err := repo.Get(ctx, kind, id)
	if errors.Is(err, common.ErrorNotFound) {
		return Failure{Stale: true}, nil
	}
	if err != nil {
		return Failure{}, common.WrapLocal("mark failed", err)
	}
	if op.OpID != opID {
		return Failure{Stale: true}, nil
	}

	attempts := op.Attempts + 1
	f := Failure{
		Attempts:      attempts,
		Parked:        attempts >= q.maxAttempts,
		NextAttemptAt: q.clock.Now().Add(q.backoff.Delay(attempts)),
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := repo.RecordFailure(ctx, kind, id, opID, msg, f.NextAttemptAt, f.Parked); err != nil {
		return Failure{}, common.WrapLocal("mark failed", err)
	}
	return f, nil
}

// RearmTx makes a parked or failed entry dispatchable again with a fresh
// attempt budget, creating it with action if it no longer exists.
func (q *Queue) RearmTx(ctx context.Context, tx dbx.DBTX, kind domain.EntityKind, id string, action models.Action, priority int) (*models.PendingOperation, error) {
	repo := pending.NewSQLiteRepository(tx)

	op, err := repo.Get(ctx, kind, id)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return q.EnqueueTx(ctx, tx, Request{Kind: kind, EntityID: id, Action: action, Priority: priority})
	case err != nil:
		return nil, common.WrapLocal("rearm", err)
	}

	op.Attempts = 0
	op.Parked = false
	op.NextAttemptAt = time.Time{}
	op.LastError = ""
	op.OpID = q.newOpID()
	if err := repo.Put(ctx, op); err != nil {
		return nil, common.WrapLocal("rearm", err)
	}
	return op, nil
}

// RemoveTx drops the entry for a record unconditionally (user discard).
func (q *Queue) RemoveTx(ctx context.Context, tx dbx.DBTX, kind domain.EntityKind, id string) error {
	return common.WrapLocal("remove", pending.NewSQLiteRepository(tx).Remove(ctx, kind, id))
}

// Get returns the queued entry for a record or common.ErrorNotFound.
func (q *Queue) Get(ctx context.Context, kind domain.EntityKind, id string) (*models.PendingOperation, error) {
	return pending.NewSQLiteRepository(q.db).Get(ctx, kind, id)
}

// List returns every queued entry in dequeue order.
func (q *Queue) List(ctx context.Context) ([]*models.PendingOperation, error) {
	ops, err := pending.NewSQLiteRepository(q.db).List(ctx)
	return ops, common.WrapLocal("list", err)
}
