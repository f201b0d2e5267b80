// Package pending persists the pending-operation queue. The table's primary
// key (entity_type, entity_id) enforces one outstanding operation per record;
// coalescing itself lives in the sync queue package.
package pending

import (
	"context"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

type Repository interface {
	// Get returns the queued operation or common.ErrorNotFound.
	Get(ctx context.Context, kind domain.EntityKind, id string) (*models.PendingOperation, error)

	// Put inserts or replaces the operation for (Kind, EntityID).
	Put(ctx context.Context, op *models.PendingOperation) error

	// Remove drops the operation regardless of its OpID.
	Remove(ctx context.Context, kind domain.EntityKind, id string) error

	// RemoveIfOp drops the operation only if it still carries opID.
	RemoveIfOp(ctx context.Context, kind domain.EntityKind, id, opID string) (bool, error)

	// DequeueBatch returns up to max dispatchable operations ordered by
	// priority desc, enqueued_at asc. Parked entries and entries still in
	// backoff at now are skipped. Entries are not removed.
	DequeueBatch(ctx context.Context, max int, now time.Time) ([]*models.PendingOperation, error)

	// RecordFailure increments attempts and stores the error and backoff
	// deadline, optionally parking the entry. Only the entry carrying opID
	// is touched.
	RecordFailure(ctx context.Context, kind domain.EntityKind, id, opID, lastError string, nextAttemptAt time.Time, park bool) (bool, error)

	// List returns every queued operation, in dequeue order.
	List(ctx context.Context) ([]*models.PendingOperation, error)
}
