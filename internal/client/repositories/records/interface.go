// Package records is the Record Store: one SQLite table per entity kind,
// each row carrying the entity payload and its sync metadata.
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Repository describes keyed access and ordered scans over local records.
// Implementations are bound to a dbx.DBTX so the same code runs inside or
// outside a transaction.
type Repository interface {
	// Get returns the record or common.ErrorNotFound.
	Get(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error)

	// Put inserts or fully replaces a record.
	Put(ctx context.Context, rec *models.LocalRecord) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, kind domain.EntityKind, id string) error

	// ScanByStatus lists records of kind in any of statuses, oldest local
	// change first. No statuses means all records.
	ScanByStatus(ctx context.Context, kind domain.EntityKind, statuses ...models.SyncStatus) ([]*models.LocalRecord, error)

	// MarkSynced flips the record to SYNCED only if its local_updated_at still
	// equals sentAt, i.e. no local edit happened while the write was in
	// flight. It reports whether the row was updated.
	MarkSynced(ctx context.Context, kind domain.EntityKind, id string, sentAt time.Time, version int64, serverUpdatedAt time.Time) (bool, error)

	// StampVersion records a remote-confirmed version without touching the
	// payload or status.
	StampVersion(ctx context.Context, kind domain.EntityKind, id string, version int64, serverUpdatedAt time.Time) error

	// SetStatus changes status and the user-facing error fields.
	SetStatus(ctx context.Context, kind domain.EntityKind, id string, status models.SyncStatus, lastError string, retryAction models.Action) error

	// DeleteIfUnchanged removes the record only if local_updated_at == sentAt.
	DeleteIfUnchanged(ctx context.Context, kind domain.EntityKind, id string, sentAt time.Time) (bool, error)
}
