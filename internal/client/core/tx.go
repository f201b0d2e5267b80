package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

type change struct {
	key    models.Key
	status models.SyncStatus
}

// Tx is one local unit of work. Reads see the transaction's own writes.
// A Tx must not be used after the Update callback returns.
type Tx struct {
	core    *Core
	db      dbx.DBTX
	changes []change
}

func (t *Tx) records() *records.SQLiteRepository {
	return records.NewSQLiteRepository(t.db)
}

func (t *Tx) Get(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error) {
	return t.records().Get(ctx, kind, id)
}

// Scan lists records of kind in any of statuses (all if none).
func (t *Tx) Scan(ctx context.Context, kind domain.EntityKind, statuses ...models.SyncStatus) ([]*models.LocalRecord, error) {
	return t.records().ScanByStatus(ctx, kind, statuses...)
}

// QueueOperation applies a local change to the record and enqueues it.
//
// CREATE on a record the remote has already confirmed becomes an UPDATE.
// UPDATE and DELETE need an existing record. The merged payload must pass
// the kind's validator, so obviously invalid data never reaches the queue.
func (t *Tx) QueueOperation(ctx context.Context, kind domain.EntityKind, id string, action models.Action, payload []byte, priority int) (*models.LocalRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownKind, kind)
	}
	if _, err := models.ParseAction(string(action)); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &common.ValidationError{Field: "id", Reason: "must not be empty"}
	}

	rec, err := t.Get(ctx, kind, id)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		if action != models.ActionCreate {
			return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrorNotFound)
		}
		rec = &models.LocalRecord{Kind: kind, ID: id, Status: models.StatusNew}
	case err != nil:
		return nil, common.WrapLocal("queue operation", err)
	case action == models.ActionCreate && rec.EverSynced():
		action = models.ActionUpdate
	}

	from := rec.Status
	to := models.StatusPendingUpload
	if action == models.ActionDelete {
		to = models.StatusPendingDelete
	} else {
		merged, err := domain.MergePayload(rec.Payload, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		if err := domain.Validate(kind, merged); err != nil {
			return nil, err
		}
		rec.Payload = merged
	}
	if from == models.StatusPendingDelete && to != models.StatusPendingDelete {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrRecordDeleted)
	}
	if err := models.Transition(from, to); err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, err)
	}

	if _, err := t.core.queue.EnqueueTx(ctx, t.db, queue.Request{
		Kind:     kind,
		EntityID: id,
		Action:   action,
		Payload:  payload,
		Priority: priority,
	}); err != nil {
		return nil, err
	}

	rec.Status = to
	rec.LocalUpdatedAt = t.core.clock.Now()
	rec.LastError, rec.RetryAction = "", ""
	if err := t.records().Put(ctx, rec); err != nil {
		return nil, common.WrapLocal("queue operation", err)
	}

	t.changes = append(t.changes, change{key: rec.Key(), status: to})
	return rec, nil
}
