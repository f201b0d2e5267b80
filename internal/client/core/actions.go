package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/drain"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Retry puts a FAILED record back in the queue with a fresh attempt budget.
func (c *Core) Retry(ctx context.Context, kind domain.EntityKind, id string) error {
	err := c.Update(ctx, func(ctx context.Context, tx *Tx) error {
		rec, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		if rec.Status != models.StatusFailed {
			return fmt.Errorf("%s %s is %s: %w", kind, id, rec.Status, common.ErrNothingToRetry)
		}

		action := rec.RetryAction
		if action == "" {
			action = models.ActionUpdate
			if !rec.EverSynced() {
				action = models.ActionCreate
			}
		}
		if _, err := c.queue.RearmTx(ctx, tx.db, kind, id, action, kind.DefaultPriority()); err != nil {
			return err
		}

		rec.Status = models.StatusPendingUpload
		if action == models.ActionDelete {
			rec.Status = models.StatusPendingDelete
		}
		rec.LastError, rec.RetryAction = "", ""
		if err := tx.records().Put(ctx, rec); err != nil {
			return common.WrapLocal("retry", err)
		}
		tx.changes = append(tx.changes, change{key: rec.Key(), status: rec.Status})
		return nil
	})
	if err == nil {
		c.worker.Trigger(drain.TriggerUser)
	}
	return err
}

// Discard abandons the local change of a FAILED record. A record the remote
// never saw is removed; otherwise the remote copy is fetched and restored,
// which needs connectivity.
func (c *Core) Discard(ctx context.Context, kind domain.EntityKind, id string) error {
	rec, err := records.NewSQLiteRepository(c.db).Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusFailed {
		return fmt.Errorf("%s %s is %s: %w", kind, id, rec.Status, common.ErrNothingToRetry)
	}

	var snap *models.RemoteSnapshot
	if rec.EverSynced() {
		snap, err = c.gateway.Fetch(ctx, kind, id)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			snap = &models.RemoteSnapshot{Deleted: true}
		case err != nil:
			return fmt.Errorf("restore remote copy: %w", err)
		}
	}

	return c.Update(ctx, func(ctx context.Context, tx *Tx) error {
		cur, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		if !cur.LocalUpdatedAt.Equal(rec.LocalUpdatedAt) || cur.Status != models.StatusFailed {
			return fmt.Errorf("%s %s changed while discarding: %w", kind, id, common.ErrVersionConflict)
		}
		if err := c.queue.RemoveTx(ctx, tx.db, kind, id); err != nil {
			return err
		}

		if snap == nil || snap.Deleted {
			if err := tx.records().Delete(ctx, kind, id); err != nil {
				return common.WrapLocal("discard", err)
			}
			tx.changes = append(tx.changes, change{key: cur.Key(), status: models.StatusRemoved})
			return nil
		}

		cur.Payload = snap.Payload
		cur.Version = snap.Version
		cur.ServerUpdatedAt = snap.UpdatedAt
		if cur.LocalUpdatedAt.After(snap.UpdatedAt) {
			cur.LocalUpdatedAt = snap.UpdatedAt
		}
		cur.Status = models.StatusSynced
		cur.LastError, cur.RetryAction = "", ""
		if err := tx.records().Put(ctx, cur); err != nil {
			return common.WrapLocal("discard", err)
		}
		tx.changes = append(tx.changes, change{key: cur.Key(), status: models.StatusSynced})
		return nil
	})
}

// Recover re-enqueues pending records whose queue entry went missing. Init
// does this on start; one-shot callers that never Init call it directly.
func (c *Core) Recover(ctx context.Context) (int, error) {
	return c.worker.Recover(ctx)
}

// Refresh replaces a record that has no local changes with the remote copy.
// A record missing locally is adopted; one deleted remotely is removed.
func (c *Core) Refresh(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error) {
	if !kind.Valid() {
		return nil, common.ErrUnknownKind
	}
	snap, err := c.gateway.Fetch(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("refresh %s %s: %w", kind, id, err)
	}

	var rec *models.LocalRecord
	err = c.Update(ctx, func(ctx context.Context, tx *Tx) error {
		cur, err := tx.Get(ctx, kind, id)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			if snap.Deleted {
				return nil
			}
			cur = &models.LocalRecord{Kind: kind, ID: id, Status: models.StatusNew}
		case err != nil:
			return err
		case cur.Status != models.StatusSynced:
			return fmt.Errorf("%s %s is %s: %w", kind, id, cur.Status, common.ErrPendingChanges)
		}

		if snap.Deleted {
			if err := tx.records().Delete(ctx, kind, id); err != nil {
				return common.WrapLocal("refresh", err)
			}
			tx.changes = append(tx.changes, change{key: cur.Key(), status: models.StatusRemoved})
			return nil
		}

		cur.Payload = snap.Payload
		cur.Version = snap.Version
		cur.ServerUpdatedAt = snap.UpdatedAt
		cur.LocalUpdatedAt = snap.UpdatedAt
		cur.Status = models.StatusSynced
		if err := tx.records().Put(ctx, cur); err != nil {
			return common.WrapLocal("refresh", err)
		}
		tx.changes = append(tx.changes, change{key: cur.Key(), status: models.StatusSynced})
		rec = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrorNotFound)
	}
	return rec, nil
}
