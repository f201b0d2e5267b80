package drain

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Recover re-enqueues records left pending without a queue entry, e.g. by
// a crash between a conflict being recorded and its verdict being applied.
// It runs once at startup, before the first cycle.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	recs := records.NewSQLiteRepository(w.db)
	n := 0
	for _, kind := range domain.Kinds() {
		pending, err := recs.ScanByStatus(ctx, kind,
			models.StatusPendingUpload, models.StatusPendingDelete, models.StatusConflict)
		if err != nil {
			return n, common.WrapLocal("recover", err)
		}
		for _, rec := range pending {
			_, err := w.queue.Get(ctx, rec.Kind, rec.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, common.ErrorNotFound) {
				return n, common.WrapLocal("recover", err)
			}
			if err := w.requeue(ctx, rec); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		w.logger.Info(ctx, "re-enqueued orphaned records", "count", n)
	}
	return n, nil
}

func (w *Worker) requeue(ctx context.Context, rec *models.LocalRecord) error {
	req := queue.Request{
		Kind:     rec.Kind,
		EntityID: rec.ID,
		Priority: rec.Kind.DefaultPriority(),
	}
	status := models.StatusPendingUpload
	switch {
	case rec.Status == models.StatusPendingDelete:
		req.Action = models.ActionDelete
		status = models.StatusPendingDelete
	case rec.EverSynced():
		req.Action = models.ActionUpdate
		req.Payload = rec.Payload
	default:
		req.Action = models.ActionCreate
		req.Payload = rec.Payload
	}

	return dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := w.queue.EnqueueTx(ctx, tx, req); err != nil {
			return err
		}
		if rec.Status == status {
			return nil
		}
		return records.NewSQLiteRepository(tx).SetStatus(ctx, rec.Kind, rec.ID, status, "", "")
	})
}
