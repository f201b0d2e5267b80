package drain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/conflictlog"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
)

// process sends one operation and applies the answer. It also reports
// whether the remote answered with a conflict at any point. Everything after
// the remote call commits on a context detached from cancellation: once the
// remote has applied a write, the local side must record it or the next
// cycle would send it again.
func (w *Worker) process(ctx context.Context, op *models.PendingOperation) (outcome, bool) {
	log := w.logger.With("kind", op.Kind, "id", op.EntityID, "action", op.Action, "op_id", op.OpID)
	lctx := context.WithoutCancel(ctx)

	conflicted := false
	for round := 0; ; round++ {
		if ctx.Err() != nil {
			return outcomeAborted, conflicted
		}

		rec, err := records.NewSQLiteRepository(w.db).Get(ctx, op.Kind, op.EntityID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			log.Warn(ctx, "queued operation has no local record; dropping it")
			if err := w.commit(lctx, func(ctx context.Context, tx dbx.DBTX) error {
				_, err := w.queue.MarkSucceededTx(ctx, tx, op.Kind, op.EntityID, op.OpID)
				return err
			}); err != nil {
				log.Error(lctx, "failed to drop orphan operation", "error", err)
				return outcomeLocalError, conflicted
			}
			return outcomeSkipped, conflicted
		case err != nil:
			log.Error(ctx, "failed to load record", "error", common.WrapLocal("load", err))
			return outcomeLocalError, conflicted
		}

		sentAt := rec.LocalUpdatedAt
		res := w.send(ctx, op, rec)
		if res.Outcome != gateway.OutcomeSuccess && ctx.Err() != nil {
			// abandoned in flight; nothing to record
			return outcomeAborted, conflicted
		}
		log.Debug(lctx, "remote answered", "outcome", res.Outcome, "round", round, "expected_version", rec.Version)

		var out outcome
		switch res.Outcome {
		case gateway.OutcomeSuccess:
			out = w.onSuccess(lctx, log, op, rec.Status, sentAt, res)
		case gateway.OutcomeTransient:
			out = w.onTransient(lctx, log, op, rec.Status, res.Err, res.Offline)
		case gateway.OutcomeValidation:
			out = w.onValidation(lctx, log, op, rec.Status, res.Err)
		case gateway.OutcomeConflict:
			if round > 0 {
				// a second conflict in one cycle backs off like a transient failure
				out = w.onTransient(lctx, log, op, rec.Status, res.Err, false)
				break
			}
			conflicted = true
			retry, o := w.onConflict(ctx, log, op, rec, res)
			if retry {
				continue
			}
			out = o
		default:
			out = w.onTransient(lctx, log, op, rec.Status, fmt.Errorf("unexpected gateway outcome %v", res.Outcome), false)
		}
		return out, conflicted
	}
}

func (w *Worker) send(ctx context.Context, op *models.PendingOperation, rec *models.LocalRecord) gateway.Result {
	if op.Action == models.ActionDelete {
		return w.gateway.Delete(ctx, gateway.DeleteRequest{
			Kind:            op.Kind,
			ID:              op.EntityID,
			ExpectedVersion: rec.ExpectedVersion(),
			OpID:            op.OpID,
		})
	}
	// the current record, not the queued diff, so a record edited after
	// enqueue is never replayed stale
	return w.gateway.Upsert(ctx, gateway.UpsertRequest{
		Kind:            op.Kind,
		ID:              op.EntityID,
		Payload:         rec.Payload,
		ExpectedVersion: rec.ExpectedVersion(),
		OpID:            op.OpID,
	})
}

func (w *Worker) onSuccess(ctx context.Context, log logging.Logger, op *models.PendingOperation, from models.SyncStatus, sentAt time.Time, res gateway.Result) outcome {
	var to models.SyncStatus
	err := w.commit(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		recs := records.NewSQLiteRepository(tx)
		if op.Action == models.ActionDelete {
			gone, err := recs.DeleteIfUnchanged(ctx, op.Kind, op.EntityID, sentAt)
			if err != nil {
				return err
			}
			if !gone {
				return recs.StampVersion(ctx, op.Kind, op.EntityID, res.Version, res.UpdatedAt)
			}
			to = models.StatusRemoved
		} else {
			ok, err := recs.MarkSynced(ctx, op.Kind, op.EntityID, sentAt, res.Version, res.UpdatedAt)
			if err != nil {
				return err
			}
			if !ok {
				return recs.StampVersion(ctx, op.Kind, op.EntityID, res.Version, res.UpdatedAt)
			}
			to = models.StatusSynced
		}
		_, err := w.queue.MarkSucceededTx(ctx, tx, op.Kind, op.EntityID, op.OpID)
		return err
	})
	if err != nil {
		log.Error(ctx, "failed to commit remote success", "error", err)
		return outcomeLocalError
	}
	if to == "" {
		log.Debug(ctx, "record changed while in flight; kept pending", "version", res.Version)
		return outcomeDeferred
	}
	w.publish(ctx, log, op.Key(), from, to)
	return outcomeSucceeded
}

func (w *Worker) onTransient(ctx context.Context, log logging.Logger, op *models.PendingOperation, from models.SyncStatus, cause error, offline bool) outcome {
	var f queue.Failure
	err := w.commit(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		f, err = w.queue.MarkFailedTx(ctx, tx, op.Kind, op.EntityID, op.OpID, cause, false)
		if err != nil || !f.Parked {
			return err
		}
		return records.NewSQLiteRepository(tx).SetStatus(ctx, op.Kind, op.EntityID, models.StatusFailed, errString(cause), op.Action)
	})
	if err != nil {
		log.Error(ctx, "failed to record transient failure", "error", err)
		return outcomeLocalError
	}

	switch {
	case f.Parked:
		log.Warn(ctx, "retries exhausted", "attempts", f.Attempts, "error", cause)
		w.publish(ctx, log, op.Key(), from, models.StatusFailed)
	case f.Stale:
		log.Debug(ctx, "operation replaced while in flight")
	default:
		log.Info(ctx, "transient failure", "attempts", f.Attempts, "next_attempt_at", f.NextAttemptAt, "offline", offline, "error", cause)
	}

	if offline {
		return outcomeOffline
	}
	return outcomeTransient
}

func (w *Worker) onValidation(ctx context.Context, log logging.Logger, op *models.PendingOperation, from models.SyncStatus, cause error) outcome {
	var f queue.Failure
	err := w.commit(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		f, err = w.queue.MarkFailedTx(ctx, tx, op.Kind, op.EntityID, op.OpID, cause, true)
		if err != nil || f.Stale {
			return err
		}
		return records.NewSQLiteRepository(tx).SetStatus(ctx, op.Kind, op.EntityID, models.StatusFailed, errString(cause), op.Action)
	})
	if err != nil {
		log.Error(ctx, "failed to record rejection", "error", err)
		return outcomeLocalError
	}
	if f.Stale {
		// the rejected write was superseded by a newer edit, which gets its own try
		log.Info(ctx, "rejected operation already replaced", "error", cause)
		return outcomeFailed
	}
	log.Warn(ctx, "remote rejected operation", "error", cause)
	w.publish(ctx, log, op.Key(), from, models.StatusFailed)
	return outcomeFailed
}

// onConflict records the conflict, asks the resolver and applies the
// verdict. It reports whether the operation should be sent again now.
func (w *Worker) onConflict(ctx context.Context, log logging.Logger, op *models.PendingOperation, rec *models.LocalRecord, res gateway.Result) (bool, outcome) {
	lctx := context.WithoutCancel(ctx)

	snap := res.Conflict
	if snap == nil {
		s, err := w.gateway.Fetch(ctx, op.Kind, op.EntityID)
		if err != nil {
			if ctx.Err() != nil {
				return false, outcomeAborted
			}
			return false, w.onTransient(lctx, log, op, rec.Status, fmt.Errorf("fetch after conflict: %w", err), errors.Is(err, gateway.ErrUnavailable))
		}
		snap = s
	}

	verdict := w.resolver.Resolve(conflict.Conflict{
		Local:         rec,
		Pending:       op,
		RemoteVersion: snap.Version,
		Remote:        *snap,
	})
	log.Info(lctx, "conflict",
		"local_version", rec.Version, "remote_version", snap.Version,
		"remote_deleted", snap.Deleted, "decision", verdict.Decision, "reason", verdict.Reason)

	err := w.commit(lctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := conflictlog.NewSQLiteRepository(tx).Append(ctx, conflictlog.Entry{
			Kind:            op.Kind,
			EntityID:        op.EntityID,
			LocalUpdatedAt:  rec.LocalUpdatedAt,
			RemoteUpdatedAt: snap.UpdatedAt,
			RemoteVersion:   snap.Version,
			Verdict:         verdict.Decision.String(),
			ResolvedAt:      w.clock.Now(),
		}); err != nil {
			return err
		}
		return records.NewSQLiteRepository(tx).SetStatus(ctx, op.Kind, op.EntityID, models.StatusConflict, errString(res.Err), "")
	})
	if err != nil {
		log.Error(lctx, "failed to record conflict", "error", err)
		return false, outcomeLocalError
	}
	w.publish(lctx, log, op.Key(), rec.Status, models.StatusConflict)

	var to models.SyncStatus
	retry := false
	err = w.commit(lctx, func(ctx context.Context, tx dbx.DBTX) error {
		recs := records.NewSQLiteRepository(tx)
		cur, err := recs.Get(ctx, op.Kind, op.EntityID)
		if err != nil {
			return err
		}
		cur.LastError, cur.RetryAction = "", ""
		cur.Version = snap.Version
		cur.ServerUpdatedAt = snap.UpdatedAt

		if !cur.LocalUpdatedAt.Equal(rec.LocalUpdatedAt) {
			// edited while in flight: keep the edit, it is newer than both
			to = pendingStatus(op.Action)
			cur.Status = to
			return recs.Put(ctx, cur)
		}

		switch verdict.Decision {
		case conflict.AcceptRemote:
			if err := w.queue.RemoveTx(ctx, tx, op.Kind, op.EntityID); err != nil {
				return err
			}
			if snap.Deleted {
				to = models.StatusRemoved
				return recs.Delete(ctx, op.Kind, op.EntityID)
			}
			to = models.StatusSynced
			cur.Status = to
			cur.Payload = snap.Payload
			if cur.LocalUpdatedAt.After(snap.UpdatedAt) {
				cur.LocalUpdatedAt = snap.UpdatedAt
			}
			return recs.Put(ctx, cur)
		case conflict.Merge:
			cur.Payload = verdict.Payload
			cur.LocalUpdatedAt = w.clock.Now()
			fallthrough
		default:
			retry = true
			to = pendingStatus(op.Action)
			cur.Status = to
			return recs.Put(ctx, cur)
		}
	})
	if err != nil {
		log.Error(lctx, "failed to apply conflict verdict", "error", err)
		return false, outcomeLocalError
	}
	w.publish(lctx, log, op.Key(), models.StatusConflict, to)
	return retry, outcomeConflict
}

func (w *Worker) commit(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return common.WrapLocal("commit", dbx.WithTx(ctx, w.db, nil, fn))
}

func (w *Worker) publish(ctx context.Context, log logging.Logger, key models.Key, from, to models.SyncStatus) {
	if err := models.Transition(from, to); err != nil {
		log.Warn(ctx, "unexpected status change", "error", err)
	}
	w.notifier.Publish(key, to)
}

func pendingStatus(a models.Action) models.SyncStatus {
	if a == models.ActionDelete {
		return models.StatusPendingDelete
	}
	return models.StatusPendingUpload
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
