package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

const columns = `entity_type, entity_id, op_id, action, payload, priority, enqueued_at, attempts, last_error, next_attempt_at, parked`

// order is the strict priority order with FIFO tie-break; rowid keeps
// entries enqueued within the same nanosecond stable.
const order = ` ORDER BY priority DESC, enqueued_at ASC, rowid ASC`

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOp(row scanner) (*models.PendingOperation, error) {
	var (
		op                  models.PendingOperation
		kind, action        string
		payload             string
		enqueued, nextAfter int64
		parked              bool
	)
	err := row.Scan(&kind, &op.EntityID, &op.OpID, &action, &payload, &op.Priority,
		&enqueued, &op.Attempts, &op.LastError, &nextAfter, &parked)
	if err != nil {
		return nil, err
	}
	op.Kind = domain.EntityKind(kind)
	op.Action = models.Action(action)
	if payload != "" {
		op.Payload = []byte(payload)
	}
	op.EnqueuedAt = fromNanos(enqueued)
	op.NextAttemptAt = fromNanos(nextAfter)
	op.Parked = parked
	return &op, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kind domain.EntityKind, id string) (*models.PendingOperation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM pending_operations WHERE entity_type = ? AND entity_id = ?`, string(kind), id)
	op, err := scanOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending %s %s: %w", kind, id, err)
	}
	return op, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, op *models.PendingOperation) error {
	query := `INSERT INTO pending_operations (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			op_id = excluded.op_id,
			action = excluded.action,
			payload = excluded.payload,
			priority = excluded.priority,
			enqueued_at = excluded.enqueued_at,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at,
			parked = excluded.parked`
	_, err := r.db.ExecContext(ctx, query,
		string(op.Kind), op.EntityID, op.OpID, string(op.Action), string(op.Payload), op.Priority,
		nanos(op.EnqueuedAt), op.Attempts, op.LastError, nanos(op.NextAttemptAt), op.Parked)
	if err != nil {
		return fmt.Errorf("failed to put pending %s %s: %w", op.Kind, op.EntityID, err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, kind domain.EntityKind, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE entity_type = ? AND entity_id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to remove pending %s %s: %w", kind, id, err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveIfOp(ctx context.Context, kind domain.EntityKind, id, opID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE entity_type = ? AND entity_id = ? AND op_id = ?`,
		string(kind), id, opID)
	if err != nil {
		return false, fmt.Errorf("failed to remove pending %s %s: %w", kind, id, err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLiteRepository) DequeueBatch(ctx context.Context, max int, now time.Time) ([]*models.PendingOperation, error) {
	if max <= 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+columns+` FROM pending_operations
		WHERE parked = 0 AND next_attempt_at <= ?`+order+` LIMIT ?`, nanos(now), max)
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, kind domain.EntityKind, id, opID, lastError string, nextAttemptAt time.Time, park bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE pending_operations
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, parked = ?
		WHERE entity_type = ? AND entity_id = ? AND op_id = ?`,
		lastError, nanos(nextAttemptAt), park, string(kind), id, opID)
	if err != nil {
		return false, fmt.Errorf("failed to record failure for %s %s: %w", kind, id, err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.PendingOperation, error) {
	return r.query(ctx, `SELECT `+columns+` FROM pending_operations`+order)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending operations: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
