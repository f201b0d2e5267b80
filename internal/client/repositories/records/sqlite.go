package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

const columns = `id, payload, sync_status, local_updated_at, server_updated_at, version, last_error, retry_action`

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func table(kind domain.EntityKind) (string, error) {
	d, ok := kind.Describe()
	if !ok {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownKind, string(kind))
	}
	return d.Table, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(t), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(kind domain.EntityKind, row scanner) (*models.LocalRecord, error) {
	var (
		rec         models.LocalRecord
		payload     string
		status      string
		local       int64
		server      sql.NullInt64
		retryAction string
	)
	if err := row.Scan(&rec.ID, &payload, &status, &local, &server, &rec.Version, &rec.LastError, &retryAction); err != nil {
		return nil, err
	}
	rec.Kind = kind
	rec.Payload = []byte(payload)
	rec.Status = models.SyncStatus(status)
	rec.LocalUpdatedAt = fromNanos(local)
	if server.Valid {
		rec.ServerUpdatedAt = fromNanos(server.Int64)
	}
	rec.RetryAction = models.Action(retryAction)
	return &rec, nil
}

// Get returns a single record by id.
func (r *SQLiteRepository) Get(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+t+` WHERE id = ?`, id)
	rec, err := scanRecord(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// Put upserts the full row.
func (r *SQLiteRepository) Put(ctx context.Context, rec *models.LocalRecord) error {
	t, err := table(rec.Kind)
	if err != nil {
		return err
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("refusing to store status %q", rec.Status)
	}
	query := `INSERT INTO ` + t + ` (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			sync_status = excluded.sync_status,
			local_updated_at = excluded.local_updated_at,
			server_updated_at = excluded.server_updated_at,
			version = excluded.version,
			last_error = excluded.last_error,
			retry_action = excluded.retry_action`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Payload), string(rec.Status), toNanos(rec.LocalUpdatedAt),
		nullableNanos(rec.ServerUpdatedAt), rec.Version, rec.LastError, string(rec.RetryAction))
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Delete removes a record by id.
func (r *SQLiteRepository) Delete(ctx context.Context, kind domain.EntityKind, id string) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+t+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	return nil
}

// ScanByStatus lists records ordered by local_updated_at.
func (r *SQLiteRepository) ScanByStatus(ctx context.Context, kind domain.EntityKind, statuses ...models.SyncStatus) ([]*models.LocalRecord, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + columns + ` FROM ` + t
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE sync_status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY local_updated_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
	}
	defer rows.Close()

	var result []*models.LocalRecord
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSynced conditionally confirms a record. local_updated_at is clamped to
// server_updated_at so a SYNCED row never looks newer than the remote.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, kind domain.EntityKind, id string, sentAt time.Time, version int64, serverUpdatedAt time.Time) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	server := toNanos(serverUpdatedAt)
	res, err := r.db.ExecContext(ctx, `UPDATE `+t+` SET
			sync_status = ?,
			version = ?,
			server_updated_at = ?,
			local_updated_at = MIN(local_updated_at, ?),
			last_error = '',
			retry_action = ''
		WHERE id = ? AND local_updated_at = ?`,
		string(models.StatusSynced), version, server, server, id, toNanos(sentAt))
	if err != nil {
		return false, fmt.Errorf("failed to mark %s %s synced: %w", kind, id, err)
	}
	return dbx.AffectedOne(res)
}

// StampVersion stores the remote version and time only.
func (r *SQLiteRepository) StampVersion(ctx context.Context, kind domain.EntityKind, id string, version int64, serverUpdatedAt time.Time) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE `+t+` SET version = ?, server_updated_at = ? WHERE id = ?`,
		version, nullableNanos(serverUpdatedAt), id)
	if err != nil {
		return fmt.Errorf("failed to stamp %s %s: %w", kind, id, err)
	}
	return nil
}

// SetStatus updates the status columns of an existing record.
func (r *SQLiteRepository) SetStatus(ctx context.Context, kind domain.EntityKind, id string, status models.SyncStatus, lastError string, retryAction models.Action) error {
	t, err := table(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE `+t+` SET sync_status = ?, last_error = ?, retry_action = ? WHERE id = ?`,
		string(status), lastError, string(retryAction), id)
	if err != nil {
		return fmt.Errorf("failed to set %s %s status: %w", kind, id, err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

// DeleteIfUnchanged removes the row when no local edit raced the delete.
func (r *SQLiteRepository) DeleteIfUnchanged(ctx context.Context, kind domain.EntityKind, id string, sentAt time.Time) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+t+` WHERE id = ? AND local_updated_at = ?`, id, toNanos(sentAt))
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	return dbx.AffectedOne(res)
}
