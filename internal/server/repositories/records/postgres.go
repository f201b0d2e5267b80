// Package records provides the PostgreSQL-backed repository for the
// authoritative record table.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
)

const selectColumns = `user_id, entity_type, id, payload, version, updated_at, deleted, last_op_id`

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record or common.ErrorNotFound. Tombstones are returned
// with Deleted set.
func (r *PostgresRepository) Get(ctx context.Context, userID, kind, id string) (*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records
		WHERE user_id = $1 AND entity_type = $2 AND id = $3`
	return r.get(ctx, query, userID, kind, id)
}

// Lock is Get with a row lock held until the surrounding transaction ends.
func (r *PostgresRepository) Lock(ctx context.Context, userID, kind, id string) (*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records
		WHERE user_id = $1 AND entity_type = $2 AND id = $3
		FOR UPDATE`
	return r.get(ctx, query, userID, kind, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...any) (*models.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return rec, nil
}

// Insert creates a new row. A concurrent insert of the same key yields
// common.ErrVersionConflict.
func (r *PostgresRepository) Insert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (user_id, entity_type, id, payload, version, updated_at, deleted, last_op_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, entity_type, id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.Kind, rec.ID, nullJSON(rec.Payload), rec.Version, rec.UpdatedAt, rec.Deleted, rec.LastOpID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrVersionConflict
	}
	return nil
}

// Update overwrites the row only while it is still at expectedVersion.
// rec.Version must already hold the new version.
func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	query := `
		UPDATE records
		SET payload = $1, version = $2, updated_at = $3, deleted = $4, last_op_id = $5
		WHERE user_id = $6 AND entity_type = $7 AND id = $8 AND version = $9`
	res, err := r.db.ExecContext(ctx, query,
		nullJSON(rec.Payload), rec.Version, rec.UpdatedAt, rec.Deleted, rec.LastOpID,
		rec.UserID, rec.Kind, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrVersionConflict
	}
	return nil
}

// ListUpdatedSince returns the user's records changed after since, oldest
// first, tombstones included.
func (r *PostgresRepository) ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records
		WHERE user_id = $1 AND updated_at > $2
		ORDER BY updated_at, entity_type, id`
	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec     models.Record
		payload []byte
	)
	if err := s.Scan(&rec.UserID, &rec.Kind, &rec.ID, &payload, &rec.Version, &rec.UpdatedAt, &rec.Deleted, &rec.LastOpID); err != nil {
		return nil, err
	}
	if payload != nil {
		rec.Payload = append([]byte(nil), payload...)
	}
	return &rec, nil
}

func nullJSON(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
