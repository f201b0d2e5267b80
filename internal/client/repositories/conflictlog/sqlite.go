// Package conflictlog keeps an audit trail of resolved conflicts so the user
// can see when a local change lost to the remote copy.
package conflictlog

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Entry is one resolved conflict.
type Entry struct {
	Kind            domain.EntityKind
	EntityID        string
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
	RemoteVersion   int64
	Verdict         string
	ResolvedAt      time.Time
}

type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListFor(ctx context.Context, kind domain.EntityKind, id string) ([]Entry, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conflict_log
		(entity_type, entity_id, local_updated_at, remote_updated_at, remote_version, verdict, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.EntityID, e.LocalUpdatedAt.UnixNano(), e.RemoteUpdatedAt.UnixNano(),
		e.RemoteVersion, e.Verdict, e.ResolvedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append conflict log: %w", err)
	}
	return nil
}

// ListFor returns the conflicts recorded for one record, oldest first.
func (r *SQLiteRepository) ListFor(ctx context.Context, kind domain.EntityKind, id string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_type, entity_id, local_updated_at, remote_updated_at,
			remote_version, verdict, resolved_at
		FROM conflict_log WHERE entity_type = ? AND entity_id = ? ORDER BY id`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflict log: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			e                       Entry
			k                       string
			local, remote, resolved int64
		)
		if err := rows.Scan(&k, &e.EntityID, &local, &remote, &e.RemoteVersion, &e.Verdict, &resolved); err != nil {
			return nil, err
		}
		e.Kind = domain.EntityKind(k)
		e.LocalUpdatedAt = time.Unix(0, local).UTC()
		e.RemoteUpdatedAt = time.Unix(0, remote).UTC()
		e.ResolvedAt = time.Unix(0, resolved).UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}
