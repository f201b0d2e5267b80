// Package services implements the authoritative record operations and the
// receipt presigner behind the RecordService endpoints.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/dmitrijs2005/motiumsync/internal/server/repositories/repomanager"
)

// UpsertInput creates (ExpectedVersion 0) or replaces a record.
type UpsertInput struct {
	Kind            string
	ID              string
	Payload         json.RawMessage
	ExpectedVersion int64
	OpID            string
}

type DeleteInput struct {
	Kind            string
	ID              string
	ExpectedVersion int64
	OpID            string
}

// ConflictError carries the current server copy of a record whose version
// did not match the caller's.
type ConflictError struct {
	Current *models.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: version conflict, server at %d", e.Current.Kind, e.Current.ID, e.Current.Version)
}

func (e *ConflictError) Is(target error) bool { return target == common.ErrVersionConflict }

// RecordService applies versioned writes. Every write is one transaction
// holding a row lock, so the version check and the write are atomic.
type RecordService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	logger logging.Logger
	now    func() time.Time
}

func NewRecordService(db *sql.DB, repos repomanager.RepositoryManager, l logging.Logger) *RecordService {
	return &RecordService{
		db:     db,
		repos:  repos,
		logger: l.With("module", "record_service"),
		now:    time.Now,
	}
}

// timestamp is truncated to what timestamptz stores.
func (s *RecordService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func checkKey(kind, id string) error {
	if _, err := domain.ParseEntityKind(kind); err != nil {
		return err
	}
	if id == "" {
		return &common.ValidationError{Field: "id", Reason: "required"}
	}
	return nil
}

// Upsert stores a full payload.
//
//   - no row and ExpectedVersion 0: insert at version 1
//   - no row and ExpectedVersion > 0: common.ErrorNotFound
//   - row whose LastOpID equals OpID: the earlier result is returned
//   - row deleted or at another version: *ConflictError
//   - otherwise the row moves to version+1
func (s *RecordService) Upsert(ctx context.Context, userID string, in UpsertInput) (*models.Record, error) {
	if err := checkKey(in.Kind, in.ID); err != nil {
		return nil, err
	}
	if err := domain.Validate(domain.EntityKind(in.Kind), in.Payload); err != nil {
		return nil, err
	}

	var out *models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Records(tx)

		cur, err := repo.Lock(ctx, userID, in.Kind, in.ID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			if in.ExpectedVersion != 0 {
				return fmt.Errorf("%s %s: %w", in.Kind, in.ID, common.ErrorNotFound)
			}
			rec := &models.Record{
				UserID: userID, Kind: in.Kind, ID: in.ID,
				Payload: in.Payload, Version: 1, UpdatedAt: s.timestamp(), LastOpID: in.OpID,
			}
			if err := repo.Insert(ctx, rec); err != nil {
				return err
			}
			out = rec
			return nil
		case err != nil:
			return err
		case in.OpID != "" && cur.LastOpID == in.OpID:
			out = cur
			return nil
		case cur.Deleted || cur.Version != in.ExpectedVersion:
			return &ConflictError{Current: cur}
		}

		next := *cur
		next.Payload = in.Payload
		next.Version = cur.Version + 1
		next.UpdatedAt = s.timestamp()
		next.LastOpID = in.OpID
		if err := repo.Update(ctx, &next, cur.Version); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "record stored", "kind", out.Kind, "id", out.ID, "version", out.Version)
	return out, nil
}

// Delete tombstones a record. Deleting a missing or already deleted record
// succeeds; a version mismatch is a *ConflictError.
func (s *RecordService) Delete(ctx context.Context, userID string, in DeleteInput) (*models.Record, error) {
	if err := checkKey(in.Kind, in.ID); err != nil {
		return nil, err
	}

	var out *models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Records(tx)

		cur, err := repo.Lock(ctx, userID, in.Kind, in.ID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			out = &models.Record{UserID: userID, Kind: in.Kind, ID: in.ID, Deleted: true, UpdatedAt: s.timestamp()}
			return nil
		case err != nil:
			return err
		case cur.Deleted || (in.OpID != "" && cur.LastOpID == in.OpID):
			out = cur
			return nil
		case cur.Version != in.ExpectedVersion:
			return &ConflictError{Current: cur}
		}

		next := *cur
		next.Payload = nil
		next.Deleted = true
		next.Version = cur.Version + 1
		next.UpdatedAt = s.timestamp()
		next.LastOpID = in.OpID
		if err := repo.Update(ctx, &next, cur.Version); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "record deleted", "kind", out.Kind, "id", out.ID, "version", out.Version)
	return out, nil
}

// Fetch returns the current copy, tombstones included.
func (s *RecordService) Fetch(ctx context.Context, userID, kind, id string) (*models.Record, error) {
	if err := checkKey(kind, id); err != nil {
		return nil, err
	}
	return s.repos.Records(s.db).Get(ctx, userID, kind, id)
}

// Changes lists the user's records modified after since.
func (s *RecordService) Changes(ctx context.Context, userID string, since time.Time) ([]*models.Record, error) {
	return s.repos.Records(s.db).ListUpdatedSince(ctx, userID, since)
}

// Ping checks the database.
func (s *RecordService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
