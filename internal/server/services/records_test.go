package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

var (
	now      = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	columns  = []string{"user_id", "entity_type", "id", "payload", "version", "updated_at", "deleted", "last_op_id"}
	tripBody = json.RawMessage(`{"startedAt":"2026-06-01T07:00:00Z","distanceKm":12.5}`)
)

const lockQuery = `SELECT .* FROM records .* FOR UPDATE`

func newRecordService(t *testing.T) (*RecordService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	s := NewRecordService(db, repomanager.NewPostgresRepositoryManager(), logging.Nop())
	s.now = func() time.Time { return now }
	return s, mock
}

func row(version int64, deleted bool, lastOp string) *sqlmock.Rows {
	var payload any = []byte(tripBody)
	if deleted {
		payload = nil
	}
	return sqlmock.NewRows(columns).AddRow("u1", "trip", "t1", payload, version, now.Add(-time.Hour), deleted, lastOp)
}

func TestUpsert_CreatesAtVersionOne(t *testing.T) {
	s, mock := newRecordService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs("u1", "trip", "t1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO records`).
		WithArgs("u1", "trip", "t1", string(tripBody), int64(1), now, false, "op-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody, OpID: "op-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
	require.Equal(t, now, rec.UpdatedAt)
}

func TestUpsert_UpdatesMatchingVersion(t *testing.T) {
	s, mock := newRecordService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(row(3, false, "op-3"))
	mock.ExpectExec(`UPDATE records`).
		WithArgs(string(tripBody), int64(4), now, false, "op-4", "u1", "trip", "t1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody, ExpectedVersion: 3, OpID: "op-4"})
	require.NoError(t, err)
	require.Equal(t, int64(4), rec.Version)
	require.Equal(t, "op-4", rec.LastOpID)
}

func TestUpsert_ReplayedOpIsIdempotent(t *testing.T) {
	s, mock := newRecordService(t)

	// the first attempt committed but its answer was lost
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(row(1, false, "op-1"))
	mock.ExpectCommit()

	rec, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody, OpID: "op-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
}

func TestUpsert_Conflicts(t *testing.T) {
	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		expected int64
	}{
		{name: "create over existing", rows: row(2, false, "other"), expected: 0},
		{name: "stale version", rows: row(5, false, "other"), expected: 4},
		{name: "tombstone", rows: row(5, true, "other"), expected: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newRecordService(t)
			mock.ExpectBegin()
			mock.ExpectQuery(lockQuery).WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody, ExpectedVersion: tt.expected, OpID: "op-x"})
			require.ErrorIs(t, err, common.ErrVersionConflict)
			var ce *ConflictError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, "t1", ce.Current.ID)
		})
	}
}

func TestUpsert_MissingRowWithExpectedVersion(t *testing.T) {
	s, mock := newRecordService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody, ExpectedVersion: 2})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpsert_RejectsBadInputWithoutTouchingTheDatabase(t *testing.T) {
	s, _ := newRecordService(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "u1", UpsertInput{Kind: "boat", ID: "b1", Payload: tripBody})
	require.ErrorIs(t, err, common.ErrUnknownKind)

	_, err = s.Upsert(ctx, "u1", UpsertInput{Kind: "trip", Payload: tripBody})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Upsert(ctx, "u1", UpsertInput{Kind: "expense", ID: "e1", Payload: json.RawMessage(`{"amount":-1,"currency":"EUR"}`)})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestUpsert_DatabaseError(t *testing.T) {
	s, mock := newRecordService(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := s.Upsert(context.Background(), "u1", UpsertInput{Kind: "trip", ID: "t1", Payload: tripBody})
	require.ErrorContains(t, err, "pool exhausted")
}

func TestDelete(t *testing.T) {
	t.Run("tombstones matching version", func(t *testing.T) {
		s, mock := newRecordService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(row(2, false, "op-2"))
		mock.ExpectExec(`UPDATE records`).
			WithArgs(nil, int64(3), now, true, "op-3", "u1", "trip", "t1", int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec, err := s.Delete(context.Background(), "u1", DeleteInput{Kind: "trip", ID: "t1", ExpectedVersion: 2, OpID: "op-3"})
		require.NoError(t, err)
		require.True(t, rec.Deleted)
		require.Equal(t, int64(3), rec.Version)
	})

	t.Run("missing record", func(t *testing.T) {
		s, mock := newRecordService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()

		rec, err := s.Delete(context.Background(), "u1", DeleteInput{Kind: "trip", ID: "t1", ExpectedVersion: 2})
		require.NoError(t, err)
		require.Zero(t, rec.Version)
	})

	t.Run("already deleted", func(t *testing.T) {
		s, mock := newRecordService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(row(7, true, "other"))
		mock.ExpectCommit()

		rec, err := s.Delete(context.Background(), "u1", DeleteInput{Kind: "trip", ID: "t1", ExpectedVersion: 2})
		require.NoError(t, err)
		require.Equal(t, int64(7), rec.Version)
	})

	t.Run("stale version", func(t *testing.T) {
		s, mock := newRecordService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(row(4, false, "other"))
		mock.ExpectRollback()

		_, err := s.Delete(context.Background(), "u1", DeleteInput{Kind: "trip", ID: "t1", ExpectedVersion: 2, OpID: "op-9"})
		require.ErrorIs(t, err, common.ErrVersionConflict)
	})
}

func TestFetchAndChanges(t *testing.T) {
	s, mock := newRecordService(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM records`).WithArgs("u1", "trip", "t1").WillReturnRows(row(2, false, ""))
	rec, err := s.Fetch(ctx, "u1", "trip", "t1")
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)

	_, err = s.Fetch(ctx, "u1", "boat", "t1")
	require.ErrorIs(t, err, common.ErrUnknownKind)

	mock.ExpectQuery(`updated_at > \$2`).WithArgs("u1", now).WillReturnRows(row(2, false, ""))
	list, err := s.Changes(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
