package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

var columns = []string{"user_id", "entity_type", "id", "payload", "version", "updated_at", "deleted", "last_op_id"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestGet_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE user_id = \$1 AND entity_type = \$2 AND id = \$3$`).
		WithArgs("u1", "trip", "t1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "trip", "t1", []byte(`{"distanceKm":3}`), int64(2), ts, false, "op-2"))

	rec, err := repo.Get(context.Background(), "u1", "trip", "t1")
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
	require.JSONEq(t, `{"distanceKm":3}`, string(rec.Payload))
	require.Equal(t, "op-2", rec.LastOpID)
	require.True(t, ts.Equal(rec.UpdatedAt))
}

func TestGet_TombstoneHasNoPayload(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM records`).
		WithArgs("u1", "trip", "t1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("u1", "trip", "t1", nil, int64(4), ts, true, "op-4"))

	rec, err := repo.Get(context.Background(), "u1", "trip", "t1")
	require.NoError(t, err)
	require.True(t, rec.Deleted)
	require.Nil(t, rec.Payload)
}

func TestGet_NotFoundAndErrors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(sql.ErrNoRows)
	_, err := repo.Get(context.Background(), "u1", "trip", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(errors.New("db is down"))
	_, err = repo.Get(context.Background(), "u1", "trip", "t1")
	require.ErrorContains(t, err, "db is down")
}

func TestLock_UsesRowLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM records .* FOR UPDATE`).
		WithArgs("u1", "license", "l1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("u1", "license", "l1", []byte(`{}`), int64(1), ts, false, ""))

	rec, err := repo.Lock(context.Background(), "u1", "license", "l1")
	require.NoError(t, err)
	require.Equal(t, "l1", rec.ID)
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rec := &models.Record{
		UserID: "u1", Kind: "trip", ID: "t1",
		Payload: json.RawMessage(`{"distanceKm":3}`), Version: 1, UpdatedAt: ts, LastOpID: "op-1",
	}

	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(user_id, entity_type, id\) DO NOTHING`).
		WithArgs("u1", "trip", "t1", `{"distanceKm":3}`, int64(1), ts, false, "op-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Insert(context.Background(), rec))

	mock.ExpectExec(`INSERT INTO records`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Insert(context.Background(), rec), common.ErrVersionConflict)

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("db is down"))
	require.ErrorContains(t, repo.Insert(context.Background(), rec), "db error")
}

func TestUpdate_GuardedByVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rec := &models.Record{UserID: "u1", Kind: "trip", ID: "t1", Version: 3, UpdatedAt: ts, Deleted: true, LastOpID: "op-3"}

	mock.ExpectExec(`UPDATE records\s+SET .* WHERE user_id = \$6 AND entity_type = \$7 AND id = \$8 AND version = \$9`).
		WithArgs(nil, int64(3), ts, true, "op-3", "u1", "trip", "t1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), rec, 2))

	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Update(context.Background(), rec, 2), common.ErrVersionConflict)

	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
	require.ErrorContains(t, repo.Update(context.Background(), rec, 2), "rows affected error")

	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewResult(0, 2))
	require.ErrorContains(t, repo.Update(context.Background(), rec, 2), "unexpected rows affected")
}

func TestListUpdatedSince(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	since := ts.Add(-time.Hour)

	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE user_id = \$1 AND updated_at > \$2\s+ORDER BY updated_at`).
		WithArgs("u1", since).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "trip", "t1", []byte(`{}`), int64(1), ts, false, "a").
			AddRow("u1", "expense", "e1", nil, int64(2), ts.Add(time.Minute), true, "b"))

	got, err := repo.ListUpdatedSince(context.Background(), "u1", since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e1", got[1].ID)
	require.True(t, got[1].Deleted)

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(errors.New("boom"))
	_, err = repo.ListUpdatedSince(context.Background(), "u1", since)
	require.ErrorContains(t, err, "failed to select records")
}
