package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/rpc"
	"github.com/dmitrijs2005/motiumsync/internal/server/auth"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/stretchr/testify/require"
)

const secret = "http-secret"

var stamp = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

type fakeStore struct {
	pingErr error
	since   time.Time
	user    string
}

func (f *fakeStore) Fetch(_ context.Context, userID, kind, id string) (*models.Record, error) {
	f.user = userID
	switch {
	case kind == "boat":
		return nil, common.ErrUnknownKind
	case id == "t1":
		return &models.Record{Kind: kind, ID: id, Payload: json.RawMessage(`{"distanceKm":3}`), Version: 2, UpdatedAt: stamp}, nil
	case id == "broken":
		return nil, errors.New("db is down")
	}
	return nil, common.ErrorNotFound
}

func (f *fakeStore) Changes(_ context.Context, userID string, since time.Time) ([]*models.Record, error) {
	f.user, f.since = userID, since
	return []*models.Record{
		{Kind: "trip", ID: "t1", Version: 2, UpdatedAt: stamp},
		{Kind: "expense", ID: "e1", Version: 5, Deleted: true, UpdatedAt: stamp},
	}, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func do(t *testing.T, h http.Handler, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		tok, err := auth.GenerateToken(userID, []byte(secret), time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	store := &fakeStore{}
	h := NewRouter(store, secret, logging.Nop())

	rec := do(t, h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	store.pingErr = errors.New("down")
	rec = do(t, h, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFetchRecord(t *testing.T) {
	store := &fakeStore{}
	h := NewRouter(store, secret, logging.Nop())

	rec := do(t, h, "/v1/records/trip/t1", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var snap rpc.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, int64(2), snap.Version)
	require.JSONEq(t, `{"distanceKm":3}`, string(snap.Payload))
	require.Equal(t, "u1", store.user)

	require.Equal(t, http.StatusNotFound, do(t, h, "/v1/records/trip/nope", "u1").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, "/v1/records/boat/b1", "u1").Code)
	require.Equal(t, http.StatusInternalServerError, do(t, h, "/v1/records/trip/broken", "u1").Code)
}

func TestRecordsRequireToken(t *testing.T) {
	h := NewRouter(&fakeStore{}, secret, logging.Nop())

	require.Equal(t, http.StatusUnauthorized, do(t, h, "/v1/records/trip/t1", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/records/trip/t1", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChanges(t *testing.T) {
	store := &fakeStore{}
	h := NewRouter(store, secret, logging.Nop())

	rec := do(t, h, "/v1/records?since=2026-06-30T00:00:00Z", "u2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []rpc.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.True(t, got[1].Deleted)
	require.True(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC).Equal(store.since))

	require.Equal(t, http.StatusBadRequest, do(t, h, "/v1/records?since=yesterday", "u2").Code)
}
