package conflictlog

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/storage/storagetest"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestAppendAndListFor(t *testing.T) {
	r := NewSQLiteRepository(storagetest.Open(t))
	ctx := context.Background()
	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Append(ctx, Entry{Kind: domain.KindLicense, EntityID: "l1", LocalUpdatedAt: at,
		RemoteUpdatedAt: at.Add(time.Second), RemoteVersion: 4, Verdict: "accept_remote", ResolvedAt: at.Add(time.Minute)}))
	require.NoError(t, r.Append(ctx, Entry{Kind: domain.KindLicense, EntityID: "l1", LocalUpdatedAt: at.Add(time.Hour),
		RemoteUpdatedAt: at, RemoteVersion: 5, Verdict: "keep_local", ResolvedAt: at.Add(2 * time.Hour)}))
	require.NoError(t, r.Append(ctx, Entry{Kind: domain.KindTrip, EntityID: "l1", Verdict: "merge"}))

	got, err := r.ListFor(ctx, domain.KindLicense, "l1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "accept_remote", got[0].Verdict)
	require.EqualValues(t, 5, got[1].RemoteVersion)
	require.True(t, got[1].LocalUpdatedAt.Equal(at.Add(time.Hour)))
}
