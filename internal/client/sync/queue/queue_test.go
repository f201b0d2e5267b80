package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/storage/storagetest"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, opts ...Option) (*Queue, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(t0)
	opts = append([]Option{WithOpIDs(seqIDs()), WithBackoff(Backoff{Base: time.Second, Cap: time.Minute})}, opts...)
	return New(storagetest.Open(t), c, opts...), c
}

func TestEnqueue_CreateThenUpdateCollapses(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "new-1", Action: models.ActionCreate,
		Payload: json.RawMessage(`{"startedAt":"2026-04-01T08:00:00Z","distanceKm":3}`)})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "new-1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"distanceKm":4.5}`)})
	require.NoError(t, err)

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, models.ActionCreate, all[0].Action)
	require.JSONEq(t, `{"startedAt":"2026-04-01T08:00:00Z","distanceKm":4.5}`, string(all[0].Payload))
}

func TestEnqueue_IdenticalTwiceIsOneEntry(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	req := Request{Kind: domain.KindExpense, EntityID: "e1", Action: models.ActionDelete}

	first, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.OpID, second.OpID)

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestEnqueue_LicenseScenarioCoalescesWithPriority(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{Kind: domain.KindLicense, EntityID: "license-1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"status":"cancelled"}`), Priority: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Request{Kind: domain.KindLicense, EntityID: "license-1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"note":"x"}`), Priority: 0})
	require.NoError(t, err)

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 1, all[0].Priority)
	require.JSONEq(t, `{"status":"cancelled","note":"x"}`, string(all[0].Payload))
}

func TestDequeueBatch_PriorityOrder(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	for i, p := range []int{0, 1, 0, 1} {
		_, err := q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: string(rune('a' + i)),
			Action: models.ActionUpdate, Payload: json.RawMessage(`{"purpose":"x"}`), Priority: p})
		require.NoError(t, err)
	}

	batch, err := q.DequeueBatch(ctx, 4)
	require.NoError(t, err)
	got := make([]string, 0, len(batch))
	for _, op := range batch {
		got = append(got, op.EntityID)
	}
	require.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestMarkFailed_TransientBacksOffThenParks(t *testing.T) {
	q, c := newQueue(t, WithMaxAttempts(3))
	ctx := context.Background()

	op, err := q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "t1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"purpose":"x"}`)})
	require.NoError(t, err)

	fail := func() Failure {
		var f Failure
		require.NoError(t, dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			f, err = q.MarkFailedTx(ctx, tx, domain.KindTrip, "t1", op.OpID, errors.New("503"), false)
			return err
		}))
		return f
	}

	f := fail()
	require.Equal(t, 1, f.Attempts)
	require.False(t, f.Parked)

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch, "entry is in backoff")

	c.Advance(time.Second)
	batch, err = q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	f = fail()
	require.Equal(t, 2, f.Attempts)
	require.Equal(t, 4*time.Second, f.NextAttemptAt.Sub(c.Peek().Add(-time.Millisecond)))

	f = fail()
	require.Equal(t, 3, f.Attempts)
	require.True(t, f.Parked)

	c.Advance(time.Hour)
	batch, err = q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch, "parked entries wait for the user")

	stored, err := q.Get(ctx, domain.KindTrip, "t1")
	require.NoError(t, err)
	require.Equal(t, "503", stored.LastError)

	var rearmed *models.PendingOperation
	require.NoError(t, dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		rearmed, err = q.RearmTx(ctx, tx, domain.KindTrip, "t1", models.ActionUpdate, 0)
		return err
	}))
	require.Zero(t, rearmed.Attempts)
	require.NotEqual(t, op.OpID, rearmed.OpID)

	batch, err = q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestMarkFailed_PermanentRemoves(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, Request{Kind: domain.KindConsent, EntityID: "c1", Action: models.ActionCreate,
		Payload: json.RawMessage(`{"purpose":"x"}`)})
	require.NoError(t, err)

	var f Failure
	require.NoError(t, dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		f, err = q.MarkFailedTx(ctx, tx, domain.KindConsent, "c1", op.OpID, errors.New("422"), true)
		return err
	}))
	require.True(t, f.Removed)

	_, err = q.Get(ctx, domain.KindConsent, "c1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMarkSucceeded_KeepsNewerEnqueue(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	sent, err := q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "t1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"purpose":"a"}`)})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "t1", Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"purpose":"b"}`)})
	require.NoError(t, err)

	var removed bool
	require.NoError(t, dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		removed, err = q.MarkSucceededTx(ctx, tx, domain.KindTrip, "t1", sent.OpID)
		return err
	}))
	require.False(t, removed)

	still, err := q.Get(ctx, domain.KindTrip, "t1")
	require.NoError(t, err)
	require.JSONEq(t, `{"purpose":"b"}`, string(still.Payload))
}

func TestRemoveTx(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{Kind: domain.KindTrip, EntityID: "t1", Action: models.ActionDelete})
	require.NoError(t, err)
	require.NoError(t, dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return q.RemoveTx(ctx, tx, domain.KindTrip, "t1")
	}))
	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
