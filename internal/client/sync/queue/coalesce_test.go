package queue

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("op-%d", n)
	}
}

func existingOp(action models.Action, payload string) *models.PendingOperation {
	op := &models.PendingOperation{
		Kind:          domain.KindLicense,
		EntityID:      "license-1",
		Action:        action,
		Priority:      1,
		EnqueuedAt:    t0,
		Attempts:      2,
		LastError:     "timeout",
		NextAttemptAt: t0.Add(8 * time.Second),
		OpID:          "op-old",
	}
	if payload != "" {
		op.Payload = json.RawMessage(payload)
	}
	return op
}

func TestCoalesce_NewEntry(t *testing.T) {
	op, err := Coalesce(nil, Request{Kind: domain.KindTrip, EntityID: "t1", Action: models.ActionCreate,
		Payload: json.RawMessage(`{ "purpose" : "x" }`), Priority: 0}, t0, seqIDs())
	require.NoError(t, err)
	require.Equal(t, models.ActionCreate, op.Action)
	require.Equal(t, `{"purpose":"x"}`, string(op.Payload))
	require.Equal(t, "op-1", op.OpID)
	require.True(t, op.EnqueuedAt.Equal(t0))
	require.Zero(t, op.Attempts)
}

func TestCoalesce_Table(t *testing.T) {
	later := t0.Add(time.Minute)

	tests := []struct {
		name         string
		existing     *models.PendingOperation
		req          Request
		wantAction   models.Action
		wantPayload  string
		wantAttempts int
		wantPrio     int
		wantNewOpID  bool
		wantErr      error
	}{
		{
			name:         "create absorbs update",
			existing:     existingOp(models.ActionCreate, `{"ownerId":"u1","status":"active"}`),
			req:          Request{Action: models.ActionUpdate, Payload: json.RawMessage(`{"status":"cancelled"}`)},
			wantAction:   models.ActionCreate,
			wantPayload:  `{"ownerId":"u1","status":"cancelled"}`,
			wantAttempts: 2,
			wantPrio:     1,
			wantNewOpID:  true,
		},
		{
			name:         "update merges update and keeps higher priority",
			existing:     existingOp(models.ActionUpdate, `{"status":"cancelled"}`),
			req:          Request{Action: models.ActionUpdate, Payload: json.RawMessage(`{"note":"x"}`), Priority: 0},
			wantAction:   models.ActionUpdate,
			wantPayload:  `{"note":"x","status":"cancelled"}`,
			wantAttempts: 2,
			wantPrio:     1,
			wantNewOpID:  true,
		},
		{
			name:         "update stays update on create",
			existing:     existingOp(models.ActionUpdate, `{"note":"a"}`),
			req:          Request{Action: models.ActionCreate, Payload: json.RawMessage(`{"note":"b"}`), Priority: 3},
			wantAction:   models.ActionUpdate,
			wantPayload:  `{"note":"b"}`,
			wantAttempts: 2,
			wantPrio:     3,
			wantNewOpID:  true,
		},
		{
			name:         "delete supersedes create",
			existing:     existingOp(models.ActionCreate, `{"note":"a"}`),
			req:          Request{Action: models.ActionDelete, Payload: json.RawMessage(`{"ignored":true}`)},
			wantAction:   models.ActionDelete,
			wantAttempts: 0,
			wantPrio:     1,
			wantNewOpID:  true,
		},
		{
			name:         "delete supersedes update",
			existing:     existingOp(models.ActionUpdate, `{"note":"a"}`),
			req:          Request{Action: models.ActionDelete, Priority: 2},
			wantAction:   models.ActionDelete,
			wantAttempts: 0,
			wantPrio:     2,
			wantNewOpID:  true,
		},
		{
			name:         "delete twice is idempotent",
			existing:     existingOp(models.ActionDelete, ""),
			req:          Request{Action: models.ActionDelete},
			wantAction:   models.ActionDelete,
			wantAttempts: 2,
			wantPrio:     1,
		},
		{
			name:         "identical update is idempotent",
			existing:     existingOp(models.ActionUpdate, `{"note":"a"}`),
			req:          Request{Action: models.ActionUpdate, Payload: json.RawMessage(`{"note": "a"}`)},
			wantAction:   models.ActionUpdate,
			wantPayload:  `{"note":"a"}`,
			wantAttempts: 2,
			wantPrio:     1,
		},
		{
			name:     "update after delete is rejected",
			existing: existingOp(models.ActionDelete, ""),
			req:      Request{Action: models.ActionUpdate, Payload: json.RawMessage(`{"note":"a"}`)},
			wantErr:  common.ErrRecordDeleted,
		},
		{
			name:     "unknown action",
			existing: nil,
			req:      Request{Action: "UPSERT"},
			wantErr:  common.ErrUnknownAction,
		},
		{
			name:     "payload must be an object",
			existing: existingOp(models.ActionUpdate, `{"note":"a"}`),
			req:      Request{Action: models.ActionUpdate, Payload: json.RawMessage(`[1,2]`)},
			wantErr:  common.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Kind = domain.KindLicense
			tt.req.EntityID = "license-1"

			got, err := Coalesce(tt.existing, tt.req, later, seqIDs())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantAction, got.Action)
			if tt.wantPayload == "" {
				require.Empty(t, got.Payload)
			} else {
				require.JSONEq(t, tt.wantPayload, string(got.Payload))
			}
			require.Equal(t, tt.wantAttempts, got.Attempts)
			require.Equal(t, tt.wantPrio, got.Priority)
			require.True(t, got.EnqueuedAt.Equal(t0), "earliest enqueue time is kept")
			if tt.wantNewOpID {
				require.Equal(t, "op-1", got.OpID)
			} else {
				require.Equal(t, "op-old", got.OpID)
			}
			if got.Action != tt.existing.Action {
				require.True(t, got.NextAttemptAt.IsZero(), "backoff resets with the action")
				require.Empty(t, got.LastError)
			}
		})
	}
}

func TestCoalesce_ChangeUnparks(t *testing.T) {
	ex := existingOp(models.ActionUpdate, `{"note":"a"}`)
	ex.Parked = true

	got, err := Coalesce(ex, Request{Kind: ex.Kind, EntityID: ex.EntityID, Action: models.ActionUpdate,
		Payload: json.RawMessage(`{"note":"b"}`)}, t0, seqIDs())
	require.NoError(t, err)
	require.False(t, got.Parked)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}

	require.Equal(t, time.Duration(0), b.Delay(0))
	require.Equal(t, 1*time.Second, b.Delay(1))
	require.Equal(t, 4*time.Second, b.Delay(2))
	require.Equal(t, 25*time.Second, b.Delay(5))
	require.Equal(t, 30*time.Second, b.Delay(6))
	require.Equal(t, 30*time.Second, b.Delay(1_000_000))

	require.Equal(t, 8*time.Second, DefaultBackoff.Delay(2))
}
