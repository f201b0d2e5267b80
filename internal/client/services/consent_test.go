package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestConsentService_Versioning(t *testing.T) {
	remote, clk := newWorld(t)
	d := newDevice(t, "a", remote, clk)
	ctx := context.Background()

	id, err := d.Consents.Grant(ctx, "u1", "analytics", 2)
	require.NoError(t, err)
	require.Equal(t, ConsentID("u1", "analytics"), id)
	require.NotEqual(t, ConsentID("u1", "marketing"), id)

	_, err = d.Consents.Grant(ctx, "u1", "analytics", 1)
	require.ErrorIs(t, err, ErrStalePolicy)

	_, err = d.Consents.Revoke(ctx, "u1", "analytics", 2)
	require.NoError(t, err)
	c, err := d.Consents.Current(ctx, "u1", "analytics")
	require.NoError(t, err)
	require.False(t, c.Value.Granted)
	require.Equal(t, 2, c.Value.PolicyVersion)

	d.drain(t)
	op := d.queued(t, domain.KindConsent, id)
	require.Nil(t, op)

	_, err = d.Consents.Revoke(ctx, "u1", "analytics", 2)
	require.NoError(t, err)
	require.Nil(t, d.queued(t, domain.KindConsent, id), "same answer queues nothing")
}

// Both devices answer the same policy question offline. The answer for
// the newer policy wins regardless of which device syncs first.
func TestConsent_HigherPolicyWinsInEitherOrder(t *testing.T) {
	for _, newerFirst := range []bool{true, false} {
		name := "older first"
		if newerFirst {
			name = "newer first"
		}
		t.Run(name, func(t *testing.T) {
			remote, clk := newWorld(t)
			a := newDevice(t, "a", remote, clk)
			b := newDevice(t, "b", remote, clk)
			ctx := context.Background()

			id, err := a.Consents.Grant(ctx, "u1", "analytics", 3)
			require.NoError(t, err)
			_, err = b.Consents.Revoke(ctx, "u1", "analytics", 2)
			require.NoError(t, err)

			if newerFirst {
				a.drain(t)
				require.Equal(t, 1, b.drain(t).Conflicts)
			} else {
				b.drain(t)
				require.Equal(t, 1, a.drain(t).Conflicts)
				b.pull(t, domain.KindConsent, id)
			}

			onRemote, err := domain.Decode[domain.Consent](remote.Snapshot(domain.KindConsent, id).Payload)
			require.NoError(t, err)
			require.Equal(t, 3, onRemote.PolicyVersion)
			require.True(t, onRemote.Granted)

			for _, d := range []*device{a, b} {
				c, err := d.Consents.Current(ctx, "u1", "analytics")
				require.NoError(t, err)
				require.Equal(t, models.StatusSynced, c.Status)
				require.Equal(t, 3, c.Value.PolicyVersion)
			}
		})
	}
}

func TestConsentHigherPolicyWins(t *testing.T) {
	consent := func(v int) json.RawMessage {
		raw, err := domain.Encode(domain.Consent{UserID: "u", Purpose: "p", PolicyVersion: v, Granted: true})
		require.NoError(t, err)
		return raw
	}
	decide := func(local, remote int) conflict.Decision {
		return ConsentHigherPolicyWins(conflict.Conflict{
			Local:  &models.LocalRecord{Kind: domain.KindConsent, Payload: consent(local)},
			Remote: models.RemoteSnapshot{Payload: consent(remote)},
		}).Decision
	}
	require.Equal(t, conflict.KeepLocalRetry, decide(4, 3))
	require.Equal(t, conflict.AcceptRemote, decide(3, 4))
	require.Equal(t, conflict.Defer, decide(3, 3))

	v := ConsentHigherPolicyWins(conflict.Conflict{
		Local:  &models.LocalRecord{Kind: domain.KindConsent, Payload: consent(3)},
		Remote: models.RemoteSnapshot{Deleted: true},
	})
	require.Equal(t, conflict.Defer, v.Decision)
}
