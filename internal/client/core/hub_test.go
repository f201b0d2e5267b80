package core

import (
	"fmt"
	"testing"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	h := NewHub()
	key := models.Key{Kind: domain.KindTrip, ID: "t1"}
	ch, stop := h.Subscribe(key)
	defer stop()

	for i := 0; i < subscriberBuffer+3; i++ {
		h.Publish(key, models.SyncStatus(fmt.Sprint(i)))
	}
	h.Publish(key, models.StatusSynced)

	var last models.SyncStatus
	for len(ch) > 0 {
		last = <-ch
	}
	require.Equal(t, models.StatusSynced, last)
}

func TestHub_OnlyMatchingKey(t *testing.T) {
	h := NewHub()
	ch, stop := h.Subscribe(models.Key{Kind: domain.KindTrip, ID: "t1"})
	defer stop()

	h.Publish(models.Key{Kind: domain.KindTrip, ID: "t2"}, models.StatusSynced)
	require.Empty(t, ch)
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := NewHub()
	ch, stop := h.Subscribe(models.Key{Kind: domain.KindTrip, ID: "t1"})
	h.Close()
	_, open := <-ch
	require.False(t, open)
	stop() // no double close

	late, _ := h.Subscribe(models.Key{Kind: domain.KindTrip, ID: "t1"})
	_, open = <-late
	require.False(t, open)
}

func TestHub_SeedSkipsEndedAndUpdatedSubscriptions(t *testing.T) {
	h := NewHub()
	key := models.Key{Kind: domain.KindTrip, ID: "t1"}

	ch, stop := h.subscribe(key)
	h.Publish(key, models.StatusSynced)
	h.seed(key, ch, models.StatusPendingUpload)
	require.Equal(t, models.StatusSynced, <-ch)
	require.Empty(t, ch)

	h.seed(key, ch, models.StatusPendingUpload)
	require.Equal(t, models.StatusPendingUpload, <-ch)

	stop()
	require.NotPanics(t, func() { h.seed(key, ch, models.StatusFailed) })

	h.Close()
	late, _ := h.subscribe(key)
	require.NotPanics(t, func() { h.seed(key, late, models.StatusFailed) })
	_, open := <-late
	require.False(t, open)
}
