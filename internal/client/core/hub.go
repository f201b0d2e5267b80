package core

import (
	"sync"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
)

const subscriberBuffer = 8

// Hub fans committed status changes out to per-record subscribers.
// A slow subscriber loses its oldest undelivered statuses, never the newest.
type Hub struct {
	mu     sync.Mutex
	subs   map[models.Key]map[chan models.SyncStatus]struct{}
	closed bool
	done   chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[models.Key]map[chan models.SyncStatus]struct{}),
		done: make(chan struct{}),
	}
}

// Publish implements drain.Notifier.
func (h *Hub) Publish(key models.Key, status models.SyncStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[key] {
		offer(ch, status)
	}
}

func offer(ch chan models.SyncStatus, s models.SyncStatus) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel of statuses for key and a func that closes it.
// On a closed hub the channel is returned already closed.
func (h *Hub) Subscribe(key models.Key) (<-chan models.SyncStatus, func()) {
	return h.subscribe(key)
}

func (h *Hub) subscribe(key models.Key) (chan models.SyncStatus, func()) {
	ch := make(chan models.SyncStatus, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan models.SyncStatus]struct{})
	}
	h.subs[key][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[key][ch]; !ok {
				return
			}
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			close(ch)
		})
	}
}

// seed delivers the current status to a fresh subscriber unless the
// subscription already ended or a newer status was published meanwhile.
func (h *Hub) seed(key models.Key, ch chan models.SyncStatus, s models.SyncStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[key][ch]; !ok || len(ch) > 0 {
		return
	}
	offer(ch, s)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for key, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, key)
	}
}
