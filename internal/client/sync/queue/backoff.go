package queue

import "time"

// Backoff is the retry delay policy: min(attempts² × Base, Cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff waits 2s, 8s, 18s, ... up to five minutes.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}

// Delay returns the wait before the next try after attempts failures.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	a := time.Duration(attempts)
	// guard the multiplication before it can overflow
	if b.Base > 0 && a*a > b.Cap/b.Base {
		return b.Cap
	}
	return min(a*a*b.Base, b.Cap)
}
