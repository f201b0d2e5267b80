// Package conflict decides what happens when the remote rejects a write
// because its version moved on.
//
// The default policy is last-writer-wins by timestamp. Entity kinds with
// business constraints register an Override at startup; an override that
// returns Defer falls back to the default.
package conflict

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Decision is the resolver's verdict kind.
type Decision int

const (
	// Defer is only meaningful from an Override: use the default rule.
	Defer Decision = iota
	// AcceptRemote discards the pending local write and adopts the remote copy.
	AcceptRemote
	// KeepLocalRetry re-sends the local write against the remote version.
	KeepLocalRetry
	// Merge re-sends Verdict.Payload against the remote version.
	Merge
)

func (d Decision) String() string {
	switch d {
	case Defer:
		return "defer"
	case AcceptRemote:
		return "accept_remote"
	case KeepLocalRetry:
		return "keep_local_retry"
	case Merge:
		return "merge"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Conflict is everything known about a rejected write.
type Conflict struct {
	Local *models.LocalRecord
	// Pending is the queued operation that was rejected; it carries the
	// diff of local changes since the last sync. May be nil.
	Pending       *models.PendingOperation
	RemoteVersion int64
	Remote        models.RemoteSnapshot
}

// Verdict is the outcome of Resolve.
type Verdict struct {
	Decision Decision
	// Payload is the full record payload to send for Merge.
	Payload json.RawMessage
	// Reason is a short note for the conflict log.
	Reason string
}

// Override decides a conflict for one entity kind.
type Override func(c Conflict) Verdict

// Resolver applies per-kind overrides on top of last-writer-wins.
// Safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	overrides map[domain.EntityKind]Override
}

func New() *Resolver {
	return &Resolver{overrides: make(map[domain.EntityKind]Override)}
}

// Register installs fn for kind, replacing any previous override.
func (r *Resolver) Register(kind domain.EntityKind, fn Override) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[kind] = fn
}

// Resolve returns the verdict for c. It never returns Defer. A remote
// tombstone always wins: the backend refuses writes to deleted rows, so a
// local retry could never land.
func (r *Resolver) Resolve(c Conflict) Verdict {
	if c.Remote.Deleted {
		return Verdict{Decision: AcceptRemote, Reason: "remote deleted"}
	}

	r.mu.RLock()
	fn := r.overrides[c.Local.Kind]
	r.mu.RUnlock()

	if fn != nil {
		v := fn(c)
		if v.Decision == Merge && len(v.Payload) == 0 {
			v = Verdict{Decision: KeepLocalRetry, Reason: v.Reason}
		}
		if v.Decision != Defer {
			return v
		}
	}
	return LastWriterWins(c)
}

// LastWriterWins keeps the local write only if it is strictly newer than
// a live remote copy.
func LastWriterWins(c Conflict) Verdict {
	if !c.Remote.Deleted && c.Local.LocalUpdatedAt.After(c.Remote.UpdatedAt) {
		return Verdict{Decision: KeepLocalRetry, Reason: "lww: local newer"}
	}
	return Verdict{Decision: AcceptRemote, Reason: "lww: remote newer"}
}
