// Package models holds the server-side persistence types.
package models

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/rpc"
)

// Record is the authoritative copy of one entity, scoped to its owner.
// A deleted record is a tombstone: it keeps its version so stale writes
// still conflict.
type Record struct {
	UserID    string
	Kind      string
	ID        string
	Payload   json.RawMessage
	Version   int64
	UpdatedAt time.Time
	Deleted   bool
	// LastOpID is the idempotency key of the write that produced Version.
	LastOpID string
}

// Snapshot is the wire form sent to clients.
func (r *Record) Snapshot() rpc.Snapshot {
	return rpc.Snapshot{
		Kind:      r.Kind,
		ID:        r.ID,
		Payload:   r.Payload,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
}
