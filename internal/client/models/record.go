// Package models defines the client-side sync records: the local copy of an
// entity with its sync metadata, and the operations queued for the remote.
package models

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// LocalRecord is a domain entity plus sync metadata as stored on the device.
type LocalRecord struct {
	Kind domain.EntityKind
	// ID is client generated (UUID) so records can be created offline.
	ID      string
	Payload json.RawMessage
	Status  SyncStatus

	// LocalUpdatedAt is the time of the last local mutation.
	LocalUpdatedAt time.Time
	// ServerUpdatedAt is the last remote-confirmed time; zero if never synced.
	ServerUpdatedAt time.Time
	// Version is the last remote-confirmed version; zero if never synced.
	Version int64

	// LastError is the most recent failure surfaced to the user.
	LastError string
	// RetryAction is the action re-enqueued when the user retries a FAILED record.
	RetryAction Action
}

// EverSynced reports whether the remote has ever confirmed this record.
func (r *LocalRecord) EverSynced() bool {
	return r.Version > 0
}

// ExpectedVersion is the version an outbound write must be checked against;
// zero means "no expectation" (a create).
func (r *LocalRecord) ExpectedVersion() int64 {
	return r.Version
}

// Key identifies a record across kinds.
type Key struct {
	Kind domain.EntityKind
	ID   string
}

func (r *LocalRecord) Key() Key {
	return Key{Kind: r.Kind, ID: r.ID}
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}
