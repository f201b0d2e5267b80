package models

import "fmt"

// SyncStatus is the per-record position in the sync state machine.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "SYNCED"
	StatusPendingUpload SyncStatus = "PENDING_UPLOAD"
	StatusPendingDelete SyncStatus = "PENDING_DELETE"
	StatusConflict      SyncStatus = "CONFLICT"
	StatusFailed        SyncStatus = "FAILED"
)

// StatusRemoved is not stored; it is published to observers when a record
// leaves the local store after a confirmed delete.
const StatusRemoved SyncStatus = "REMOVED"

// StatusNew is the pseudo-state of a record that does not exist yet.
const StatusNew SyncStatus = ""

var transitions = map[SyncStatus][]SyncStatus{
	StatusNew:           {StatusPendingUpload, StatusSynced},
	StatusSynced:        {StatusPendingUpload, StatusPendingDelete, StatusSynced},
	StatusPendingUpload: {StatusPendingUpload, StatusPendingDelete, StatusSynced, StatusConflict, StatusFailed},
	StatusPendingDelete: {StatusPendingDelete, StatusRemoved, StatusConflict, StatusFailed, StatusSynced},
	StatusConflict:      {StatusPendingUpload, StatusPendingDelete, StatusSynced, StatusRemoved, StatusFailed},
	StatusFailed:        {StatusPendingUpload, StatusPendingDelete, StatusSynced, StatusRemoved},
}

// CanTransition reports whether from -> to is a legal move.
//
// PENDING_DELETE -> SYNCED covers a conflict where the remote rejected the
// delete and its snapshot was accepted; FAILED -> SYNCED/REMOVED covers a
// user discard.
func CanTransition(from, to SyncStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to.
func Transition(from, to SyncStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal sync status transition %q -> %q", from, to)
	}
	return nil
}

// Pending reports whether the status still needs the remote.
func (s SyncStatus) Pending() bool {
	return s == StatusPendingUpload || s == StatusPendingDelete || s == StatusConflict
}

// Valid reports whether s may be stored.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusSynced, StatusPendingUpload, StatusPendingDelete, StatusConflict, StatusFailed:
		return true
	}
	return false
}
