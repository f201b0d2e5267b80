package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Action is what the remote is asked to do with a record.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownAction, s)
}

// PendingOperation is a queued remote write. At most one exists per
// (Kind, EntityID).
type PendingOperation struct {
	Kind     domain.EntityKind
	EntityID string
	Action   Action
	// Payload is the accumulated diff of local changes; empty for deletes.
	Payload  json.RawMessage
	Priority int

	EnqueuedAt time.Time
	Attempts   int
	LastError  string

	// OpID is the idempotency key sent to the remote. It changes whenever
	// the operation's action or payload changes.
	OpID string
	// NextAttemptAt holds the backoff deadline; zero means immediately.
	NextAttemptAt time.Time
	// Parked entries exhausted their retries and wait for the user.
	Parked bool
}

func (o *PendingOperation) Key() Key {
	return Key{Kind: o.Kind, ID: o.EntityID}
}

// ReadyAt reports whether the operation may be dispatched at now.
func (o *PendingOperation) ReadyAt(now time.Time) bool {
	return !o.Parked && !o.NextAttemptAt.After(now)
}
