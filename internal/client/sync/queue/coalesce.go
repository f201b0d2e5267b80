// Package queue implements the pending-operation queue: coalescing of local
// changes into a single outstanding operation per record, strict priority
// dequeue, and attempt accounting with capped quadratic backoff.
package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Request is a single enqueue call.
type Request struct {
	Kind     domain.EntityKind
	EntityID string
	Action   models.Action
	// Payload is the diff carried by CREATE/UPDATE; ignored for DELETE.
	Payload  json.RawMessage
	Priority int
}

// normalize re-encodes a JSON object so equal payloads compare byte-equal.
func normalize(p json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(p)) == 0 {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(p, &m); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", common.ErrValidation)
	}
	return json.Marshal(m)
}

// Coalesce folds req into the existing entry for the same record (nil if
// none) and returns the entry to store.
//
//	existing   incoming   result
//	-          any        incoming as is
//	CREATE     CREATE     CREATE, payload merged
//	CREATE     UPDATE     CREATE, payload merged
//	UPDATE     CREATE     UPDATE, payload merged
//	UPDATE     UPDATE     UPDATE, payload merged
//	any        DELETE     DELETE, payload dropped
//	DELETE     DELETE     unchanged
//	DELETE     CREATE     common.ErrRecordDeleted
//	DELETE     UPDATE     common.ErrRecordDeleted
//
// The earliest EnqueuedAt and the highest priority are kept. Attempts (and
// the backoff deadline) reset only when the action changes. A fresh OpID is
// minted whenever the action or payload changes, so a replay of an older
// request can be told apart from the current one.
func Coalesce(existing *models.PendingOperation, req Request, now time.Time, newOpID func() string) (models.PendingOperation, error) {
	if _, err := models.ParseAction(string(req.Action)); err != nil {
		return models.PendingOperation{}, err
	}

	payload, err := normalize(req.Payload)
	if err != nil {
		return models.PendingOperation{}, err
	}
	if req.Action == models.ActionDelete {
		payload = nil
	}

	if existing == nil {
		return models.PendingOperation{
			Kind:       req.Kind,
			EntityID:   req.EntityID,
			Action:     req.Action,
			Payload:    payload,
			Priority:   req.Priority,
			EnqueuedAt: now,
			OpID:       newOpID(),
		}, nil
	}

	out := *existing
	out.Priority = max(existing.Priority, req.Priority)

	switch {
	case req.Action == models.ActionDelete:
		out.Action = models.ActionDelete
		out.Payload = nil
	case existing.Action == models.ActionDelete:
		return models.PendingOperation{}, fmt.Errorf("%w: %s %s", common.ErrRecordDeleted, req.Kind, req.EntityID)
	default:
		merged, err := domain.MergePayload(existing.Payload, payload)
		if err != nil {
			return models.PendingOperation{}, err
		}
		if merged, err = normalize(merged); err != nil {
			return models.PendingOperation{}, err
		}
		out.Payload = merged
		// CREATE absorbs UPDATE; an UPDATE never turns back into a CREATE.
	}

	if out.Action != existing.Action {
		out.Attempts = 0
		out.NextAttemptAt = time.Time{}
		out.LastError = ""
	}

	changed := out.Action != existing.Action || !bytes.Equal(out.Payload, existing.Payload)
	if changed {
		out.OpID = newOpID()
		out.Parked = false
	}
	return out, nil
}
