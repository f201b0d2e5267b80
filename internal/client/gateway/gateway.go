// Package gateway is the client's view of the remote backend.
//
// Writes return a tagged Result instead of an error so the drain worker can
// branch exhaustively on the outcome.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Outcome classifies a remote write.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	// OutcomeTransient covers timeouts, 5xx and loss of connectivity.
	OutcomeTransient
	// OutcomeConflict means the remote version moved past the expected one.
	OutcomeConflict
	// OutcomeValidation is a permanent rejection.
	OutcomeValidation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeConflict:
		return "conflict"
	case OutcomeValidation:
		return "validation"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result of Upsert or Delete.
type Result struct {
	Outcome Outcome

	// Version and UpdatedAt are set on success.
	Version   int64
	UpdatedAt time.Time

	// Conflict is the current remote copy, set on OutcomeConflict.
	Conflict *models.RemoteSnapshot

	// Offline is set on transient failures caused by lost connectivity.
	Offline bool

	// Err carries the underlying failure for logging and lastError.
	Err error
}

func Success(version int64, updatedAt time.Time) Result {
	return Result{Outcome: OutcomeSuccess, Version: version, UpdatedAt: updatedAt}
}

func Transient(err error, offline bool) Result {
	return Result{Outcome: OutcomeTransient, Err: err, Offline: offline}
}

func Conflict(snap *models.RemoteSnapshot, err error) Result {
	return Result{Outcome: OutcomeConflict, Conflict: snap, Err: err}
}

func Validation(err error) Result {
	return Result{Outcome: OutcomeValidation, Err: err}
}

// UpsertRequest is a create or update. ExpectedVersion zero asks the remote
// to create.
type UpsertRequest struct {
	Kind            domain.EntityKind
	ID              string
	Payload         json.RawMessage
	ExpectedVersion int64
	OpID            string
}

type DeleteRequest struct {
	Kind            domain.EntityKind
	ID              string
	ExpectedVersion int64
	OpID            string
}

// Receipt holds presigned object storage URLs for an expense receipt.
type Receipt struct {
	Key    string
	PutURL string
	GetURL string
}

// Gateway performs authoritative remote writes. Implementations must be
// safe for concurrent use.
type Gateway interface {
	Upsert(ctx context.Context, req UpsertRequest) Result
	Delete(ctx context.Context, req DeleteRequest) Result
	// Fetch returns the remote copy or common.ErrorNotFound.
	Fetch(ctx context.Context, kind domain.EntityKind, id string) (*models.RemoteSnapshot, error)
	Ping(ctx context.Context) error
	PresignReceipt(ctx context.Context, expenseID, contentType string) (*Receipt, error)
}
