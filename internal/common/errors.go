// Package common defines shared constants and sentinel errors used across
// client and server layers of motiumsync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Validation errors.
	ErrValidation    = errors.New("validation error")
	ErrUnknownKind   = errors.New("unknown entity kind")
	ErrUnknownAction = errors.New("unknown action")
	ErrRecordDeleted = errors.New("record is pending delete")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Sync engine errors.
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrNotStarted      = errors.New("sync core not started")
	ErrNothingToRetry  = errors.New("record is not in a failed state")
	ErrPendingChanges  = errors.New("record has unsynced local changes")
)

// LocalStorageError marks a failure of the on-device store. It is reported
// and logged but never aborts processing of unrelated records.
type LocalStorageError struct {
	Op  string
	Err error
}

func (e *LocalStorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

func (e *LocalStorageError) Unwrap() error { return e.Err }

// WrapLocal wraps err into a LocalStorageError unless it is nil.
func WrapLocal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalStorageError{Op: op, Err: err}
}

// ValidationError reports a rejected payload together with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
