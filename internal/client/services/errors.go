package services

import "errors"

var (
	// ErrAlreadyLicensed is returned when an account already holds an active seat.
	ErrAlreadyLicensed = errors.New("account already has an active license")
	// ErrLicenseInUse is returned when assigning a seat linked to another account.
	ErrLicenseInUse = errors.New("license is assigned to another account")
	// ErrLicenseCancelled is returned for changes to a cancelled seat.
	ErrLicenseCancelled = errors.New("license is cancelled")
	// ErrStalePolicy is returned when answering an older policy than the stored one.
	ErrStalePolicy = errors.New("consent exists for a newer policy version")
	// ErrTripValidated is returned when editing a validated trip.
	ErrTripValidated = errors.New("trip is validated")
)
