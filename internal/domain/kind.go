// Package domain holds the entity kinds managed by the sync core and their
// payload value objects. The set of kinds is closed: adding one means adding
// a constant and a descriptor below.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/motiumsync/internal/common"
)

// EntityKind identifies a synchronised record type.
type EntityKind string

const (
	KindTrip    EntityKind = "trip"
	KindExpense EntityKind = "expense"
	KindLicense EntityKind = "license"
	KindConsent EntityKind = "consent"
)

// Descriptor is the static per-kind configuration.
type Descriptor struct {
	Kind EntityKind
	// Table is the local table holding records of this kind.
	Table string
	// Priority is used when the caller does not pass one explicitly.
	Priority int
	validate func(json.RawMessage) error
}

var descriptors = map[EntityKind]Descriptor{
	KindTrip:    {Kind: KindTrip, Table: "trips", Priority: 0, validate: validateAs[Trip, *Trip]},
	KindExpense: {Kind: KindExpense, Table: "expenses", Priority: 0, validate: validateAs[Expense, *Expense]},
	KindLicense: {Kind: KindLicense, Table: "licenses", Priority: 2, validate: validateAs[License, *License]},
	KindConsent: {Kind: KindConsent, Table: "consents", Priority: 1, validate: validateAs[Consent, *Consent]},
}

// Kinds lists all kinds in a stable order.
func Kinds() []EntityKind {
	return []EntityKind{KindTrip, KindExpense, KindLicense, KindConsent}
}

// ParseEntityKind converts a wire/CLI string into an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if _, ok := descriptors[k]; !ok {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k EntityKind) Valid() bool {
	_, ok := descriptors[k]
	return ok
}

// Describe returns the descriptor of k. Unknown kinds yield ok == false.
func (k EntityKind) Describe() (Descriptor, bool) {
	d, ok := descriptors[k]
	return d, ok
}

// Table returns the local table name; it panics for unknown kinds, which
// can only be produced by bypassing ParseEntityKind.
func (k EntityKind) Table() string {
	d, ok := descriptors[k]
	if !ok {
		panic(fmt.Sprintf("domain: unknown entity kind %q", string(k)))
	}
	return d.Table
}

// DefaultPriority is the queue priority used for k when none is given.
func (k EntityKind) DefaultPriority() int {
	return descriptors[k].Priority
}

// Validate checks a complete payload of kind k.
func Validate(k EntityKind, payload json.RawMessage) error {
	d, ok := descriptors[k]
	if !ok {
		return fmt.Errorf("%w: %q", common.ErrUnknownKind, string(k))
	}
	if len(payload) == 0 {
		return &common.ValidationError{Reason: "empty payload"}
	}
	return d.validate(payload)
}

type validator interface {
	Validate() error
}

func validateAs[T any, PT interface {
	*T
	validator
}](payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return &common.ValidationError{Reason: "malformed payload: " + err.Error()}
	}
	return PT(&v).Validate()
}
