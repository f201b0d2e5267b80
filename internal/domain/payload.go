package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
)

// Trip is a recorded drive.
type Trip struct {
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt,omitzero"`
	DistanceKm float64   `json:"distanceKm"`
	Purpose    string    `json:"purpose,omitempty"`
	VehicleID  string    `json:"vehicleId,omitempty"`
	Validated  bool      `json:"validated,omitempty"`
}

func (t *Trip) Validate() error {
	if t.StartedAt.IsZero() {
		return &common.ValidationError{Field: "startedAt", Reason: "required"}
	}
	if !t.EndedAt.IsZero() && t.EndedAt.Before(t.StartedAt) {
		return &common.ValidationError{Field: "endedAt", Reason: "before startedAt"}
	}
	if t.DistanceKm < 0 {
		return &common.ValidationError{Field: "distanceKm", Reason: "negative"}
	}
	return nil
}

// Expense is a cost attached (optionally) to a trip. Amount is in minor units.
type Expense struct {
	TripID     string `json:"tripId,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Category   string `json:"category,omitempty"`
	Note       string `json:"note,omitempty"`
	ReceiptKey string `json:"receiptKey,omitempty"`
}

func (e *Expense) Validate() error {
	if e.Amount < 0 {
		return &common.ValidationError{Field: "amount", Reason: "negative"}
	}
	if len(e.Currency) != 3 {
		return &common.ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	}
	return nil
}

type LicenseStatus string

const (
	LicenseActive    LicenseStatus = "active"
	LicensePending   LicenseStatus = "pending"
	LicenseCancelled LicenseStatus = "cancelled"
)

type Billing string

const (
	BillingMonthly  Billing = "monthly"
	BillingLifetime Billing = "lifetime"
)

// License is a seat bought by OwnerID and optionally linked to another account.
type License struct {
	OwnerID         string        `json:"ownerId"`
	LinkedAccountID string        `json:"linkedAccountId,omitempty"`
	Status          LicenseStatus `json:"status"`
	Billing         Billing       `json:"billing"`
	PaidUntil       time.Time     `json:"paidUntil,omitzero"`
	UnlinkAt        time.Time     `json:"unlinkAt,omitzero"`
	Note            string        `json:"note,omitempty"`
}

func (l *License) Validate() error {
	if l.OwnerID == "" {
		return &common.ValidationError{Field: "ownerId", Reason: "required"}
	}
	switch l.Status {
	case LicenseActive, LicensePending, LicenseCancelled:
	default:
		return &common.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", l.Status)}
	}
	switch l.Billing {
	case BillingMonthly, BillingLifetime:
	default:
		return &common.ValidationError{Field: "billing", Reason: fmt.Sprintf("unknown value %q", l.Billing)}
	}
	return nil
}

// Assigned reports whether the seat is currently given to an account.
func (l *License) Assigned() bool {
	return l.LinkedAccountID != "" && l.Status != LicenseCancelled
}

// Consent is the user's answer to a versioned policy.
type Consent struct {
	UserID        string    `json:"userId"`
	Purpose       string    `json:"purpose"`
	PolicyVersion int       `json:"policyVersion"`
	Granted       bool      `json:"granted"`
	GrantedAt     time.Time `json:"grantedAt,omitzero"`
}

func (c *Consent) Validate() error {
	if c.UserID == "" {
		return &common.ValidationError{Field: "userId", Reason: "required"}
	}
	if c.Purpose == "" {
		return &common.ValidationError{Field: "purpose", Reason: "required"}
	}
	if c.PolicyVersion < 1 {
		return &common.ValidationError{Field: "policyVersion", Reason: "must be positive"}
	}
	return nil
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// Encode marshals a payload value.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// MergePayload overlays the top-level keys of diff onto base. Either side may
// be empty; both must otherwise be JSON objects.
func MergePayload(base, diff json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(diff)) == 0 {
		return base, nil
	}
	if len(bytes.TrimSpace(base)) == 0 {
		return diff, nil
	}
	var b, d map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, fmt.Errorf("merge base: %w", err)
	}
	if err := json.Unmarshal(diff, &d); err != nil {
		return nil, fmt.Errorf("merge diff: %w", err)
	}
	if b == nil {
		b = make(map[string]json.RawMessage, len(d))
	}
	for k, v := range d {
		b[k] = v
	}
	return json.Marshal(b)
}

// ChangedKeys returns the top-level keys present in diff.
func ChangedKeys(diff json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(diff)) == 0 {
		return nil, nil
	}
	var d map[string]json.RawMessage
	if err := json.Unmarshal(diff, &d); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	return keys, nil
}

// PickKeys copies the listed keys of src into a new JSON object.
func PickKeys(src json.RawMessage, keys []string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(src, &m); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
