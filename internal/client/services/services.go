// Package services contains the typed entity facades used by the app:
// trips, expenses, licenses and consents. They own business rules and
// conflict overrides; durability and replay are left to the sync core.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

// Core is the part of the sync core the services rely on.
type Core interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx *core.Tx) error) error
	Get(ctx context.Context, kind domain.EntityKind, id string) (*models.LocalRecord, error)
	List(ctx context.Context, kind domain.EntityKind) ([]*models.LocalRecord, error)
	Resolver() *conflict.Resolver
	Gateway() gateway.Gateway
	Clock() clock.Clock
}

// Item is a decoded local record together with its sync state.
type Item[T any] struct {
	ID        string
	Value     T
	Status    models.SyncStatus
	Version   int64
	LastError string
}

func itemOf[T any](rec *models.LocalRecord) (Item[T], error) {
	v, err := domain.Decode[T](rec.Payload)
	if err != nil {
		return Item[T]{}, fmt.Errorf("%s %s: %w", rec.Kind, rec.ID, err)
	}
	return Item[T]{ID: rec.ID, Value: v, Status: rec.Status, Version: rec.Version, LastError: rec.LastError}, nil
}

// Services bundles the entity facades.
type Services struct {
	Trips    TripService
	Expenses ExpenseService
	Licenses LicenseService
	Consents ConsentService
}

// New builds every service on c and registers their conflict overrides.
// Call it before the core's Init.
func New(c Core, httpClient *http.Client) *Services {
	RegisterOverrides(c.Resolver())
	return &Services{
		Trips:    NewTripService(c),
		Expenses: NewExpenseService(c, httpClient),
		Licenses: NewLicenseService(c),
		Consents: NewConsentService(c),
	}
}

// RegisterOverrides installs the per-kind conflict rules.
func RegisterOverrides(r *conflict.Resolver) {
	r.Register(domain.KindLicense, LicenseUnassignWins)
	r.Register(domain.KindConsent, ConsentHigherPolicyWins)
	r.Register(domain.KindExpense, ExpenseFieldMerge)
}

func get[T any](ctx context.Context, c Core, kind domain.EntityKind, id string) (Item[T], error) {
	rec, err := c.Get(ctx, kind, id)
	if err != nil {
		return Item[T]{}, err
	}
	return itemOf[T](rec)
}

// list returns every record of kind except those waiting to be deleted.
func list[T any](ctx context.Context, c Core, kind domain.EntityKind) ([]Item[T], error) {
	recs, err := c.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	items := make([]Item[T], 0, len(recs))
	for _, rec := range recs {
		if rec.Status == models.StatusPendingDelete {
			continue
		}
		it, err := itemOf[T](rec)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func create(ctx context.Context, tx *core.Tx, kind domain.EntityKind, id string, v any) error {
	raw, err := domain.Encode(v)
	if err != nil {
		return err
	}
	_, err = tx.QueueOperation(ctx, kind, id, models.ActionCreate, raw, kind.DefaultPriority())
	return err
}

// edit decodes the record, applies fn and queues only the fields fn changed.
// An edit that changes nothing queues nothing.
func edit[T any](ctx context.Context, tx *core.Tx, kind domain.EntityKind, id string, priority int, fn func(v *T) error) error {
	rec, err := tx.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	v, err := domain.Decode[T](rec.Payload)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	after, err := domain.Encode(v)
	if err != nil {
		return err
	}
	diff, err := diffPayload(rec.Payload, after)
	if err != nil || diff == nil {
		return err
	}
	_, err = tx.QueueOperation(ctx, kind, id, models.ActionUpdate, diff, priority)
	return err
}

func remove(ctx context.Context, tx *core.Tx, kind domain.EntityKind, id string, priority int) error {
	_, err := tx.QueueOperation(ctx, kind, id, models.ActionDelete, nil, priority)
	return err
}

// diffPayload returns the top-level keys whose value differs between before
// and after. Keys missing from after are reported as null. Nil means equal.
func diffPayload(before, after json.RawMessage) (json.RawMessage, error) {
	var b, a map[string]json.RawMessage
	if len(before) > 0 {
		if err := json.Unmarshal(before, &b); err != nil {
			return nil, fmt.Errorf("diff: %w", err)
		}
	}
	if err := json.Unmarshal(after, &a); err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	diff := make(map[string]json.RawMessage)
	for k, v := range a {
		if old, ok := b[k]; !ok || !jsonEqual(old, v) {
			diff[k] = v
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			diff[k] = json.RawMessage("null")
		}
	}
	if len(diff) == 0 {
		return nil, nil
	}
	return json.Marshal(diff)
}

func jsonEqual(x, y json.RawMessage) bool {
	if bytes.Equal(x, y) {
		return true
	}
	var a, b any
	if json.Unmarshal(x, &a) != nil || json.Unmarshal(y, &b) != nil {
		return false
	}
	ca, _ := json.Marshal(a)
	cb, _ := json.Marshal(b)
	return bytes.Equal(ca, cb)
}

// diffKeys decodes a queued diff into its raw fields.
func diffKeys(op *models.PendingOperation) map[string]json.RawMessage {
	if op == nil || len(op.Payload) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return nil
	}
	return m
}
