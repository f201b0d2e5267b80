// Package gatewaytest provides an in-memory remote for tests of code built
// on the sync core.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
)

type row struct {
	payload   json.RawMessage
	version   int64
	updatedAt time.Time
	deleted   bool
	lastOp    string
}

// Memory is an authoritative store with the backend's optimistic versioning
// and op-id replay rules. It is safe for concurrent use, so several cores
// (devices) can share one instance.
type Memory struct {
	mu      sync.Mutex
	rows    map[models.Key]*row
	clock   clock.Clock
	offline bool
	writes  int

	// ReceiptBaseURL prefixes presigned receipt URLs.
	ReceiptBaseURL string
}

func NewMemory(c clock.Clock) *Memory {
	return &Memory{rows: map[models.Key]*row{}, clock: c}
}

// SetOffline makes every call fail as if the network were down.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Writes counts applied upserts and deletes, replays excluded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Seed stores a row directly.
func (m *Memory) Seed(kind domain.EntityKind, id string, payload json.RawMessage, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[models.Key{Kind: kind, ID: id}] = &row{payload: payload, version: version, updatedAt: m.clock.Now()}
}

// Snapshot returns the stored row or nil.
func (m *Memory) Snapshot(kind domain.EntityKind, id string) *models.RemoteSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[models.Key{Kind: kind, ID: id}]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func (r *row) snapshot() *models.RemoteSnapshot {
	return &models.RemoteSnapshot{Payload: r.payload, UpdatedAt: r.updatedAt, Version: r.version, Deleted: r.deleted}
}

func (m *Memory) unavailable() gateway.Result {
	return gateway.Transient(gateway.ErrUnavailable, true)
}

func (m *Memory) Upsert(_ context.Context, req gateway.UpsertRequest) gateway.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return m.unavailable()
	}
	if err := domain.Validate(req.Kind, req.Payload); err != nil {
		return gateway.Validation(err)
	}

	key := models.Key{Kind: req.Kind, ID: req.ID}
	r, ok := m.rows[key]
	switch {
	case ok && req.OpID != "" && r.lastOp == req.OpID:
		return gateway.Success(r.version, r.updatedAt)
	case !ok && req.ExpectedVersion == 0:
		r = &row{}
		m.rows[key] = r
	case !ok:
		return gateway.Validation(fmt.Errorf("%s %s: %w", req.Kind, req.ID, common.ErrorNotFound))
	case r.version != req.ExpectedVersion || r.deleted:
		return gateway.Conflict(r.snapshot(), common.ErrVersionConflict)
	}

	r.payload = req.Payload
	r.version++
	r.updatedAt = m.clock.Now()
	r.lastOp = req.OpID
	m.writes++
	return gateway.Success(r.version, r.updatedAt)
}

func (m *Memory) Delete(_ context.Context, req gateway.DeleteRequest) gateway.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return m.unavailable()
	}

	r, ok := m.rows[models.Key{Kind: req.Kind, ID: req.ID}]
	switch {
	case !ok:
		return gateway.Success(0, m.clock.Now())
	case r.deleted || (req.OpID != "" && r.lastOp == req.OpID):
		return gateway.Success(r.version, r.updatedAt)
	case r.version != req.ExpectedVersion:
		return gateway.Conflict(r.snapshot(), common.ErrVersionConflict)
	}

	r.deleted = true
	r.version++
	r.updatedAt = m.clock.Now()
	r.lastOp = req.OpID
	m.writes++
	return gateway.Success(r.version, r.updatedAt)
}

func (m *Memory) Fetch(_ context.Context, kind domain.EntityKind, id string) (*models.RemoteSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, gateway.ErrUnavailable
	}
	r, ok := m.rows[models.Key{Kind: kind, ID: id}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.snapshot(), nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return gateway.ErrUnavailable
	}
	return nil
}

func (m *Memory) PresignReceipt(_ context.Context, expenseID, _ string) (*gateway.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, gateway.ErrUnavailable
	}
	if m.ReceiptBaseURL == "" {
		return nil, errors.New("receipts not configured")
	}
	key := "receipts/" + expenseID
	return &gateway.Receipt{
		Key:    key,
		PutURL: m.ReceiptBaseURL + "/" + key + "?sig=put",
		GetURL: m.ReceiptBaseURL + "/" + key + "?sig=get",
	}, nil
}
