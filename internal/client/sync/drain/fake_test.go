package drain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/gateway"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/repositories/records"
	"github.com/dmitrijs2005/motiumsync/internal/client/storage/storagetest"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/queue"
	"github.com/dmitrijs2005/motiumsync/internal/clock"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/dbx"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type remoteRow struct {
	payload   json.RawMessage
	version   int64
	updatedAt time.Time
	deleted   bool
	lastOp    string
}

// fakeRemote is an in-memory authoritative store with the backend's
// versioning and op-id rules. hook, when set, runs before the write and
// may short-circuit it.
type fakeRemote struct {
	mu    sync.Mutex
	rows  map[models.Key]*remoteRow
	clock *clock.Manual
	calls int

	hook func(ctx context.Context, key models.Key) (gateway.Result, bool)
	// timeoutsAfterApply makes the next n writes apply and then report a timeout.
	timeoutsAfterApply int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: map[models.Key]*remoteRow{}, clock: clock.NewManual(t0.Add(-time.Hour))}
}

func (f *fakeRemote) seed(kind domain.EntityKind, id, payload string, version int64, at time.Time) {
	f.rows[models.Key{Kind: kind, ID: id}] = &remoteRow{payload: json.RawMessage(payload), version: version, updatedAt: at}
}

func (f *fakeRemote) tombstone(kind domain.EntityKind, id string, version int64, at time.Time) {
	f.rows[models.Key{Kind: kind, ID: id}] = &remoteRow{version: version, updatedAt: at, deleted: true}
}

func (f *fakeRemote) row(kind domain.EntityKind, id string) *remoteRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[models.Key{Kind: kind, ID: id}]
}

func (f *fakeRemote) snapshot(r *remoteRow) *models.RemoteSnapshot {
	return &models.RemoteSnapshot{Payload: r.payload, UpdatedAt: r.updatedAt, Version: r.version, Deleted: r.deleted}
}

func (f *fakeRemote) before(ctx context.Context, key models.Key) (gateway.Result, bool) {
	f.calls++
	if f.hook == nil {
		return gateway.Result{}, false
	}
	f.mu.Unlock()
	defer f.mu.Lock()
	return f.hook(ctx, key)
}

func (f *fakeRemote) after(r gateway.Result) gateway.Result {
	if f.timeoutsAfterApply > 0 && r.Outcome == gateway.OutcomeSuccess {
		f.timeoutsAfterApply--
		return gateway.Transient(errors.New("deadline exceeded"), false)
	}
	return r
}

func (f *fakeRemote) Upsert(ctx context.Context, req gateway.UpsertRequest) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.Key{Kind: req.Kind, ID: req.ID}
	if r, ok := f.before(ctx, key); ok {
		return r
	}

	row := f.rows[key]
	switch {
	case row != nil && row.lastOp == req.OpID:
		return gateway.Success(row.version, row.updatedAt)
	case row == nil && req.ExpectedVersion == 0:
		row = &remoteRow{}
		f.rows[key] = row
	case row == nil:
		return gateway.Validation(errors.New("not found"))
	case row.deleted, row.version != req.ExpectedVersion:
		return gateway.Conflict(f.snapshot(row), common.ErrVersionConflict)
	}
	row.payload = req.Payload
	row.version++
	row.updatedAt = f.clock.Now()
	row.deleted = false
	row.lastOp = req.OpID
	return f.after(gateway.Success(row.version, row.updatedAt))
}

func (f *fakeRemote) Delete(ctx context.Context, req gateway.DeleteRequest) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.Key{Kind: req.Kind, ID: req.ID}
	if r, ok := f.before(ctx, key); ok {
		return r
	}

	row := f.rows[key]
	switch {
	case row == nil:
		return gateway.Success(0, f.clock.Now())
	case row.deleted:
		return gateway.Success(row.version, row.updatedAt)
	case req.ExpectedVersion != 0 && row.version != req.ExpectedVersion:
		return gateway.Conflict(f.snapshot(row), common.ErrVersionConflict)
	}
	row.deleted = true
	row.version++
	row.updatedAt = f.clock.Now()
	row.lastOp = req.OpID
	return f.after(gateway.Success(row.version, row.updatedAt))
}

func (f *fakeRemote) Fetch(_ context.Context, kind domain.EntityKind, id string) (*models.RemoteSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[models.Key{Kind: kind, ID: id}]
	if row == nil {
		return nil, common.ErrorNotFound
	}
	return f.snapshot(row), nil
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

func (f *fakeRemote) PresignReceipt(context.Context, string, string) (*gateway.Receipt, error) {
	return nil, errors.New("not supported")
}

type published struct {
	key    models.Key
	status models.SyncStatus
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []published
}

func (n *recordingNotifier) Publish(key models.Key, s models.SyncStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, published{key, s})
}

func (n *recordingNotifier) statuses(key models.Key) []models.SyncStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.SyncStatus
	for _, p := range n.seen {
		if p.key == key {
			out = append(out, p.status)
		}
	}
	return out
}

type env struct {
	db       *sql.DB
	clock    *clock.Manual
	queue    *queue.Queue
	remote   *fakeRemote
	resolver *conflict.Resolver
	notes    *recordingNotifier
	worker   *Worker
}

func newEnv(t *testing.T, qopts []queue.Option, wopts ...Option) *env {
	t.Helper()
	e := &env{
		db:       storagetest.Open(t),
		clock:    clock.NewManual(t0),
		remote:   newFakeRemote(),
		resolver: conflict.New(),
		notes:    &recordingNotifier{},
	}
	e.queue = queue.New(e.db, e.clock, append([]queue.Option{queue.WithBackoff(queue.Backoff{Base: time.Second, Cap: time.Minute})}, qopts...)...)
	e.worker = New(e.db, e.queue, e.remote, e.resolver, e.clock, logging.Nop(), append([]Option{WithNotifier(e.notes)}, wopts...)...)
	return e
}

// write mimics an entity repository: record write and enqueue in one
// transaction.
func (e *env) write(t *testing.T, kind domain.EntityKind, id string, action models.Action, diff string, priority int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := records.NewSQLiteRepository(tx)
		rec, err := recs.Get(ctx, kind, id)
		if errors.Is(err, common.ErrorNotFound) {
			rec, err = &models.LocalRecord{Kind: kind, ID: id}, nil
		}
		if err != nil {
			return err
		}
		if _, err := e.queue.EnqueueTx(ctx, tx, queue.Request{
			Kind: kind, EntityID: id, Action: action, Payload: json.RawMessage(diff), Priority: priority,
		}); err != nil {
			return err
		}
		if action == models.ActionDelete {
			rec.Status = models.StatusPendingDelete
		} else {
			if rec.Payload, err = domain.MergePayload(rec.Payload, json.RawMessage(diff)); err != nil {
				return err
			}
			rec.Status = models.StatusPendingUpload
		}
		rec.LocalUpdatedAt = e.clock.Now()
		return recs.Put(ctx, rec)
	}))
}

// seedSynced stores a record both locally and remotely as already in sync.
func (e *env) seedSynced(t *testing.T, kind domain.EntityKind, id, payload string, version int64) {
	t.Helper()
	at := e.clock.Now()
	e.remote.seed(kind, id, payload, version, at)
	require.NoError(t, records.NewSQLiteRepository(e.db).Put(context.Background(), &models.LocalRecord{
		Kind: kind, ID: id, Payload: json.RawMessage(payload), Status: models.StatusSynced,
		LocalUpdatedAt: at, ServerUpdatedAt: at, Version: version,
	}))
}

func (e *env) record(t *testing.T, kind domain.EntityKind, id string) *models.LocalRecord {
	t.Helper()
	rec, err := records.NewSQLiteRepository(e.db).Get(context.Background(), kind, id)
	require.NoError(t, err)
	return rec
}

func (e *env) queued(t *testing.T) []*models.PendingOperation {
	t.Helper()
	ops, err := e.queue.List(context.Background())
	require.NoError(t, err)
	return ops
}
