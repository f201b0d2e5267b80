package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	keyDeviceID  = "device_id"
	keyLastDrain = "last_drain_at"
)

// DeviceID returns the persistent device identifier, minting one on first use.
func (r *SQLiteRepository) DeviceID(ctx context.Context) (string, error) {
	v, ok, err := r.Value(ctx, keyDeviceID)
	if err != nil || ok {
		return v, err
	}
	id := uuid.NewString()
	if err := r.SetValue(ctx, keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// LastDrain returns when a drain cycle last completed; zero if never.
func (r *SQLiteRepository) LastDrain(ctx context.Context) (time.Time, error) {
	v, ok, err := r.Value(ctx, keyLastDrain)
	if err != nil || !ok {
		return time.Time{}, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt metadata %s: %w", keyLastDrain, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func (r *SQLiteRepository) SetLastDrain(ctx context.Context, t time.Time) error {
	return r.SetValue(ctx, keyLastDrain, strconv.FormatInt(t.UTC().UnixNano(), 10))
}
