// Package metadata stores device-level key/value settings next to the
// records: the device id and bookkeeping of the last drain.
package metadata

import (
	"context"
	"time"
)

type Repository interface {
	Value(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error

	DeviceID(ctx context.Context) (string, error)
	LastDrain(ctx context.Context) (time.Time, error)
	SetLastDrain(ctx context.Context, t time.Time) error
}
