// Package storagetest opens migrated in-memory stores for tests.
package storagetest

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/dmitrijs2005/motiumsync/internal/client/storage"
	"github.com/stretchr/testify/require"
)

// Open returns a fresh migrated store private to t. It is closed on cleanup.
func Open(t testing.TB) *sql.DB {
	return OpenNamed(t, "")
}

// OpenNamed is Open for tests that need several stores, one per device.
func OpenNamed(t testing.TB, device string) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	if device != "" {
		name += "_" + device
	}
	db, err := storage.OpenInMemory(context.Background(), name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
