// Package storage opens the on-device SQLite database and applies the
// embedded schema migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/motiumsync/internal/client/migrations"
	"github.com/dmitrijs2005/motiumsync/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// RunMigrations brings the schema up to date. It is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())

	return goose.UpContext(ctx, db, ".")
}

// DSN turns a plain file path into a modernc DSN with the pragmas the store
// relies on. Values already starting with "file:" or ":memory:" are kept.
func DSN(path string) string {
	if !isPlainPath(path) {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func isPlainPath(path string) bool {
	return !strings.HasPrefix(path, "file:") && !strings.HasPrefix(path, ":memory:")
}

// Open opens the database and migrates it, creating the parent directory
// of a plain file path.
//
// All access goes through a single connection: SQLite serialises writers
// anyway, and one connection rules out SQLITE_BUSY between the drain worker
// and local writes. Callers must therefore never query the *sql.DB while
// holding an open transaction or an unclosed *sql.Rows.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if isPlainPath(path) {
		if err := filex.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a private in-memory store named name. It lives as long
// as the returned handle. Used by tests and the CLI's dry runs.
func OpenInMemory(ctx context.Context, name string) (*sql.DB, error) {
	return Open(ctx, "file:"+name+"?mode=memory&cache=shared")
}
