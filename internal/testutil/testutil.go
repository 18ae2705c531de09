// Package testutil provides fixtures for scan tests: real temporary source
// databases of a chosen schema vintage, a deterministic clock, and aggregate
// stores with migrations applied.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mb-go/internal/database"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestStore opens a fresh aggregate store backed by a temp file with all
// migrations applied. A file (not :memory:) so concurrent connections from
// the pool see the same database.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "global.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.MigrateUp(); err != nil {
		store.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// CreateCreatorFolder creates root/name with a source database at
// Metadata/user_data.db, runs build to populate it, and backdates its mtime
// far enough that the freshness skip does not trigger. Returns the folder
// path.
func CreateCreatorFolder(t *testing.T, root, name string, build func(t *testing.T, db *sql.DB)) string {
	t.Helper()

	dir := filepath.Join(root, name)
	metaDir := filepath.Join(dir, "Metadata")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		t.Fatalf("failed to create creator folder: %v", err)
	}

	dbPath := filepath.Join(metaDir, "user_data.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to create source database: %v", err)
	}
	if build != nil {
		build(t, db)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close source database: %v", err)
	}

	Backdate(t, dbPath, time.Hour)
	return dir
}

// Backdate moves a file's mtime into the past by the given duration.
func Backdate(t *testing.T, path string, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to backdate %s: %v", path, err)
	}
}

// MustExec runs a statement against a source fixture database.
func MustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v\nquery: %s", err, query)
	}
}

// FixedClock returns a constant time until advanced. Safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
