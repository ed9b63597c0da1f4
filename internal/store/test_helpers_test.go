package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore opens a fresh store in a temp dir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	t.Cleanup(func() { s.Close() })
	return s
}
