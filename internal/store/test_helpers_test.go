package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a fully migrated store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.SetClock(fixedNow)
	t.Cleanup(func() { s.Close() })
	return s
}

// createUnmigratedStore creates a store with only the tracking table.
func createUnmigratedStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenUnmigrated(path)
	if err != nil {
		t.Fatalf("OpenUnmigrated() failed: %v", err)
	}
	s.SetClock(fixedNow)
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
