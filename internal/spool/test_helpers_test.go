package spool

import (
	"io"
	"log/slog"
	"testing"

	"github.com/roach88/evidenceledger/internal/ir"
)

// createTestStore creates a store rooted in a fresh temp dir.
func createTestStore(t *testing.T, fsync bool) *Store {
	t.Helper()
	s, err := Open(Options{
		Root:   t.TempDir(),
		Fsync:  fsync,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

// createTestSegment builds a valid segment with a content-addressed id.
func createTestSegment(ts, blobID string) ir.CaptureSegment {
	return ir.CaptureSegment{
		SegmentID: ir.MustSegmentID(ts, blobID),
		TSUTC:     ts,
		BlobID:    blobID,
		Metadata:  ir.Object{"app": ir.String("editor")},
	}
}
