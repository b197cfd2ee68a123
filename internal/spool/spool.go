package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/evidenceledger/internal/ir"
)

const (
	// SegmentExt is the file extension of stored segments.
	SegmentExt = ".json"

	// TempFilePrefix marks in-flight writes. Leftovers from a crash are
	// ignored by List and can be removed safely.
	TempFilePrefix = ".seg-tmp-"
)

// Outcome describes a successful Append.
type Outcome int

const (
	// Written means this call created the segment.
	Written Outcome = iota + 1
	// Unchanged means an identical segment was already stored.
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return "written"
	case Unchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures a Store.
type Options struct {
	// Root is the directory holding one file per segment. Created on Open.
	Root string

	// Fsync flushes each new segment file and the root directory before
	// Append returns, so a crash right after the call cannot lose it.
	Fsync bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the segment store. It is safe for concurrent use by any number
// of goroutines and processes sharing the same root.
type Store struct {
	root   string
	fsync  bool
	logger *slog.Logger
}

// Open prepares a store rooted at opts.Root, creating the directory if needed.
func Open(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("spool: root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0o750); err != nil {
		return nil, fmt.Errorf("spool: create root %s: %w", opts.Root, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: opts.Root, fsync: opts.Fsync, logger: logger}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file that does or would hold segmentID.
func (s *Store) Path(segmentID string) (string, error) {
	if err := validateID(segmentID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, segmentID+SegmentExt), nil
}

// Append durably records seg exactly once.
//
// Returns Written when this call created the entry and Unchanged when a
// byte-identical entry already existed. A differing entry yields a
// SPOOL_COLLISION error and an unparsable one SPOOL_CORRUPT; neither is
// ever resolved here.
func (s *Store) Append(ctx context.Context, seg ir.CaptureSegment) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := seg.Validate(); err != nil {
		return 0, fmt.Errorf("spool: %w", err)
	}
	path, err := s.Path(seg.SegmentID)
	if err != nil {
		return 0, err
	}

	data, err := seg.Canonical()
	if err != nil {
		return 0, fmt.Errorf("spool: serialize segment %s: %w", seg.SegmentID, err)
	}
	data = append(data, '\n')

	tmpName, err := s.writeTemp(seg.SegmentID, data)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmpName)

	// Link is the create-only step: it never replaces an existing name.
	err = os.Link(tmpName, path)
	if err == nil {
		if s.fsync {
			if err := syncDir(s.root); err != nil {
				return 0, newIOError(seg.SegmentID, s.root, "sync directory", err)
			}
		}
		s.logger.Debug("segment written", "segment_id", seg.SegmentID, "path", path)
		return Written, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return 0, newIOError(seg.SegmentID, path, "link segment", err)
	}

	return s.compareExisting(seg.SegmentID, path, data)
}

func (s *Store) writeTemp(segmentID string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.root, TempFilePrefix+"*")
	if err != nil {
		return "", newIOError(segmentID, s.root, "create temp file", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", newIOError(segmentID, name, "write temp file", err)
	}
	if s.fsync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(name)
			return "", newIOError(segmentID, name, "sync temp file", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", newIOError(segmentID, name, "close temp file", err)
	}
	return name, nil
}

// compareExisting resolves a create-only conflict.
func (s *Store) compareExisting(segmentID, path string, data []byte) (Outcome, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return 0, newIOError(segmentID, path, "read existing segment", err)
	}
	if _, err := ir.ParseSegment(existing); err != nil {
		s.logger.Error("existing segment is corrupt", "segment_id", segmentID, "path", path, "error", err)
		return 0, NewCorruptError(segmentID, path, err)
	}
	if !bytes.Equal(existing, data) {
		s.logger.Error("segment id collision", "segment_id", segmentID, "path", path)
		return 0, NewCollisionError(segmentID, path)
	}

	s.logger.Debug("segment already stored (idempotent)", "segment_id", segmentID)
	return Unchanged, nil
}

// Has reports whether a segment with this id exists. No side effects.
func (s *Store) Has(segmentID string) (bool, error) {
	path, err := s.Path(segmentID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, newIOError(segmentID, path, "stat segment", err)
}

// Get reads and parses a stored segment.
// Returns an error wrapping fs.ErrNotExist if the segment is absent.
func (s *Store) Get(segmentID string) (ir.CaptureSegment, error) {
	path, err := s.Path(segmentID)
	if err != nil {
		return ir.CaptureSegment{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.CaptureSegment{}, newIOError(segmentID, path, "read segment", err)
	}
	seg, err := ir.ParseSegment(data)
	if err != nil {
		return ir.CaptureSegment{}, NewCorruptError(segmentID, path, err)
	}
	return seg, nil
}

// List returns every stored segment id, sorted. It scans the whole root and
// is meant for audit and reconciliation, not the capture hot path.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("spool: list %s: %w", s.root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, SegmentExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, SegmentExt))
	}
	slices.Sort(ids)
	return ids, nil
}

// validateID keeps ids inside the root and away from temp-file names.
func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	return nil
}

// syncDir flushes directory entries so a new link survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
