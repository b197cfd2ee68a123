// Package overflow is the durable spill area used when the admission queue
// is full.
//
// Each item is one file named by a ULID, so lexical order is arrival order.
// A Drainer claims items as it moves them back into the queue. A claimed
// item stays on disk until the consumer acknowledges it, and Recover makes
// claims left by a dead process pending again. Delivery is therefore
// at-least-once.
package overflow

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// ItemExt is the extension of pending items.
	ItemExt = ".item"

	// QuarantineExt marks items that could not be decoded.
	QuarantineExt = ".bad"

	// InflightExt marks claimed items awaiting acknowledgement.
	InflightExt = ".inflight"

	tempFilePrefix = ".ovf-tmp-"
)

// ErrNotFound is returned by Take for an unknown item name.
var ErrNotFound = errors.New("overflow: item not found")

// Spool is a directory of pending items. Safe for concurrent use.
type Spool struct {
	dir    string
	fsync  bool
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open prepares the spool directory.
func Open(dir string, fsync bool) (*Spool, error) {
	if dir == "" {
		return nil, fmt.Errorf("overflow: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("overflow: create %s: %w", dir, err)
	}
	return &Spool{
		dir:     dir,
		fsync:   fsync,
		logger:  slog.Default(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// SetLogger replaces the default logger.
func (s *Spool) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

func (s *Spool) newName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		return "", fmt.Errorf("overflow: generate item name: %w", err)
	}
	return id.String() + ItemExt, nil
}

// Put stores data as a new item and returns its name. The item is visible
// to Pending only once fully written.
func (s *Spool) Put(data []byte) (string, error) {
	name, err := s.newName()
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, tempFilePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("overflow: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("overflow: write %s: %w", name, err)
	}
	if s.fsync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return "", fmt.Errorf("overflow: sync %s: %w", name, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("overflow: close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("overflow: publish %s: %w", name, err)
	}
	if s.fsync {
		if err := syncDir(s.dir); err != nil {
			return "", fmt.Errorf("overflow: sync directory: %w", err)
		}
	}

	s.logger.Debug("item spooled", "name", name, "bytes", len(data))
	return name, nil
}

// Pending returns item names in arrival order.
func (s *Spool) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("overflow: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isItemName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Read returns the content of a pending item without removing it.
func (s *Spool) Read(name string) ([]byte, error) {
	if !isItemName(name) {
		return nil, fmt.Errorf("overflow: invalid item name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("overflow: read %s: %w", name, err)
	}
	return data, nil
}

// Remove deletes a pending item. Removing an absent item is not an error.
func (s *Spool) Remove(name string) error {
	if !isItemName(name) {
		return fmt.Errorf("overflow: invalid item name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("overflow: remove %s: %w", name, err)
	}
	return nil
}

// Take reads and removes an item.
func (s *Spool) Take(name string) ([]byte, error) {
	data, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	if err := s.Remove(name); err != nil {
		return nil, err
	}
	return data, nil
}

// Quarantine renames an item so Pending no longer returns it.
func (s *Spool) Quarantine(name string) error {
	if !isItemName(name) {
		return fmt.Errorf("overflow: invalid item name %q", name)
	}
	from := filepath.Join(s.dir, name)
	if err := os.Rename(from, from+QuarantineExt); err != nil {
		return fmt.Errorf("overflow: quarantine %s: %w", name, err)
	}
	s.logger.Warn("overflow item quarantined", "name", name)
	return nil
}

// Claim hides a pending item from Pending while it is in flight. The file
// stays on disk until Ack; Release or Recover make it pending again.
// Returns ErrNotFound if the item is gone or already claimed.
func (s *Spool) Claim(name string) error {
	if !isItemName(name) {
		return fmt.Errorf("overflow: invalid item name %q", name)
	}
	from := filepath.Join(s.dir, name)
	err := os.Rename(from, from+InflightExt)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("overflow: claim %s: %w", name, err)
	}
	return nil
}

// Ack deletes a claimed item. Acknowledging twice is not an error.
func (s *Spool) Ack(name string) error {
	if !isItemName(name) {
		return fmt.Errorf("overflow: invalid item name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name+InflightExt))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("overflow: ack %s: %w", name, err)
	}
	return nil
}

// Release returns a claimed item to the pending set.
func (s *Spool) Release(name string) error {
	if !isItemName(name) {
		return fmt.Errorf("overflow: invalid item name %q", name)
	}
	to := filepath.Join(s.dir, name)
	if err := os.Rename(to+InflightExt, to); err != nil {
		return fmt.Errorf("overflow: release %s: %w", name, err)
	}
	return nil
}

// Inflight returns the names of claimed items, sorted.
func (s *Spool) Inflight() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("overflow: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), InflightExt)
		if e.IsDir() || !ok || !isItemName(name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Recover releases every claimed item and returns how many there were.
// Call it once at startup, before any drainer runs, so claims held by a
// process that died are delivered again.
func (s *Spool) Recover() (int, error) {
	names, err := s.Inflight()
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := s.Release(name); err != nil {
			return 0, err
		}
	}
	if len(names) > 0 {
		s.logger.Warn("overflow items recovered", "count", len(names))
	}
	return len(names), nil
}

// SpoolFunc adapts s to the admission policy's spool hook. Encoding or
// write failures are logged and reported as false.
func SpoolFunc[T any](s *Spool, encode func(T) ([]byte, error)) func(T) bool {
	return func(item T) bool {
		data, err := encode(item)
		if err != nil {
			s.logger.Error("overflow encode failed", "error", err)
			return false
		}
		if _, err := s.Put(data); err != nil {
			s.logger.Error("overflow write failed", "error", err)
			return false
		}
		return true
	}
}

func isItemName(name string) bool {
	return strings.HasSuffix(name, ItemExt) &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, "/\\\x00")
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
