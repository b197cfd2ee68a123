// Package blob is a content-addressable blob store on the local filesystem.
//
// Blob ids are ir.PayloadDigest of the stored bytes; files live under
// <root>/<id[:2]>/<id>. Identical content is written once.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/evidenceledger/internal/ir"
)

const tempFilePrefix = ".blob-tmp-"

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("blob: not found")

// FileStore stores blobs on disk.
type FileStore struct {
	root  string
	fsync bool
}

// Open creates the root directory if needed.
func Open(root string, fsync bool) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create root %s: %w", root, err)
	}
	return &FileStore{root: root, fsync: fsync}, nil
}

// Put stores data and returns its content address.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := ir.PayloadDigest(data)
	path := s.path(id)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("blob: create shard dir: %w", err)
	}
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the bytes stored under id.
func (s *FileStore) Get(id string) ([]byte, error) {
	if len(id) < 3 || strings.ContainsAny(id, "/\\.") {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", id, err)
	}
	return data, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.root, id[:2], id)
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place. Concurrent writers of the same id write identical bytes, so
// the rename race is harmless.
func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("blob: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: write temp file: %w", err)
	}
	if s.fsync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("blob: sync temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("blob: rename into %s: %w", path, err)
	}
	return nil
}
