package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/evidenceledger/internal/admission"
	"github.com/roach88/evidenceledger/internal/capture"
	"github.com/roach88/evidenceledger/internal/ir"
)

// InboxSource is the metadata "source" value of jobs read from an inbox.
const InboxSource = "inbox"

// inflightPrefix hides an inbox file whose job is admitted but not yet
// captured.
const inflightPrefix = ".inflight-"

// ScanInbox submits every regular file in dir as a capture job. Dot files
// are skipped so producers can write to a hidden name and rename into place.
//
// A submitted file is renamed to a hidden in-flight name and deleted only
// once its segment is registered, or at once if the job went to overflow.
// A file whose job could not be admitted stays in the inbox for the next
// scan. Returns the number of files submitted.
func (a *Agent) ScanInbox(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("agent: read inbox %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isInboxName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	submitted := 0
	for _, name := range names {
		ok, err := a.submitInboxFile(ctx, dir, name)
		if err != nil {
			return submitted, err
		}
		if ok {
			submitted++
		}
	}
	return submitted, nil
}

func (a *Agent) submitInboxFile(ctx context.Context, dir, name string) (bool, error) {
	path := filepath.Join(dir, name)
	claimed := filepath.Join(dir, inflightPrefix+name)
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Picked up by a concurrent scan.
			return false, nil
		}
		return false, fmt.Errorf("agent: claim inbox file %s: %w", path, err)
	}

	payload, err := os.ReadFile(claimed)
	if err != nil {
		return false, errors.Join(fmt.Errorf("agent: read inbox file %s: %w", path, err), os.Rename(claimed, path))
	}

	remove := func() error {
		if err := os.Remove(claimed); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("agent: remove inbox file %s: %w", claimed, err)
		}
		return nil
	}
	job := capture.Job{
		Payload: payload,
		Metadata: ir.ObjectOf(
			ir.P("source", ir.String(InboxSource)),
			ir.P("file", ir.String(name)),
		),
		Ack: remove,
	}
	d, err := a.Submit(ctx, job)
	if err != nil {
		if rerr := os.Rename(claimed, path); rerr != nil {
			a.logger.Error("cannot return inbox file", "file", name, "error", rerr)
		}
		return false, err
	}
	if d.Spooled {
		// Overflow holds its own durable copy.
		if err := remove(); err != nil {
			return true, err
		}
	}
	a.logger.Debug("inbox file submitted", "file", name, "bytes", len(payload), "decision", d.String())
	return true, nil
}

// RecoverInbox returns files left in flight by a previous run to the inbox
// and reports how many there were. Call it before the first scan.
func (a *Agent) RecoverInbox(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("agent: read inbox %s: %w", dir, err)
	}
	recovered := 0
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), inflightPrefix)
		if !ok || !e.Type().IsRegular() || !isInboxName(name) {
			continue
		}
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(dir, name)); err != nil {
			return recovered, fmt.Errorf("agent: recover inbox file %s: %w", name, err)
		}
		recovered++
	}
	if recovered > 0 {
		a.logger.Warn("inbox files recovered", "dir", dir, "count", recovered)
	}
	return recovered, nil
}

// WatchInbox recovers in-flight files, then scans dir on start, on every
// file creation and on every tick, until ctx is done or the queue is closed.
func (a *Agent) WatchInbox(ctx context.Context, dir string, interval time.Duration) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("agent: create inbox %s: %w", dir, err)
	}
	if _, err := a.RecoverInbox(dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("agent: watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scan := func() error {
		n, err := a.ScanInbox(ctx, dir)
		if n > 0 {
			a.logger.Info("inbox scanned", "dir", dir, "submitted", n)
		}
		if isShutdown(err) {
			return err
		}
		if err != nil {
			a.logger.Error("inbox scan failed", "dir", dir, "error", err)
		}
		return nil
	}

	if err := scan(); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isInboxName(filepath.Base(event.Name)) {
				continue
			}
			if err := scan(); err != nil {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error("fsnotify error", "error", err)
		case <-ticker.C:
			if err := scan(); err != nil {
				return nil
			}
		}
	}
}

func isInboxName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".")
}

func isShutdown(err error) bool {
	return errors.Is(err, admission.ErrQueueClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
