package overflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/evidenceledger/internal/admission"
)

// DefaultDrainInterval is the fallback poll period of a Drainer. Filesystem
// events wake it sooner; the ticker covers freed queue slots and any events
// the watcher missed.
const DefaultDrainInterval = 250 * time.Millisecond

// Decoder turns item content into a queue item. ack deletes the item from
// the spool; the consumer calls it once the item no longer needs a durable
// copy.
type Decoder[T any] func(data []byte, ack func() error) (T, error)

// Drainer moves spooled items back into an admission queue.
type Drainer[T any] struct {
	spool    *Spool
	queue    *admission.Queue[T]
	decode   Decoder[T]
	interval time.Duration
	logger   *slog.Logger
}

// NewDrainer creates a drainer. interval <= 0 means DefaultDrainInterval.
func NewDrainer[T any](s *Spool, q *admission.Queue[T], decode Decoder[T], interval time.Duration) *Drainer[T] {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Drainer[T]{
		spool:    s,
		queue:    q,
		decode:   decode,
		interval: interval,
		logger:   s.logger,
	}
}

// DrainOnce enqueues pending items in arrival order until the queue is
// full or the spool is empty. It returns how many items were moved.
// Moved items are claimed, not removed; items that fail to decode are
// quarantined and skipped.
func (d *Drainer[T]) DrainOnce(ctx context.Context) (int, error) {
	names, err := d.spool.Pending()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if d.queue.Free() == 0 {
			break
		}

		data, err := d.spool.Read(name)
		if errors.Is(err, ErrNotFound) {
			// Another drainer got it first.
			continue
		}
		if err != nil {
			return moved, err
		}

		item, err := d.decode(data, func() error { return d.spool.Ack(name) })
		if err != nil {
			d.logger.Error("overflow item undecodable", "name", name, "error", err)
			if qerr := d.spool.Quarantine(name); qerr != nil {
				return moved, qerr
			}
			continue
		}

		err = d.spool.Claim(name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return moved, err
		}

		err = d.queue.TryEnqueue(item)
		if err != nil {
			if rerr := d.spool.Release(name); rerr != nil {
				return moved, rerr
			}
			if errors.Is(err, admission.ErrQueueFull) {
				break
			}
			return moved, err
		}
		moved++
	}

	if moved > 0 {
		d.logger.Debug("overflow drained", "moved", moved, "pending", len(names)-moved)
	}
	return moved, nil
}

// Run drains until ctx is done or the queue is closed. It wakes on item
// creation in the spool directory and on every tick.
func (d *Drainer[T]) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("overflow: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.spool.Dir()); err != nil {
		return fmt.Errorf("overflow: watch %s: %w", d.spool.Dir(), err)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	drain := func() error {
		_, err := d.DrainOnce(ctx)
		if errors.Is(err, admission.ErrQueueClosed) || errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			d.logger.Error("overflow drain failed", "error", err)
		}
		return nil
	}

	// Items left over from a previous run.
	if err := drain(); err != nil {
		return ignoreShutdown(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isItemName(filepath.Base(event.Name)) {
				continue
			}
			if err := drain(); err != nil {
				return ignoreShutdown(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("fsnotify error", "error", err)
		case <-ticker.C:
			if err := drain(); err != nil {
				return ignoreShutdown(err)
			}
		}
	}
}

func ignoreShutdown(err error) error {
	if errors.Is(err, admission.ErrQueueClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
