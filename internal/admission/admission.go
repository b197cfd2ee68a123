// Package admission decides what happens to a piece of evidence when the
// work queue is full.
//
// The order is fixed: try the queue without blocking, then hand the item to
// the caller's overflow spool, and only then block on the queue until room
// appears. Evidence is never dropped; the only ways out of EnqueueOrSpool
// without the item being queued or spooled are context cancellation and a
// closed queue, and both are returned as errors.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// MinBlockTimeout is the smallest per-attempt wait in the blocking phase.
const MinBlockTimeout = 10 * time.Millisecond

// SpoolFunc persists the pending item somewhere other than the queue.
// It returns true only when the item is durably accepted. A nil SpoolFunc
// means no overflow spool is configured.
type SpoolFunc func() bool

// EnqueueDecision reports how an item was admitted.
// Exactly one of Queued and Spooled is true on success.
type EnqueueDecision struct {
	Queued   bool  `json:"queued"`
	Spooled  bool  `json:"spooled"`
	WaitedMS int64 `json:"waited_ms"`
}

// String implements fmt.Stringer.
func (d EnqueueDecision) String() string {
	switch {
	case d.Queued && d.WaitedMS > 0:
		return fmt.Sprintf("queued after %dms", d.WaitedMS)
	case d.Queued:
		return "queued"
	case d.Spooled:
		return "spooled"
	default:
		return "not admitted"
	}
}

// EnqueueOrSpool admits item into q, diverting it to spoolFn when q is full.
// WaitedMS counts from the first failed attempt, so it includes time spent
// in spoolFn.
//
// No lock is held while spoolFn runs, so a slow spool only delays its own
// caller. A spoolFn that returns false or panics is treated as unavailable.
// blockTimeout bounds each wait in the blocking phase and is raised to
// MinBlockTimeout if smaller; the phase itself repeats until the item is
// queued, ctx is done, or q is closed.
func EnqueueOrSpool[T any](ctx context.Context, q *Queue[T], item T, spoolFn SpoolFunc, blockTimeout time.Duration) (EnqueueDecision, error) {
	err := q.TryEnqueue(item)
	if err == nil {
		return EnqueueDecision{Queued: true}, nil
	}
	if !errors.Is(err, ErrQueueFull) {
		return EnqueueDecision{}, err
	}

	start := time.Now()
	if spoolFn != nil && safeSpool(spoolFn) {
		return EnqueueDecision{Spooled: true, WaitedMS: time.Since(start).Milliseconds()}, nil
	}

	timeout := max(blockTimeout, MinBlockTimeout)
	attempts := 0
	for {
		attempts++
		err := q.EnqueueWait(ctx, item, timeout)
		waited := time.Since(start).Milliseconds()
		switch {
		case err == nil:
			if attempts > 1 {
				slog.Debug("admitted after blocking",
					"attempts", attempts,
					"waited_ms", waited)
			}
			return EnqueueDecision{Queued: true, WaitedMS: waited}, nil
		case errors.Is(err, ErrQueueFull):
			slog.Debug("queue still full, retrying",
				"attempt", attempts,
				"waited_ms", waited)
		default:
			slog.Warn("admission aborted while blocked",
				"waited_ms", waited,
				"error", err)
			return EnqueueDecision{WaitedMS: waited}, err
		}
	}
}

// safeSpool runs fn and converts a panic into failure.
func safeSpool(fn SpoolFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("overflow spool panicked; falling back to blocking enqueue",
				"panic", r)
			ok = false
		}
	}()
	if !fn() {
		slog.Warn("overflow spool unavailable; falling back to blocking enqueue")
		return false
	}
	return true
}

// Stats is a snapshot of Policy counters. Blocked counts queued admissions
// that waited at least a millisecond; MaxWaitedMS covers spooled ones too.
type Stats struct {
	Queued      int64 `json:"queued"`
	Spooled     int64 `json:"spooled"`
	Blocked     int64 `json:"blocked"`
	SpoolFailed int64 `json:"spool_failed"`
	Aborted     int64 `json:"aborted"`
	MaxWaitedMS int64 `json:"max_waited_ms"`
}

// Policy binds EnqueueOrSpool to a queue and an item-aware spool, and keeps
// counters. The zero BlockTimeout means MinBlockTimeout.
type Policy[T any] struct {
	Queue        *Queue[T]
	Spool        func(T) bool
	BlockTimeout time.Duration

	queued      atomic.Int64
	spooled     atomic.Int64
	blocked     atomic.Int64
	spoolFailed atomic.Int64
	aborted     atomic.Int64
	maxWaited   atomic.Int64
}

// Submit admits item through the policy.
func (p *Policy[T]) Submit(ctx context.Context, item T) (EnqueueDecision, error) {
	var spoolFn SpoolFunc
	if p.Spool != nil {
		spoolFn = func() (ok bool) {
			defer func() {
				if !ok {
					p.spoolFailed.Add(1)
				}
			}()
			return p.Spool(item)
		}
	}

	d, err := EnqueueOrSpool(ctx, p.Queue, item, spoolFn, p.BlockTimeout)
	p.record(d, err)
	return d, err
}

func (p *Policy[T]) record(d EnqueueDecision, err error) {
	switch {
	case err != nil:
		p.aborted.Add(1)
	case d.Spooled:
		p.spooled.Add(1)
	case d.Queued:
		p.queued.Add(1)
	}
	if d.WaitedMS > 0 {
		if d.Queued {
			p.blocked.Add(1)
		}
		for {
			cur := p.maxWaited.Load()
			if d.WaitedMS <= cur || p.maxWaited.CompareAndSwap(cur, d.WaitedMS) {
				break
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Policy[T]) Stats() Stats {
	return Stats{
		Queued:      p.queued.Load(),
		Spooled:     p.spooled.Load(),
		Blocked:     p.blocked.Load(),
		SpoolFailed: p.spoolFailed.Load(),
		Aborted:     p.aborted.Load(),
		MaxWaitedMS: p.maxWaited.Load(),
	}
}
