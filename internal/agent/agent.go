// Package agent wires the capture pipeline: producers submit jobs through
// the admission policy, workers turn them into durable segments, and each
// segment is registered in the metadata store with its ledger transitions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/evidenceledger/internal/admission"
	"github.com/roach88/evidenceledger/internal/blob"
	"github.com/roach88/evidenceledger/internal/capture"
	"github.com/roach88/evidenceledger/internal/config"
	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/overflow"
	"github.com/roach88/evidenceledger/internal/provenance"
	"github.com/roach88/evidenceledger/internal/spool"
	"github.com/roach88/evidenceledger/internal/store"
)

// Retry delays for captures that fail while no overflow spool can take
// the job.
const (
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = time.Second
)

// Deps holds optional collaborators. Nil fields get production defaults.
type Deps struct {
	Blobs   capture.BlobStore
	Clock   capture.Clock
	Encoder capture.Encoder
	Logger  *slog.Logger
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Admission       admission.Stats `json:"admission"`
	Captured        int64           `json:"captured"`
	Failed          int64           `json:"failed"`
	Queued          int             `json:"queued"`
	OverflowPending int             `json:"overflow_pending"`
}

// Agent owns the pipeline components for one data directory.
type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	segments *spool.Store
	meta     *store.Store
	orch     *capture.Orchestrator
	queue    *admission.Queue[capture.Job]
	policy   *admission.Policy[capture.Job]
	overflow *overflow.Spool

	captured atomic.Int64
	failed   atomic.Int64
}

// New opens every store named by cfg and builds the pipeline. The caller
// must Close the agent.
func New(cfg config.Config, deps Deps) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	segments, err := spool.Open(spool.Options{Root: cfg.SpoolRoot, Fsync: cfg.Fsync, Logger: logger})
	if err != nil {
		return nil, err
	}

	blobs := deps.Blobs
	if blobs == nil {
		fs, err := blob.Open(cfg.BlobDir, cfg.Fsync)
		if err != nil {
			return nil, err
		}
		blobs = fs
	}

	meta, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("agent: open metadata store: %w", err)
	}
	meta.SetLogger(logger)

	opts := []capture.Option{capture.WithLogger(logger)}
	if deps.Clock != nil {
		opts = append(opts, capture.WithClock(deps.Clock))
	}
	if deps.Encoder != nil {
		opts = append(opts, capture.WithEncoder(deps.Encoder))
	}

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		segments: segments,
		meta:     meta,
		orch:     capture.New(segments, blobs, opts...),
		queue:    admission.NewQueue[capture.Job](cfg.QueueCapacity),
	}
	a.policy = &admission.Policy[capture.Job]{
		Queue:        a.queue,
		BlockTimeout: cfg.BlockTimeout,
	}

	if cfg.OverflowEnabled {
		ov, err := overflow.Open(cfg.OverflowDir, cfg.Fsync)
		if err != nil {
			meta.Close()
			return nil, err
		}
		ov.SetLogger(logger)
		a.overflow = ov
		a.policy.Spool = overflow.SpoolFunc(ov, capture.MarshalJob)
	}

	return a, nil
}

// Close releases the metadata store.
func (a *Agent) Close() error {
	return a.meta.Close()
}

// Segments returns the segment store.
func (a *Agent) Segments() *spool.Store {
	return a.segments
}

// Store returns the metadata store.
func (a *Agent) Store() *store.Store {
	return a.meta
}

// Submit admits job through the backpressure policy. It never drops the
// job: on success it is either queued or spooled to overflow.
func (a *Agent) Submit(ctx context.Context, job capture.Job) (admission.EnqueueDecision, error) {
	d, err := a.policy.Submit(ctx, job)
	if err != nil {
		return d, fmt.Errorf("agent: submit: %w", err)
	}
	return d, nil
}

// Capture synchronously captures job and records its provenance. Used by
// workers and by one-shot callers that bypass the queue.
func (a *Agent) Capture(ctx context.Context, job capture.Job) (ir.CaptureSegment, error) {
	seg, err := a.orch.CaptureBytes(ctx, job.Payload, job.Metadata)
	if err != nil {
		return ir.CaptureSegment{}, err
	}
	if err := a.register(ctx, seg); err != nil {
		return seg, err
	}
	return seg, nil
}

// register records the segment, its capture and seal transitions, and
// finally indexes it. The index row marks completion, so a crash midway is
// picked up by Reconcile or by the next attempt, which only appends the
// transitions still missing.
func (a *Agent) register(ctx context.Context, seg ir.CaptureSegment) error {
	indexed, err := a.meta.SegmentIndexed(ctx, seg.SegmentID)
	if err != nil {
		return err
	}
	if indexed {
		return nil
	}

	if _, err := a.meta.PutRecord(ctx, segmentRecord(seg.SegmentID)); err != nil {
		return err
	}
	if err := a.appendMissingStages(ctx, seg.SegmentID); err != nil {
		return err
	}
	return a.meta.IndexSegment(ctx, seg)
}

// appendMissingStages appends the segment transitions not yet in the
// ledger, in pipeline order.
func (a *Agent) appendMissingStages(ctx context.Context, segmentID string) error {
	have, err := a.meta.LedgerStagesFor(ctx, segmentID)
	if err != nil {
		return err
	}
	for _, stage := range []string{provenance.StageCapture, provenance.StageSegmentSeal} {
		if slices.Contains(have, stage) {
			continue
		}
		if _, err := a.meta.AppendLedger(ctx, stage, []string{segmentID}); err != nil {
			return fmt.Errorf("register %s: %w", segmentID, err)
		}
	}
	return nil
}

func segmentRecord(segmentID string) ir.Record {
	return ir.Record{ID: segmentID, RecordType: provenance.RecordTypeSegment}
}

// Run starts the workers and the overflow drainer and blocks until ctx is
// done. On shutdown the queue is closed and workers finish every job that
// was already admitted before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if a.overflow != nil {
		// Claims still held here belong to a previous process.
		if _, err := a.overflow.Recover(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Workers outlive ctx so admitted jobs are not abandoned.
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < a.cfg.Workers; i++ {
		g.Go(func() error {
			return a.work(workCtx, gctx.Done(), i)
		})
	}

	if a.overflow != nil {
		drainer := overflow.NewDrainer(a.overflow, a.queue, decodeJob, a.cfg.DrainInterval)
		g.Go(func() error {
			return drainer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.queue.Close()
		return nil
	})

	a.logger.Info("agent running",
		"workers", a.cfg.Workers,
		"queue_capacity", a.cfg.QueueCapacity,
		"overflow", a.overflow != nil)

	err := g.Wait()
	a.logger.Info("agent stopped",
		"captured", a.captured.Load(),
		"failed", a.failed.Load())
	return err
}

func decodeJob(data []byte, ack func() error) (capture.Job, error) {
	job, err := capture.UnmarshalJob(data)
	if err != nil {
		return capture.Job{}, err
	}
	job.Ack = ack
	return job, nil
}

func (a *Agent) work(ctx context.Context, stop <-chan struct{}, id int) error {
	for {
		job, err := a.queue.Dequeue(ctx)
		if errors.Is(err, admission.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		a.process(ctx, stop, id, job)
	}
}

// process captures job and acknowledges its source once the segment is
// registered. A failed capture parks the job in overflow; without overflow,
// or when parking fails, the worker retries with backoff until stop is
// closed. A failed registration retries the registration only, since the
// segment is already durable. Collisions and corruption end the job because
// retrying cannot fix them.
func (a *Agent) process(ctx context.Context, stop <-chan struct{}, id int, job capture.Job) {
	delay := retryBaseDelay
	var seg ir.CaptureSegment
	for {
		var err error
		if seg.SegmentID == "" {
			seg, err = a.orch.CaptureBytes(ctx, job.Payload, job.Metadata)
		}
		if err == nil {
			err = a.register(ctx, seg)
		}
		if err == nil {
			a.captured.Add(1)
			a.logger.Debug("job captured", "worker", id, "segment_id", seg.SegmentID)
			a.ack(job)
			return
		}

		a.failed.Add(1)
		a.logger.Error("capture failed", "worker", id, "segment_id", seg.SegmentID, "error", err)
		if spool.IsCollision(err) || spool.IsCorrupt(err) {
			a.ack(job)
			return
		}
		if seg.SegmentID == "" && a.park(job) {
			a.ack(job)
			return
		}

		select {
		case <-stop:
			// The source copy, if any, is left for the next run.
			a.logger.Error("capture abandoned at shutdown", "worker", id)
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
}

// park writes a failed job to overflow so the drainer retries it later.
// Returns false if there is no overflow spool or the write failed.
func (a *Agent) park(job capture.Job) bool {
	if a.overflow == nil {
		return false
	}
	data, err := capture.MarshalJob(job)
	if err != nil {
		a.logger.Error("cannot park failed job", "error", err)
		return false
	}
	if _, err := a.overflow.Put(data); err != nil {
		a.logger.Error("cannot park failed job", "error", err)
		return false
	}
	return true
}

func (a *Agent) ack(job capture.Job) {
	if job.Ack == nil {
		return
	}
	if err := job.Ack(); err != nil {
		a.logger.Error("cannot release job source", "error", err)
	}
}

// Audit evaluates provenance completeness over everything in the store.
func (a *Agent) Audit(ctx context.Context) (provenance.Report, error) {
	records, err := a.meta.ReadRecords(ctx)
	if err != nil {
		return provenance.Report{}, err
	}
	entries, err := a.meta.ReadLedger(ctx)
	if err != nil {
		return provenance.Report{}, err
	}
	return provenance.Audit(records, entries), nil
}

// Stats returns pipeline counters.
func (a *Agent) Stats() Stats {
	s := Stats{
		Admission: a.policy.Stats(),
		Captured:  a.captured.Load(),
		Failed:    a.failed.Load(),
		Queued:    a.queue.Len(),
	}
	if a.overflow != nil {
		if pending, err := a.overflow.Pending(); err == nil {
			s.OverflowPending = len(pending)
		}
	}
	return s
}
