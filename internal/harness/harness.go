package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/roach88/evidenceledger/internal/agent"
	"github.com/roach88/evidenceledger/internal/capture"
	"github.com/roach88/evidenceledger/internal/config"
	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/provenance"
	"github.com/roach88/evidenceledger/internal/testutil"
)

// TraceEvent is one ledger entry with segment ids replaced by their
// scenario names.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	ID      string   `json:"id"`
	Stage   string   `json:"stage"`
	Outputs []string `json:"outputs"`
	TSUTC   string   `json:"ts_utc"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is the full ledger in ledger order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors"`

	// Segments maps scenario names to segment ids.
	Segments map[string]string `json:"segments"`

	// SegmentCount is the number of segments in the segment store.
	SegmentCount int `json:"segment_count"`

	// Audit is the final provenance audit.
	Audit provenance.Report `json:"audit"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Segments: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// alias returns the "$name" form of id, or id itself when it has no name.
func (r *Result) alias(id string) string {
	for name, segID := range r.Segments {
		if segID == id {
			return "$" + name
		}
	}
	return id
}

// resolve maps a "$name" reference to its segment id.
func (r *Result) resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	id, ok := r.Segments[name]
	if !ok {
		return "", fmt.Errorf("unknown segment name %q", ref)
	}
	return id, nil
}

// sequenceIDs yields entry-0001, entry-0002, ...
type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("entry-%04d", g.n)
}

// Harness executes one scenario against its own agent.
type Harness struct {
	agent  *agent.Agent
	logger *slog.Logger
}

// Run executes scenario in a fresh temporary data directory and returns
// the result. An error means a step could not run; assertion failures are
// reported in the result instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "evledger-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	start := scenario.Start
	if start == "" {
		start = DefaultStart
	}
	startTime, err := ir.ParseTimestamp(start)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}

	cfg := config.Default(dir)
	cfg.Fsync = false
	cfg.OverflowEnabled = false
	cfg.Workers = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios
	a, err := agent.New(cfg, agent.Deps{
		Blobs:  testutil.NewMemoryBlobStore(),
		Clock:  testutil.NewSteppingClock(startTime, time.Second),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer a.Close()

	a.Store().SetIDGenerator(&sequenceIDs{})
	a.Store().SetClock(func() time.Time { return startTime })

	h := &Harness{agent: a, logger: logger}
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch step.Op {
	case OpCapture:
		meta, err := ir.FromAny(step.Metadata)
		if err != nil {
			return err
		}
		obj, _ := meta.(ir.Object)
		seg, err := h.agent.Capture(ctx, capture.Job{Payload: []byte(step.Payload), Metadata: obj})
		if err != nil {
			return err
		}
		bind(result, step.As, seg.SegmentID)

	case OpRecord:
		id, err := result.resolve(step.ID)
		if err != nil {
			return err
		}
		if _, err := h.agent.Store().PutRecord(ctx, ir.Record{ID: id, RecordType: step.Type}); err != nil {
			return err
		}

	case OpLedger:
		outputs := make([]string, len(step.Outputs))
		for i, ref := range step.Outputs {
			id, err := result.resolve(ref)
			if err != nil {
				return err
			}
			outputs[i] = id
		}
		if _, err := h.agent.Store().AppendLedger(ctx, step.Stage, outputs); err != nil {
			return err
		}

	case OpOrphan:
		seg := ir.CaptureSegment{
			TSUTC:    step.TS,
			BlobID:   step.Blob,
			Metadata: ir.Object{},
		}
		id, err := ir.SegmentID(seg.TSUTC, seg.BlobID)
		if err != nil {
			return err
		}
		seg.SegmentID = id
		if _, err := h.agent.Segments().Append(ctx, seg); err != nil {
			return err
		}
		bind(result, step.As, id)

	case OpReconcile:
		report, err := h.agent.Reconcile(ctx, step.Repair)
		if err != nil {
			return err
		}
		h.logger.Debug("reconciled", "registered", len(report.Registered), "repaired", len(report.Repaired))

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func bind(result *Result, name, segmentID string) {
	if name != "" {
		result.Segments[name] = segmentID
	}
}

// collect reads the final ledger, segment store and audit into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	entries, err := h.agent.Store().ReadLedger(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	for _, e := range entries {
		outputs := make([]string, len(e.Outputs))
		for i, id := range e.Outputs {
			outputs[i] = result.alias(id)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Seq:     e.Seq,
			ID:      e.ID,
			Stage:   e.Stage,
			Outputs: outputs,
			TSUTC:   e.TSUTC,
		})
	}

	ids, err := h.agent.Segments().List()
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	result.SegmentCount = len(ids)

	result.Audit, err = h.agent.Audit(ctx)
	if err != nil {
		return fmt.Errorf("failed to audit: %w", err)
	}
	return nil
}
