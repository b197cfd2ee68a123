// Package capture turns raw payloads into durably recorded capture segments.
//
// The orchestrator owns ordering, not I/O: encoding and blob storage are
// injected collaborators, and segment durability belongs to the segment
// store. The blob is always stored before the segment is appended, so a
// recorded segment never points at a missing payload.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/evidenceledger/internal/ir"
	"github.com/roach88/evidenceledger/internal/spool"
)

// Encoder transforms a payload before storage (compression, redaction...).
type Encoder interface {
	Encode(payload []byte) ([]byte, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func([]byte) ([]byte, error)

// Encode calls f.
func (f EncoderFunc) Encode(payload []byte) ([]byte, error) {
	return f(payload)
}

// IdentityEncoder stores payloads unchanged. It is the default.
type IdentityEncoder struct{}

// Encode returns payload as-is.
func (IdentityEncoder) Encode(payload []byte) ([]byte, error) {
	return payload, nil
}

// BlobStore is a content-addressable store returning an opaque blob id.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// Clock supplies the capture timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// SegmentWriter is the durable sink for segments, normally *spool.Store.
type SegmentWriter interface {
	Append(ctx context.Context, seg ir.CaptureSegment) (spool.Outcome, error)
}

// Orchestrator records payloads as capture segments.
// Safe for concurrent use when its collaborators are.
type Orchestrator struct {
	writer  SegmentWriter
	blobs   BlobStore
	encoder Encoder
	clock   Clock
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEncoder replaces the identity encoder.
func WithEncoder(enc Encoder) Option {
	return func(o *Orchestrator) {
		o.encoder = enc
	}
}

// WithClock replaces the wall clock (tests use a fixed clock).
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator writing segments to writer and payloads to blobs.
func New(writer SegmentWriter, blobs BlobStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		writer:  writer,
		blobs:   blobs,
		encoder: IdentityEncoder{},
		clock:   SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CaptureBytes encodes and stores payload, then durably records a segment
// for it.
//
// Steps, in order:
//  1. encode the payload
//  2. store the encoded bytes, obtaining blob_id
//  3. stamp ts_utc
//  4. derive segment_id from (ts_utc, blob_id)
//  5. append to the segment store
//
// Any append failure comes back as SPOOL_WRITE_FAILED naming the segment;
// the underlying collision or corruption stays reachable via spool.IsCollision
// and spool.IsCorrupt. Retrying the whole call is safe.
func (o *Orchestrator) CaptureBytes(ctx context.Context, payload []byte, metadata ir.Object) (ir.CaptureSegment, error) {
	encoded, err := o.encoder.Encode(payload)
	if err != nil {
		return ir.CaptureSegment{}, fmt.Errorf("capture: encode payload: %w", err)
	}

	blobID, err := o.blobs.Put(ctx, encoded)
	if err != nil {
		return ir.CaptureSegment{}, fmt.Errorf("capture: store blob: %w", err)
	}

	ts := ir.FormatTimestamp(o.clock.Now())
	segmentID, err := ir.SegmentID(ts, blobID)
	if err != nil {
		return ir.CaptureSegment{}, fmt.Errorf("capture: %w", err)
	}

	seg := ir.CaptureSegment{
		SegmentID: segmentID,
		TSUTC:     ts,
		BlobID:    blobID,
		Metadata:  metadata.Clone(),
	}

	outcome, err := o.writer.Append(ctx, seg)
	if err != nil {
		return ir.CaptureSegment{}, spool.NewWriteFailedError(segmentID, err)
	}
	if outcome != spool.Written && outcome != spool.Unchanged {
		return ir.CaptureSegment{}, spool.NewWriteFailedError(segmentID,
			fmt.Errorf("unexpected append outcome %s", outcome))
	}

	o.logger.Debug("segment captured",
		"segment_id", segmentID,
		"blob_id", blobID,
		"bytes", len(encoded),
		"outcome", outcome.String(),
	)
	return seg, nil
}
