package ir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CaptureSegment is the durable unit of evidence.
// Once written under a SegmentID it is immutable.
type CaptureSegment struct {
	SegmentID string `json:"segment_id"` // Content-addressed, see SegmentID()
	TSUTC     string `json:"ts_utc"`     // RFC 3339 UTC with Z suffix
	BlobID    string `json:"blob_id"`    // Opaque id from the blob store
	Metadata  Object `json:"metadata"`   // Caller-supplied, open-ended
}

// Validate checks the fields the evidence core itself depends on.
// Metadata is deliberately not inspected.
func (s CaptureSegment) Validate() error {
	if s.SegmentID == "" {
		return fmt.Errorf("segment: segment_id is required")
	}
	if s.BlobID == "" {
		return fmt.Errorf("segment %s: blob_id is required", s.SegmentID)
	}
	if _, err := ParseTimestamp(s.TSUTC); err != nil {
		return fmt.Errorf("segment %s: %w", s.SegmentID, err)
	}
	return nil
}

// Canonical returns the deterministic serialization of the segment.
// Identical logical content always yields identical bytes.
func (s CaptureSegment) Canonical() ([]byte, error) {
	meta := s.Metadata
	if meta == nil {
		meta = Object{}
	}
	return MarshalCanonical(Object{
		"segment_id": String(s.SegmentID),
		"ts_utc":     String(s.TSUTC),
		"blob_id":    String(s.BlobID),
		"metadata":   meta,
	})
}

// ParseSegment decodes and validates a serialized segment.
func ParseSegment(data []byte) (CaptureSegment, error) {
	v, err := ParseValue(data)
	if err != nil {
		return CaptureSegment{}, fmt.Errorf("parse segment: %w", err)
	}
	obj, ok := v.(Object)
	if !ok {
		return CaptureSegment{}, fmt.Errorf("parse segment: expected object, got %T", v)
	}

	var seg CaptureSegment
	for field, dst := range map[string]*string{
		"segment_id": &seg.SegmentID,
		"ts_utc":     &seg.TSUTC,
		"blob_id":    &seg.BlobID,
	} {
		s, ok := obj[field].(String)
		if !ok {
			return CaptureSegment{}, fmt.Errorf("parse segment: field %q missing or not a string", field)
		}
		*dst = string(s)
	}

	switch meta := obj["metadata"].(type) {
	case nil:
		seg.Metadata = Object{}
	case Object:
		seg.Metadata = meta
	default:
		return CaptureSegment{}, fmt.Errorf("parse segment: metadata must be an object, got %T", meta)
	}

	if err := seg.Validate(); err != nil {
		return CaptureSegment{}, fmt.Errorf("parse segment: %w", err)
	}
	return seg, nil
}

// FormatTimestamp renders t as the ts_utc wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a ts_utc value, requiring the UTC "Z" designator.
func ParseTimestamp(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("ts_utc %q is not UTC", s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts_utc %q: %w", s, err)
	}
	return t, nil
}

// LedgerEntry records that a processing stage produced or touched a set of
// record ids. Entries are append-only.
//
// An entry with an empty Stage is a partial entry: it is stored, but it
// never counts as evidence for any stage.
type LedgerEntry struct {
	ID      string   `json:"id"`      // UUIDv7
	Seq     int64    `json:"seq"`     // Ledger order
	Stage   string   `json:"stage"`   // e.g. "capture", "segment.seal"
	Outputs []string `json:"outputs"` // Record ids
	TSUTC   string   `json:"ts_utc"`
}

// Partial reports whether the entry lacks a stage.
func (e LedgerEntry) Partial() bool {
	return strings.TrimSpace(e.Stage) == ""
}

// Record is any evidence or derived artifact subject to provenance checks.
type Record struct {
	ID         string `json:"record_id"`
	RecordType string `json:"record_type"`
}

// MarshalJSON keeps Outputs a JSON array even when empty.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	type alias LedgerEntry
	if e.Outputs == nil {
		e.Outputs = []string{}
	}
	return json.Marshal(alias(e))
}
