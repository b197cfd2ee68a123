package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/evidenceledger/internal/ir"
)

// PutRecord registers a record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency; the first record type stored for an id wins. Reports whether
// a row was inserted.
func (s *Store) PutRecord(ctx context.Context, r ir.Record) (bool, error) {
	if r.ID == "" || r.RecordType == "" {
		return false, fmt.Errorf("put record: id and record_type are required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, record_type, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.RecordType, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("put record %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put record %s: %w", r.ID, err)
	}
	return n > 0, nil
}

// ReadRecords returns every record ordered by id.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadRecords(ctx context.Context) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_type
		FROM records
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		var r ir.Record
		if err := rows.Scan(&r.ID, &r.RecordType); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// IndexSegment adds seg to the segment index. Idempotent.
func (s *Store) IndexSegment(ctx context.Context, seg ir.CaptureSegment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (segment_id, ts_utc, blob_id, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(segment_id) DO NOTHING
	`, seg.SegmentID, seg.TSUTC, seg.BlobID, s.timestamp())
	if err != nil {
		return fmt.Errorf("index segment %s: %w", seg.SegmentID, err)
	}
	return nil
}

// SegmentIndexed reports whether segmentID is in the index.
func (s *Store) SegmentIndexed(ctx context.Context, segmentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM segments WHERE segment_id = ?", segmentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query segment %s: %w", segmentID, err)
	}
	return true, nil
}

// CountSegments returns the number of indexed segments.
func (s *Store) CountSegments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM segments").Scan(&n); err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return n, nil
}
