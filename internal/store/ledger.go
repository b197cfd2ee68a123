package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/evidenceledger/internal/ir"
)

// AppendLedger records one completed stage and the record ids it output.
// seq is assigned inside the transaction as one past the current maximum,
// so entries are totally ordered by append. An empty stage is stored as-is;
// readers treat it as a partial entry.
func (s *Store) AppendLedger(ctx context.Context, stage string, outputs []string) (ir.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.LedgerEntry{}, fmt.Errorf("append ledger: begin: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM ledger_entries").Scan(&maxSeq); err != nil {
		return ir.LedgerEntry{}, fmt.Errorf("append ledger: read seq: %w", err)
	}

	entry := ir.LedgerEntry{
		ID:      s.ids.Generate(),
		Seq:     maxSeq.Int64 + 1,
		Stage:   stage,
		Outputs: append([]string{}, outputs...),
		TSUTC:   s.timestamp(),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, seq, stage, ts_utc)
		VALUES (?, ?, ?, ?)
	`, entry.ID, entry.Seq, entry.Stage, entry.TSUTC); err != nil {
		return ir.LedgerEntry{}, fmt.Errorf("append ledger: insert entry: %w", err)
	}

	for i, out := range entry.Outputs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_outputs (entry_id, position, record_id)
			VALUES (?, ?, ?)
		`, entry.ID, i, out); err != nil {
			return ir.LedgerEntry{}, fmt.Errorf("append ledger: insert output %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ir.LedgerEntry{}, fmt.Errorf("append ledger: commit: %w", err)
	}

	s.logger.Debug("ledger entry appended", "id", entry.ID, "seq", entry.Seq, "stage", entry.Stage, "outputs", len(entry.Outputs))
	return entry, nil
}

// ReadLedger returns every entry in append order.
// Ordering: seq ASC, id ASC COLLATE BINARY. Outputs keep their append order.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) ReadLedger(ctx context.Context) ([]ir.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.seq, e.stage, e.ts_utc, o.record_id
		FROM ledger_entries e
		LEFT JOIN ledger_outputs o ON o.entry_id = e.id
		ORDER BY e.seq ASC, e.id COLLATE BINARY ASC, o.position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries := []ir.LedgerEntry{}
	for rows.Next() {
		var (
			e        ir.LedgerEntry
			recordID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Stage, &e.TSUTC, &recordID); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}

		if n := len(entries); n == 0 || entries[n-1].ID != e.ID {
			e.Outputs = []string{}
			entries = append(entries, e)
		}
		if recordID.Valid {
			last := &entries[len(entries)-1]
			last.Outputs = append(last.Outputs, recordID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

// LedgerStagesFor returns the distinct stages that list recordID as an
// output, sorted.
func (s *Store) LedgerStagesFor(ctx context.Context, recordID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.stage
		FROM ledger_outputs o
		JOIN ledger_entries e ON e.id = o.entry_id
		WHERE o.record_id = ? AND e.stage != ''
		ORDER BY e.stage COLLATE BINARY ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query stages for %s: %w", recordID, err)
	}
	defer rows.Close()

	stages := []string{}
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return stages, nil
}
