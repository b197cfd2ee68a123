package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// Migration is one forward schema step.
//
// Apply runs inside the transaction that also records the migration, so it
// must not commit or roll back tx. Down documents the manual rollback; the
// engine never runs it. An empty Down means "restore from backup".
type Migration struct {
	Version int64
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
	Down    string
}

// SQLMigration builds a Migration that executes a fixed script.
func SQLMigration(version int64, name, up, down string) Migration {
	return Migration{
		Version: version,
		Name:    name,
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, up)
			return err
		},
		Down: down,
	}
}

// AppliedMigration is one row of the tracking table.
type AppliedMigration struct {
	Version   int64  `json:"version"`
	Name      string `json:"name"`
	AppliedAt string `json:"applied_at"`
}

// MigrationError reports the migration that aborted a batch. Migrations
// before it in the same call are committed; it is not recorded.
type MigrationError struct {
	Version int64
	Name    string
	Err     error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// IsMigrationError returns true if err is or wraps a *MigrationError.
func IsMigrationError(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}

func (s *Store) ensureTrackingTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// RecordBaseline marks an existing database as already at version. It only
// writes when no migration has ever been recorded, and reports whether it
// did. Migrations at or below the baseline are then treated as applied.
func (s *Store) RecordBaseline(ctx context.Context, version int64, name string) (bool, error) {
	if version <= 0 {
		return false, fmt.Errorf("record baseline: version must be positive, got %d", version)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record baseline: begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return false, fmt.Errorf("record baseline: count: %w", err)
	}
	if count > 0 {
		s.logger.Info("baseline skipped; migration history exists", "rows", count)
		return false, nil
	}

	if err := s.recordApplied(ctx, tx, version, name); err != nil {
		return false, fmt.Errorf("record baseline: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record baseline: commit: %w", err)
	}

	s.logger.Info("baseline recorded", "version", version, "name", name)
	return true, nil
}

// AppliedMigrations returns the tracking rows in version order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, applied_at
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := []AppliedMigration{}
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied = append(applied, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return applied, nil
}

// SchemaVersion returns the highest recorded version, or 0.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v.Int64, nil
}

// ErrUnrecordedMigration marks a migration that is missing from the
// recorded history although a newer version is recorded.
var ErrUnrecordedMigration = errors.New("migration not recorded but a newer version is")

// ApplyMigrations runs every migration not yet recorded, in ascending
// version order, and returns the versions it applied (empty when current).
//
// Versions below the lowest recorded version are covered by it (typically
// a baseline) and never applied. An unrecorded version above it but below
// the highest recorded one fails the whole call before anything runs,
// since applying it out of order is unsafe. The first failing migration
// stops the batch. Both errors are *MigrationError.
func (s *Store) ApplyMigrations(ctx context.Context, migrations []Migration) ([]int64, error) {
	if err := checkMigrations(migrations); err != nil {
		return nil, err
	}

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]bool, len(applied))
	var lowest, highest int64
	for i, m := range applied {
		done[m.Version] = true
		if i == 0 {
			lowest = m.Version
		}
		highest = max(highest, m.Version)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		switch {
		case done[m.Version], m.Version < lowest:
		case m.Version < highest:
			s.logger.Error("migration missing from recorded history",
				"version", m.Version,
				"name", m.Name,
				"schema_version", highest)
			return []int64{}, &MigrationError{
				Version: m.Version,
				Name:    m.Name,
				Err:     fmt.Errorf("%w (schema at version %d)", ErrUnrecordedMigration, highest),
			}
		default:
			pending = append(pending, m)
		}
	}
	slices.SortFunc(pending, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})

	versions := []int64{}
	for _, m := range pending {
		if err := s.applyOne(ctx, m); err != nil {
			s.logger.Error("migration failed", "version", m.Version, "name", m.Name, "error", err)
			return versions, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
		}
		s.logger.Info("migration applied", "version", m.Version, "name", m.Name)
		versions = append(versions, m.Version)
	}
	return versions, nil
}

func checkMigrations(migrations []Migration) error {
	seen := make(map[int64]string, len(migrations))
	for _, m := range migrations {
		if m.Version <= 0 {
			return fmt.Errorf("migration %q: version must be positive, got %d", m.Name, m.Version)
		}
		if m.Apply == nil {
			return fmt.Errorf("migration %d (%s): apply is nil", m.Version, m.Name)
		}
		if prev, ok := seen[m.Version]; ok {
			return fmt.Errorf("duplicate migration version %d: %q and %q", m.Version, prev, m.Name)
		}
		seen[m.Version] = m.Name
	}
	return nil
}

func (s *Store) applyOne(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}
	if err := s.recordApplied(ctx, tx, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) recordApplied(ctx context.Context, tx *sql.Tx, version int64, name string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at)
		VALUES (?, ?, ?)
	`, version, name, s.timestamp()); err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	// Versions only grow, so the latest insert is always the maximum.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
