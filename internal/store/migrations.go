package store

// Migrations returns the built-in schema history. Versions are permanent:
// never edit or renumber a released migration, append a new one instead.
func Migrations() []Migration {
	return []Migration{
		SQLMigration(1, "ledger", `
			CREATE TABLE ledger_entries (
				id     TEXT PRIMARY KEY,
				seq    INTEGER NOT NULL UNIQUE,
				stage  TEXT NOT NULL DEFAULT '',
				ts_utc TEXT NOT NULL
			);
			CREATE TABLE ledger_outputs (
				entry_id  TEXT NOT NULL REFERENCES ledger_entries(id),
				position  INTEGER NOT NULL,
				record_id TEXT NOT NULL,
				PRIMARY KEY (entry_id, position)
			);
			CREATE INDEX idx_ledger_outputs_record ON ledger_outputs(record_id);
		`, `
			DROP TABLE ledger_outputs;
			DROP TABLE ledger_entries;
		`),
		SQLMigration(2, "records", `
			CREATE TABLE records (
				id          TEXT PRIMARY KEY,
				record_type TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);
			CREATE INDEX idx_records_type ON records(record_type);
		`, `
			DROP TABLE records;
		`),
		SQLMigration(3, "segment_index", `
			CREATE TABLE segments (
				segment_id TEXT PRIMARY KEY,
				ts_utc     TEXT NOT NULL,
				blob_id    TEXT NOT NULL,
				indexed_at TEXT NOT NULL
			);
			CREATE INDEX idx_segments_ts ON segments(ts_utc);
		`, `
			DROP TABLE segments;
		`),
	}
}
