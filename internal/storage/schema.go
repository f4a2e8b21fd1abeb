package storage

import (
	"context"
	"fmt"
)

// The DDL sticks to types both SQLite and Postgres accept, so one schema
// serves both drivers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS machines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		machine_id TEXT NOT NULL REFERENCES machines(id),
		filename TEXT NOT NULL,
		filepath TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		context_pages TEXT,
		remote_handle TEXT,
		extraction_status TEXT NOT NULL,
		extraction_started_at TIMESTAMP,
		extraction_completed_at TIMESTAMP,
		pages_processed INTEGER NOT NULL DEFAULT 0,
		uploaded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(file_hash)`,
	`CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		page_index INTEGER NOT NULL,
		sheet_number INTEGER,
		sheet_total INTEGER,
		drawing_no TEXT,
		drawing_title TEXT,
		width REAL NOT NULL DEFAULT 0,
		height REAL NOT NULL DEFAULT 0,
		detection_confidence REAL NOT NULL DEFAULT 1.0,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		detected_at TIMESTAMP NOT NULL,
		UNIQUE (document_id, page_index)
	)`,
	`CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		symbol TEXT,
		name TEXT,
		mark TEXT NOT NULL,
		type TEXT,
		page_index INTEGER NOT NULL,
		sheet_number INTEGER,
		x REAL,
		y REAL,
		width REAL,
		height REAL,
		description TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (document_id, mark, page_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_components_doc_page ON components(document_id, page_index)`,
	`CREATE INDEX IF NOT EXISTS idx_components_mark ON components(document_id, mark)`,
	`CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		from_component_id TEXT,
		to_component_id TEXT,
		from_mark TEXT,
		to_mark TEXT,
		wire_label TEXT,
		terminal_from TEXT,
		terminal_to TEXT,
		page_index INTEGER NOT NULL,
		sheet_number INTEGER,
		path TEXT,
		is_external BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_doc_page ON connections(document_id, page_index)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_wire ON connections(document_id, wire_label)`,
	`CREATE TABLE IF NOT EXISTS wire_labels (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		label TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		sheet_number INTEGER,
		x REAL,
		y REAL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wire_labels_doc_page ON wire_labels(document_id, page_index)`,
	`CREATE TABLE IF NOT EXISTS continuations (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		from_mark TEXT,
		page_index INTEGER NOT NULL,
		sheet_number INTEGER,
		to_page_hint TEXT,
		direction TEXT,
		is_external BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_errors (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		page_index INTEGER,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS validation_results (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		page_index INTEGER,
		scope TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence REAL,
		discrepancies TEXT,
		validated_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates all tables and indexes if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
