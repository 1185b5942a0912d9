package sqlite

import (
	"context"
	"database/sql"

	"github.com/scrypster/memindex/internal/storage"
)

// SchemaVersion is the schema version produced by Open.
const SchemaVersion = 16

// baseSchema creates the current table layout on a fresh database. On an
// older database the CREATE TABLE statements are no-ops and the migrations
// below add whatever is missing. Indexes here only touch columns that
// existed at v1.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS memory_index (
		id INTEGER PRIMARY KEY,
		spec_folder TEXT NOT NULL,
		file_path TEXT NOT NULL,
		canonical_file_path TEXT,
		anchor_id TEXT,
		title TEXT,
		trigger_phrases TEXT,
		importance_weight REAL DEFAULT 0.5,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		embedding_model TEXT,
		embedding_generated_at TEXT,
		embedding_status TEXT DEFAULT 'pending'
			CHECK(embedding_status IN ('pending', 'success', 'failed', 'retry', 'partial')),
		retry_count INTEGER DEFAULT 0,
		last_retry_at TEXT,
		failure_reason TEXT,
		base_importance REAL DEFAULT 0.5,
		decay_half_life_days REAL DEFAULT 90.0,
		is_pinned INTEGER DEFAULT 0,
		access_count INTEGER DEFAULT 0,
		last_accessed INTEGER DEFAULT 0,
		importance_tier TEXT DEFAULT 'normal'
			CHECK(importance_tier IN ('constitutional', 'critical', 'important', 'normal', 'temporary', 'deprecated')),
		session_id TEXT,
		context_type TEXT DEFAULT 'general'
			CHECK(context_type IN ('research', 'implementation', 'decision', 'discovery', 'general')),
		channel TEXT DEFAULT 'default',
		content_hash TEXT,
		expires_at TEXT,
		confidence REAL DEFAULT 0.5,
		validation_count INTEGER DEFAULT 0,
		stability REAL DEFAULT 1.0,
		difficulty REAL DEFAULT 5.0,
		last_review TEXT,
		review_count INTEGER DEFAULT 0,
		file_mtime_ms INTEGER,
		is_archived INTEGER DEFAULT 0,
		document_type TEXT DEFAULT 'memory',
		spec_level INTEGER,
		content_text TEXT,
		quality_score REAL DEFAULT 0,
		quality_flags TEXT,
		related_memories TEXT,
		memory_type TEXT DEFAULT 'declarative',
		half_life_days REAL,
		parent_id INTEGER REFERENCES memory_index(id) ON DELETE CASCADE,
		chunk_index INTEGER,
		chunk_label TEXT,
		UNIQUE(spec_folder, file_path, anchor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS vec_memories (
		rowid INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vec_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS memory_history (
		id TEXT PRIMARY KEY,
		memory_id INTEGER NOT NULL,
		prev_value TEXT,
		new_value TEXT,
		event TEXT NOT NULL CHECK(event IN ('ADD', 'UPDATE', 'DELETE')),
		timestamp TEXT NOT NULL,
		is_deleted INTEGER DEFAULT 0,
		actor TEXT DEFAULT 'system'
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL,
		spec_folder TEXT,
		git_branch TEXT,
		memory_snapshot BLOB,
		file_snapshot BLOB,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spec_folder ON memory_index(spec_folder)`,
	`CREATE INDEX IF NOT EXISTS idx_created_at ON memory_index(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_importance ON memory_index(importance_weight DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_embedding_status ON memory_index(embedding_status)`,
	`CREATE INDEX IF NOT EXISTS idx_importance_tier ON memory_index(importance_tier)`,
	`CREATE INDEX IF NOT EXISTS idx_canonical_file_path ON memory_index(canonical_file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_history(memory_id)`,
}

func stmts(s ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		return storage.ExecIdempotent(ctx, tx, s...)
	}
}

// migrations upgrade any earlier layout to SchemaVersion.
var migrations = []storage.Migration{
	{Version: 1, Description: "initial schema", Apply: stmts()},
	{Version: 2, Description: "history timestamp index", Apply: stmts(
		`CREATE INDEX IF NOT EXISTS idx_history_timestamp ON memory_history(timestamp DESC)`,
	)},
	{Version: 3, Description: "related memories", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN related_memories TEXT`,
	)},
	{Version: 4, Description: "FSRS state and conflict log", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN stability REAL DEFAULT 1.0`,
		`ALTER TABLE memory_index ADD COLUMN difficulty REAL DEFAULT 5.0`,
		`ALTER TABLE memory_index ADD COLUMN last_review TEXT`,
		`ALTER TABLE memory_index ADD COLUMN review_count INTEGER DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_stability ON memory_index(stability DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_last_review ON memory_index(last_review)`,
		`CREATE INDEX IF NOT EXISTS idx_fsrs_retrieval ON memory_index(stability, difficulty, last_review)`,
	)},
	{Version: 5, Description: "memory types", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN memory_type TEXT DEFAULT 'declarative'`,
		`ALTER TABLE memory_index ADD COLUMN half_life_days REAL`,
		`CREATE INDEX IF NOT EXISTS idx_memory_type ON memory_index(memory_type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_type_decay ON memory_index(memory_type, half_life_days)`,
	)},
	{Version: 6, Description: "file mtime for incremental indexing", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN file_mtime_ms INTEGER`,
		`CREATE INDEX IF NOT EXISTS idx_file_mtime ON memory_index(file_mtime_ms)`,
	)},
	{Version: 7, Description: "deferred indexing indexes", Apply: stmts(
		`CREATE INDEX IF NOT EXISTS idx_embedding_pending ON memory_index(embedding_status)
			WHERE embedding_status IN ('pending', 'partial', 'retry')`,
		`CREATE INDEX IF NOT EXISTS idx_keyword_fallback ON memory_index(spec_folder, embedding_status, importance_tier)
			WHERE embedding_status IN ('pending', 'partial')`,
	)},
	{Version: 8, Description: "causal edges", Apply: stmts(
		`CREATE TABLE IF NOT EXISTS causal_edges (
			id INTEGER PRIMARY KEY,
			source_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			relation TEXT NOT NULL CHECK(relation IN (
				'caused', 'enabled', 'supersedes', 'contradicts', 'derived_from', 'supports'
			)),
			strength REAL DEFAULT 1.0 CHECK(strength >= 0.0 AND strength <= 1.0),
			evidence TEXT,
			extracted_at TEXT DEFAULT (datetime('now')),
			UNIQUE(source_id, target_id, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_causal_source ON causal_edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_causal_target ON causal_edges(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_causal_relation ON causal_edges(relation)`,
	)},
	{Version: 9, Description: "memory corrections", Apply: stmts(
		`CREATE TABLE IF NOT EXISTS memory_corrections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_memory_id INTEGER NOT NULL,
			correction_memory_id INTEGER,
			correction_type TEXT NOT NULL CHECK(correction_type IN ('superseded', 'deprecated', 'refined', 'merged')),
			original_stability_before REAL,
			original_stability_after REAL,
			reason TEXT,
			corrected_by TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			is_undone INTEGER DEFAULT 0,
			undone_at TEXT,
			FOREIGN KEY (original_memory_id) REFERENCES memory_index(id) ON DELETE CASCADE,
			FOREIGN KEY (correction_memory_id) REFERENCES memory_index(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_original ON memory_corrections(original_memory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_active ON memory_corrections(original_memory_id, is_undone) WHERE is_undone = 0`,
	)},
	{Version: 10, Description: "composite search indexes", Apply: stmts(
		`CREATE INDEX IF NOT EXISTS idx_folder_status ON memory_index(spec_folder, embedding_status)`,
		`CREATE INDEX IF NOT EXISTS idx_tier_weight ON memory_index(importance_tier, importance_weight DESC)`,
	)},
	{Version: 11, Description: "archive and expiry columns", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN is_archived INTEGER DEFAULT 0`,
		`ALTER TABLE memory_index ADD COLUMN expires_at TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_archived ON memory_index(is_archived)`,
	)},
	{Version: 12, Description: "unified conflict log", Apply: stmts(
		`DROP TABLE IF EXISTS memory_conflicts`,
		`CREATE TABLE IF NOT EXISTS memory_conflicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT DEFAULT CURRENT_TIMESTAMP,
			action TEXT CHECK(action IN ('CREATE', 'CREATE_LINKED', 'UPDATE', 'SUPERSEDE', 'REINFORCE')),
			new_memory_hash TEXT,
			new_memory_id INTEGER,
			existing_memory_id INTEGER,
			similarity REAL,
			reason TEXT,
			contradiction_detected INTEGER DEFAULT 0,
			spec_folder TEXT,
			FOREIGN KEY (existing_memory_id) REFERENCES memory_index(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_memory ON memory_conflicts(existing_memory_id)`,
	)},
	{Version: 13, Description: "document type and spec level", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN document_type TEXT DEFAULT 'memory'`,
		`ALTER TABLE memory_index ADD COLUMN spec_level INTEGER`,
		`CREATE INDEX IF NOT EXISTS idx_document_type ON memory_index(document_type)`,
		`UPDATE memory_index SET document_type = 'constitutional'
			WHERE document_type = 'memory' AND importance_tier = 'constitutional'`,
	)},
	{Version: 14, Description: "content text", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN content_text TEXT`,
	)},
	{Version: 15, Description: "quality gates", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN quality_score REAL DEFAULT 0`,
		`ALTER TABLE memory_index ADD COLUMN quality_flags TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_quality_score ON memory_index(quality_score)`,
	)},
	{Version: 16, Description: "chunked documents", Apply: stmts(
		`ALTER TABLE memory_index ADD COLUMN parent_id INTEGER REFERENCES memory_index(id) ON DELETE CASCADE`,
		`ALTER TABLE memory_index ADD COLUMN chunk_index INTEGER`,
		`ALTER TABLE memory_index ADD COLUMN chunk_label TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_parent_id ON memory_index(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parent_chunk ON memory_index(parent_id, chunk_index)`,
	)},
}
