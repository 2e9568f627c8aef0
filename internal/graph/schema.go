package graph

import (
	"context"
	"database/sql"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// schemaStatements creates every table and index. All statements are
// idempotent so the migration can run on every open.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS symbols (
		fqn          TEXT PRIMARY KEY,
		kind         TEXT NOT NULL CHECK (kind IN ('class','interface','method','field')),
		name         TEXT NOT NULL,
		file_path    TEXT,
		line_number  INTEGER,
		signature    TEXT,
		parent_fqn   TEXT,
		modifiers    TEXT NOT NULL DEFAULT '[]',
		annotations  TEXT NOT NULL DEFAULT '[]',
		content_hash TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,

	// Edges may reference FQNs outside the symbol table (third-party calls),
	// so no foreign key is declared; the AFTER-DELETE triggers below clean
	// stale internal references instead.
	`CREATE TABLE IF NOT EXISTS edges (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		from_fqn TEXT NOT NULL,
		to_fqn   TEXT NOT NULL,
		relation TEXT NOT NULL CHECK (relation IN ('calls','inherits','implements','instantiates','injects','member_of')),
		metadata TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS entry_points (
		symbol_fqn  TEXT PRIMARY KEY REFERENCES symbols(fqn) ON DELETE CASCADE,
		entry_type  TEXT NOT NULL CHECK (entry_type IN ('http_api','scheduled','mq_consumer')),
		http_method TEXT,
		http_path   TEXT,
		cron        TEXT,
		mq_queue    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS external_dependencies (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		caller_fqn TEXT NOT NULL REFERENCES symbols(fqn) ON DELETE CASCADE,
		dep_type   TEXT NOT NULL CHECK (dep_type IN ('mysql','redis','mq','http','rpc')),
		target     TEXT NOT NULL,
		strength   TEXT NOT NULL DEFAULT 'strong' CHECK (strength IN ('strong','weak')),
		UNIQUE (caller_fqn, dep_type, target)
	)`,

	`CREATE TABLE IF NOT EXISTS summaries (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		target_fqn   TEXT NOT NULL UNIQUE REFERENCES symbols(fqn) ON DELETE CASCADE,
		level        TEXT NOT NULL CHECK (level IN ('method','class','package','module')),
		summary_text TEXT NOT NULL DEFAULT '',
		vector_id    TEXT,
		is_stale     INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS glossary (
		code_term        TEXT PRIMARY KEY,
		business_meaning TEXT NOT NULL,
		synonyms         TEXT NOT NULL DEFAULT '[]',
		source_fqn       TEXT REFERENCES symbols(fqn) ON DELETE SET NULL,
		vector_id        TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS constraints (
		name            TEXT PRIMARY KEY,
		description     TEXT NOT NULL,
		source_fqn      TEXT REFERENCES symbols(fqn) ON DELETE SET NULL,
		source_line     INTEGER,
		constraint_type TEXT NOT NULL CHECK (constraint_type IN ('validation','business_rule','invariant')),
		vector_id       TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS anti_patterns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id     TEXT NOT NULL,
		from_fqn    TEXT NOT NULL REFERENCES symbols(fqn) ON DELETE CASCADE,
		to_fqn      TEXT,
		severity    TEXT NOT NULL CHECK (severity IN ('error','warning','info')),
		message     TEXT NOT NULL,
		detected_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS impact_jobs (
		job_id          TEXT PRIMARY KEY,
		mode            TEXT NOT NULL CHECK (mode IN ('full','incremental')),
		status          TEXT NOT NULL CHECK (status IN ('pending','running','complete','failed')),
		progress        INTEGER NOT NULL DEFAULT 0,
		total_files     INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0,
		target_paths    TEXT,
		started_at      TEXT,
		completed_at    TEXT,
		error_message   TEXT,
		created_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS vector_sync_state (
		vector_id       TEXT NOT NULL,
		table_name      TEXT NOT NULL,
		record_fqn      TEXT NOT NULL,
		sync_status     TEXT NOT NULL CHECK (sync_status IN ('synced','pending','stalled')),
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		PRIMARY KEY (vector_id, table_name)
	)`,

	`CREATE TABLE IF NOT EXISTS pending_vector_ops (
		temp_id     TEXT PRIMARY KEY,
		op          TEXT NOT NULL CHECK (op IN ('create','delete','update')),
		table_name  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_symbols_parent ON symbols(parent_fqn)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_fqn, relation)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_fqn, relation)`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_target ON summaries(target_fqn, is_stale)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON impact_jobs(status)`,
}

// triggerStatements recreate the edge cleanup triggers. Recreated
// idempotently on every startup so a database touched by an older build
// regains them.
var triggerStatements = []string{
	`CREATE TRIGGER IF NOT EXISTS trg_edges_cascade_from
		AFTER DELETE ON symbols
	BEGIN
		DELETE FROM edges WHERE from_fqn = OLD.fqn;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_edges_cascade_to
		AFTER DELETE ON symbols
	BEGIN
		DELETE FROM edges WHERE to_fqn = OLD.fqn;
	END`,
}

// orphanSweeps delete rows in dependent tables whose owning symbol no longer
// exists. These only fire on databases written before the cascades existed;
// counts are logged, never silent.
var orphanSweeps = map[string]string{
	"entry_points":          `DELETE FROM entry_points WHERE symbol_fqn NOT IN (SELECT fqn FROM symbols)`,
	"external_dependencies": `DELETE FROM external_dependencies WHERE caller_fqn NOT IN (SELECT fqn FROM symbols)`,
	"summaries":             `DELETE FROM summaries WHERE target_fqn NOT IN (SELECT fqn FROM symbols)`,
	"anti_patterns":         `DELETE FROM anti_patterns WHERE from_fqn NOT IN (SELECT fqn FROM symbols)`,
}

func (s *Store) migrate(ctx context.Context) error {
	log := logging.Get(logging.CategoryStore)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return apperr.Wrap(apperr.KindFatal, err, "apply schema statement")
			}
		}
		for _, stmt := range triggerStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return apperr.Wrap(apperr.KindFatal, err, "recreate trigger")
			}
		}
		for table, stmt := range orphanSweeps {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return apperr.Wrap(apperr.KindFatal, err, "sweep orphans in %s", table)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				log.Warnw("deleted orphaned rows during migration", "table", table, "count", n)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debugw("schema migration complete", "path", s.path)
	return nil
}
