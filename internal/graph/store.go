// Package graph is the durable relational store for all knowledge graph
// entities: symbols, edges, entry points, external dependencies, summaries,
// glossary, constraints, anti-patterns and rebuild jobs. SQLite in WAL mode;
// referential integrity through declared cascades plus AFTER-DELETE edge
// triggers, since edges may reference FQNs outside the symbol table.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// maxBatchParams bounds the size of a single IN (...) clause. Larger inputs
// are chunked inside one transaction, so batches of 10k FQNs stay atomic.
const maxBatchParams = 500

// Store wraps one SQLite database file. The *sql.DB pool hands each worker
// goroutine its own connection; per-connection pragmas come from the DSN so
// every pooled connection gets WAL, the busy timeout and foreign keys.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema migration. A migration that cannot apply aborts with a Fatal error.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "create database directory %s", dir)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "open database %s", path)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategoryStore).Infow("store opened", "path", path)
	return s, nil
}

// dsn builds the modernc DSN with per-connection pragmas: WAL for concurrent
// reads during writes, a 30 s busy timeout so transient contention retries
// internally, and enforced foreign keys.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(30000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying pool for components that manage their own
// transactions (dual-write coordinator, job queue).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// IntegrityCheck runs the engine-level check and returns an error unless it
// reports "ok".
func (s *Store) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "integrity_check")
	}
	if result != "ok" {
		return apperr.New(apperr.KindIntegrity, "integrity_check reported %q", result)
	}
	return nil
}

// ForeignKeyCheck returns the number of foreign-key violations.
func (s *Store) ForeignKeyCheck(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "foreign_key_check")
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// --- shared helpers ---

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func chunkStrings(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func toArgs(items []string) []interface{} {
	args := make([]interface{}, len(items))
	for i, it := range items {
		args[i] = it
	}
	return args
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.Get(logging.CategoryStore).Warnw("corrupt JSON list column", "raw", raw, "error", err)
		return nil
	}
	return out
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t
	}
	return time.Time{}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logging.Get(logging.CategoryStore).Errorw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "commit transaction")
	}
	return nil
}
