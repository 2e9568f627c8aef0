// Package vector is the companion similarity-search store. Three named
// collections (summaries, glossary, constraints) live as separate SQLite
// files under one directory; embeddings are stored as JSON and ranked by
// cosine distance. Record IDs equal the owning relational row's stable
// identifier so a single join key binds both stores.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// Collection names.
const (
	CollectionSummaries   = "summaries"
	CollectionGlossary    = "glossary"
	CollectionConstraints = "constraints"
)

var collections = []string{CollectionSummaries, CollectionGlossary, CollectionConstraints}

// Record is one stored entry.
type Record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is one ranked search hit. Distance is cosine distance (0 best).
type Result struct {
	Record
	Distance float64 `json:"distance"`
}

// Store manages the collection files. Safe for concurrent use.
type Store struct {
	dir string
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

// Open creates the directory and the three collections.
func Open(dir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "create vector directory %s", dir)
	}

	s := &Store{dir: dir, dbs: make(map[string]*sql.DB, len(collections))}
	for _, name := range collections {
		db, err := sql.Open("sqlite", dsn(filepath.Join(dir, name+".db")))
		if err != nil {
			s.Close()
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "open collection %s", name)
		}
		if _, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS vectors (
				id         TEXT PRIMARY KEY,
				content    TEXT NOT NULL,
				embedding  TEXT,
				metadata   TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL
			)`); err != nil {
			db.Close()
			s.Close()
			return nil, apperr.Wrap(apperr.KindFatal, err, "initialize collection %s", name)
		}
		s.dbs[name] = db
	}
	logging.Get(logging.CategoryVector).Infow("vector store opened", "dir", dir)
	return s, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)"
}

// Close closes every collection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, name)
	}
	return first
}

func (s *Store) collection(name string) (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.dbs[name]
	if !ok {
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown collection %q", name)
	}
	return db, nil
}

// Add stores a record, replacing any previous entry with the same id.
func (s *Store) Add(ctx context.Context, collection, id, content string, embedding []float32, metadata map[string]string) error {
	db, err := s.collection(collection)
	if err != nil {
		return err
	}
	var embJSON interface{}
	if embedding != nil {
		b, err := json.Marshal(embedding)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidArgument, err, "serialize embedding for %s", id)
		}
		embJSON = string(b)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "serialize metadata for %s", id)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO vectors (id, content, embedding, metadata, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata`,
		id, content, embJSON, string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "add vector %s/%s", collection, id)
	}
	return nil
}

// Update rewrites content/embedding/metadata for an existing id.
func (s *Store) Update(ctx context.Context, collection, id, content string, embedding []float32, metadata map[string]string) error {
	db, err := s.collection(collection)
	if err != nil {
		return err
	}
	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE id = ?`, id).Scan(&exists); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "lookup vector %s/%s", collection, id)
	}
	if exists == 0 {
		return apperr.New(apperr.KindNotFound, "vector %s/%s not found", collection, id)
	}
	return s.Add(ctx, collection, id, content, embedding, metadata)
}

// Delete removes records by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "delete vector %s/%s", collection, id)
		}
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	db, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count %s", collection)
	}
	return n, nil
}

// IDs returns every record id in a collection. Used by orphan detection.
func (s *Store) IDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	db, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id FROM vectors`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list ids in %s", collection)
	}
	defer rows.Close()
	out := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan id")
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Search ranks records by cosine distance to the query embedding. Records
// without an embedding are skipped. filters require exact metadata matches.
func (s *Store) Search(ctx context.Context, collection string, query []float32, k int, filters map[string]string) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Search")
	defer timer.Stop()

	if len(query) == 0 {
		return nil, apperr.New(apperr.KindInvalidArgument, "empty query embedding")
	}
	if k <= 0 {
		k = 10
	}
	db, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, content, embedding, metadata FROM vectors WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search %s", collection)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var rec Record
		var embJSON, metaJSON string
		if err := rows.Scan(&rec.ID, &rec.Content, &embJSON, &metaJSON); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan vector row")
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			logging.Get(logging.CategoryVector).Warnw("corrupt embedding skipped", "collection", collection, "id", rec.ID)
			continue
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
				logging.Get(logging.CategoryVector).Warnw("corrupt metadata skipped", "collection", collection, "id", rec.ID)
			}
		}
		if !matchesFilters(rec.Metadata, filters) {
			continue
		}
		sim, err := CosineSimilarity(query, emb)
		if err != nil {
			continue // dimension mismatch from an older embedding model
		}
		results = append(results, Result{Record: rec, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search %s", collection)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesFilters(meta, filters map[string]string) bool {
	for k, v := range filters {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
