// Package dualwrite coordinates summary writes across the relational store
// and the vector store. The text row commits only after the vector plane has
// durably accepted the embedding; partial failures leave a pending-op record
// on a separate connection so crash recovery can replay or clean up.
package dualwrite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
	"ariadne/internal/vector"
)

// Coordinator binds the graph manager to the vector store.
type Coordinator struct {
	mgr     *graph.Manager
	vectors *vector.Store
}

// New creates a coordinator.
func New(mgr *graph.Manager, vectors *vector.Store) *Coordinator {
	return &Coordinator{mgr: mgr, vectors: vectors}
}

// pendingCreatePayload is the replayable payload of a failed create.
type pendingCreatePayload struct {
	TargetFQN   string    `json:"target_fqn"`
	Level       string    `json:"level"`
	SummaryText string    `json:"summary_text"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// CreateSummaryWithVector writes a fresh summary. The relational transaction
// inserts the row without vector_id first; if an embedding is supplied the
// vector store must accept it before vector_id and the sync-state row are
// written, all inside the same transaction. On a vector-plane failure the
// transaction rolls back and a pending op is recorded on a separate
// connection, outside the rolled-back transaction.
func (c *Coordinator) CreateSummaryWithVector(ctx context.Context, sum graph.Summary, embedding []float32) error {
	timer := logging.StartTimer(logging.CategoryDualWrite, "CreateSummaryWithVector")
	defer timer.Stop()

	st, release := c.mgr.Acquire()
	defer release()

	db := st.DB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "begin summary transaction")
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (target_fqn, level, summary_text, vector_id, is_stale, created_at, updated_at)
		VALUES (?,?,?,NULL,0,?,?)
		ON CONFLICT (target_fqn) DO UPDATE SET
			level = excluded.level,
			summary_text = excluded.summary_text,
			vector_id = NULL,
			is_stale = 0,
			updated_at = excluded.updated_at`,
		sum.TargetFQN, sum.Level, sum.SummaryText, now, now); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "insert summary %s", sum.TargetFQN)
	}

	if embedding != nil {
		vectorID := sum.TargetFQN
		meta := map[string]string{"level": sum.Level, "target_fqn": sum.TargetFQN}
		if err := c.vectors.Add(ctx, vector.CollectionSummaries, vectorID, sum.SummaryText, embedding, meta); err != nil {
			// Orphan-tracking path: the add may have partially applied, so a
			// pending create is recorded on a pool connection after the main
			// transaction rolls back. The rollback must come first: the open
			// transaction holds the write lock, and the pending-op insert
			// would otherwise busy-wait against it.
			_ = tx.Rollback()
			c.recordPendingOp(ctx, db, "create", vector.CollectionSummaries, pendingCreatePayload{
				TargetFQN:   sum.TargetFQN,
				Level:       sum.Level,
				SummaryText: sum.SummaryText,
				Embedding:   embedding,
			})
			return apperr.Wrap(apperr.KindUnavailable, err, "vector add for %s", sum.TargetFQN)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE summaries SET vector_id = ? WHERE target_fqn = ?`, vectorID, sum.TargetFQN); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "set vector_id for %s", sum.TargetFQN)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vector_sync_state (vector_id, table_name, record_fqn, sync_status, attempt_count, last_attempt_at)
			VALUES (?,?,?,'synced',1,?)
			ON CONFLICT (vector_id, table_name) DO UPDATE SET
				sync_status = 'synced',
				attempt_count = attempt_count + 1,
				last_attempt_at = excluded.last_attempt_at`,
			vectorID, vector.CollectionSummaries, sum.TargetFQN, now); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "record sync state for %s", sum.TargetFQN)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "commit summary %s", sum.TargetFQN)
	}
	return nil
}

// DeleteSummaryCascade removes a summary and its vector. The vector delete
// is best-effort: a failing vector store only leaves an orphan vector that
// reconciliation cleans later, so the relational delete never aborts.
func (c *Coordinator) DeleteSummaryCascade(ctx context.Context, targetFQN string) error {
	st, release := c.mgr.Acquire()
	defer release()
	db := st.DB()

	var vectorID sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT vector_id FROM summaries WHERE target_fqn = ?`, targetFQN).Scan(&vectorID)
	if err == sql.ErrNoRows {
		return apperr.New(apperr.KindNotFound, "summary for %q not found", targetFQN)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "read summary %s", targetFQN)
	}

	if vectorID.Valid {
		if err := c.vectors.Delete(ctx, vector.CollectionSummaries, []string{vectorID.String}); err != nil {
			logging.Get(logging.CategoryDualWrite).Warnw("vector delete failed, proceeding",
				"target_fqn", targetFQN, "vector_id", vectorID.String, "error", err)
		}
		if _, err := db.ExecContext(ctx,
			`DELETE FROM vector_sync_state WHERE vector_id = ? AND table_name = ?`,
			vectorID.String, vector.CollectionSummaries); err != nil {
			logging.Get(logging.CategoryDualWrite).Warnw("sync-state delete failed", "error", err)
		}
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM summaries WHERE target_fqn = ?`, targetFQN); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "delete summary %s", targetFQN)
	}
	return nil
}

// MarkSummariesStaleByFile invalidates, in a single transaction, every
// summary whose target is a symbol in the file and every summary of those
// symbols' parents, so class summaries go stale when any method changes.
// Returns the number of summaries flipped.
func (c *Coordinator) MarkSummariesStaleByFile(ctx context.Context, path string) (int64, error) {
	timer := logging.StartTimer(logging.CategoryDualWrite, "MarkSummariesStaleByFile")
	defer timer.Stop()

	st, release := c.mgr.Acquire()
	defer release()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := st.DB().ExecContext(ctx, `
		UPDATE summaries SET is_stale = 1, updated_at = ?
		WHERE is_stale = 0 AND target_fqn IN (
			SELECT fqn FROM symbols WHERE file_path = ?
			UNION
			SELECT parent_fqn FROM symbols WHERE file_path = ? AND parent_fqn IS NOT NULL
		)`, now, path, path)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "mark stale by file %s", path)
	}
	n, _ := res.RowsAffected()
	logging.Get(logging.CategoryDualWrite).Infow("summaries invalidated by file change",
		"path", path, "count", n)
	return n, nil
}

// recordPendingOp writes the orphan-tracking record. Failures here are
// logged loudly: losing the record degrades recovery, not correctness, since
// reconciliation also compares the two stores directly.
func (c *Coordinator) recordPendingOp(ctx context.Context, db *sql.DB, op, table string, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		logging.Get(logging.CategoryDualWrite).Errorw("pending op payload marshal failed", "op", op, "error", err)
		return
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO pending_vector_ops (temp_id, op, table_name, payload, retry_count, created_at)
		VALUES (?,?,?,?,0,?)`,
		uuid.NewString(), op, table, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		logging.Get(logging.CategoryDualWrite).Errorw("pending op record failed", "op", op, "error", err)
	}
}
