package dualwrite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
	"ariadne/internal/vector"
)

// pendingOpMaxRetries drops a pending op after this many failed replays.
const pendingOpMaxRetries = 5

// staleOpThreshold is the age past which a pending op counts as stale in
// DetectOrphans.
const staleOpThreshold = 5 * time.Minute

// OrphanReport counts divergence between the two planes.
type OrphanReport struct {
	MissingVectors    int `json:"missing_vectors"`     // summary rows pointing at absent vector entries
	OrphanedVectors   int `json:"orphaned_vectors"`    // vector entries with no summary row
	StalePendingOps   int `json:"stale_pending_ops"`   // pending ops older than the threshold
	StalledSyncStates int `json:"stalled_sync_states"` // sync rows stuck in pending
}

// Empty reports whether nothing diverged.
func (r OrphanReport) Empty() bool {
	return r.MissingVectors == 0 && r.OrphanedVectors == 0 && r.StalePendingOps == 0 && r.StalledSyncStates == 0
}

// RecoveryStats counts what RecoverOrphans actually fixed.
type RecoveryStats struct {
	VectorsDeleted  int `json:"vectors_deleted"`
	SyncRowsCleared int `json:"sync_rows_cleared"`
	OpsReplayed     int `json:"ops_replayed"`
	OpsDropped      int `json:"ops_dropped"`
	OpsStillPending int `json:"ops_still_pending"`
}

// DetectOrphans compares the relational and vector planes.
func (c *Coordinator) DetectOrphans(ctx context.Context) (OrphanReport, error) {
	timer := logging.StartTimer(logging.CategoryDualWrite, "DetectOrphans")
	defer timer.Stop()

	st, release := c.mgr.Acquire()
	defer release()
	db := st.DB()

	var report OrphanReport

	vectorIDs, err := c.vectors.IDs(ctx, vector.CollectionSummaries)
	if err != nil {
		return report, err
	}

	rows, err := db.QueryContext(ctx, `SELECT target_fqn, vector_id FROM summaries WHERE vector_id IS NOT NULL`)
	if err != nil {
		return report, apperr.Wrap(apperr.KindUnavailable, err, "list summaries with vectors")
	}
	referenced := map[string]struct{}{}
	func() {
		defer rows.Close()
		for rows.Next() {
			var fqn, vid string
			if err := rows.Scan(&fqn, &vid); err != nil {
				continue
			}
			referenced[vid] = struct{}{}
			if _, ok := vectorIDs[vid]; !ok {
				report.MissingVectors++
			}
		}
	}()

	for id := range vectorIDs {
		if _, ok := referenced[id]; !ok {
			report.OrphanedVectors++
		}
	}

	cutoff := time.Now().Add(-staleOpThreshold).UTC().Format(time.RFC3339Nano)
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_vector_ops WHERE created_at < ?`, cutoff).Scan(&report.StalePendingOps); err != nil {
		return report, apperr.Wrap(apperr.KindUnavailable, err, "count stale pending ops")
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_sync_state WHERE sync_status = 'pending'`).Scan(&report.StalledSyncStates); err != nil {
		return report, apperr.Wrap(apperr.KindUnavailable, err, "count stalled sync states")
	}
	return report, nil
}

// RecoverOrphans repairs divergence: vector entries with no relational
// counterpart are deleted, stalled sync rows cleared, and pending ops
// replayed with retry-count backoff. Running against a clean state is a
// no-op reporting zeros.
func (c *Coordinator) RecoverOrphans(ctx context.Context) (RecoveryStats, error) {
	timer := logging.StartTimer(logging.CategoryDualWrite, "RecoverOrphans")
	defer timer.Stop()

	st, release := c.mgr.Acquire()
	defer release()
	db := st.DB()

	var stats RecoveryStats
	log := logging.Get(logging.CategoryDualWrite)

	// Vector entries with no owning summary row.
	vectorIDs, err := c.vectors.IDs(ctx, vector.CollectionSummaries)
	if err != nil {
		return stats, err
	}
	for id := range vectorIDs {
		var n int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM summaries WHERE vector_id = ?`, id).Scan(&n); err != nil {
			return stats, apperr.Wrap(apperr.KindUnavailable, err, "check vector owner %s", id)
		}
		if n == 0 {
			if err := c.vectors.Delete(ctx, vector.CollectionSummaries, []string{id}); err != nil {
				log.Warnw("orphan vector delete failed", "id", id, "error", err)
				continue
			}
			stats.VectorsDeleted++
		}
	}

	// Sync rows stuck in pending.
	res, err := db.ExecContext(ctx, `DELETE FROM vector_sync_state WHERE sync_status = 'pending'`)
	if err != nil {
		return stats, apperr.Wrap(apperr.KindUnavailable, err, "clear stalled sync rows")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		stats.SyncRowsCleared = int(n)
	}

	// Replay pending ops.
	opRows, err := db.QueryContext(ctx,
		`SELECT temp_id, op, table_name, payload, retry_count FROM pending_vector_ops ORDER BY created_at`)
	if err != nil {
		return stats, apperr.Wrap(apperr.KindUnavailable, err, "list pending ops")
	}
	type pendingOp struct {
		tempID, op, table, payload string
		retries                    int
	}
	var ops []pendingOp
	func() {
		defer opRows.Close()
		for opRows.Next() {
			var p pendingOp
			if err := opRows.Scan(&p.tempID, &p.op, &p.table, &p.payload, &p.retries); err != nil {
				continue
			}
			ops = append(ops, p)
		}
	}()

	for _, p := range ops {
		if p.retries >= pendingOpMaxRetries {
			if _, err := db.ExecContext(ctx, `DELETE FROM pending_vector_ops WHERE temp_id = ?`, p.tempID); err == nil {
				stats.OpsDropped++
				log.Errorw("pending op dropped after max retries", "temp_id", p.tempID, "op", p.op)
			}
			continue
		}
		if err := c.replayOp(ctx, db, p.op, p.table, p.payload); err != nil {
			if _, uerr := db.ExecContext(ctx,
				`UPDATE pending_vector_ops SET retry_count = retry_count + 1 WHERE temp_id = ?`, p.tempID); uerr != nil {
				log.Warnw("pending op retry bump failed", "temp_id", p.tempID, "error", uerr)
			}
			stats.OpsStillPending++
			continue
		}
		if _, err := db.ExecContext(ctx, `DELETE FROM pending_vector_ops WHERE temp_id = ?`, p.tempID); err != nil {
			log.Warnw("pending op cleanup failed", "temp_id", p.tempID, "error", err)
		}
		stats.OpsReplayed++
	}

	recovered := stats.VectorsDeleted + stats.OpsReplayed + stats.OpsDropped
	if recovered > 0 {
		metrics.OrphansRecovered.Add(float64(recovered))
		log.Infow("orphan recovery complete",
			"vectors_deleted", stats.VectorsDeleted,
			"sync_rows_cleared", stats.SyncRowsCleared,
			"ops_replayed", stats.OpsReplayed,
			"ops_dropped", stats.OpsDropped)
	}
	return stats, nil
}

func (c *Coordinator) replayOp(ctx context.Context, db *sql.DB, op, table, payload string) error {
	switch op {
	case "create", "update":
		var p pendingCreatePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return apperr.Wrap(apperr.KindInvalidArgument, err, "decode pending %s payload", op)
		}
		meta := map[string]string{"level": p.Level, "target_fqn": p.TargetFQN}
		if err := c.vectors.Add(ctx, table, p.TargetFQN, p.SummaryText, p.Embedding, meta); err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := db.ExecContext(ctx,
			`UPDATE summaries SET vector_id = ? WHERE target_fqn = ? AND is_stale = 0`, p.TargetFQN, p.TargetFQN); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "restore vector_id for %s", p.TargetFQN)
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO vector_sync_state (vector_id, table_name, record_fqn, sync_status, attempt_count, last_attempt_at)
			VALUES (?,?,?,'synced',1,?)
			ON CONFLICT (vector_id, table_name) DO UPDATE SET
				sync_status = 'synced',
				attempt_count = attempt_count + 1,
				last_attempt_at = excluded.last_attempt_at`,
			p.TargetFQN, table, p.TargetFQN, now)
		return apperr.Wrap(apperr.KindUnavailable, err, "restore sync state for %s", p.TargetFQN)
	case "delete":
		var ids []string
		if err := json.Unmarshal([]byte(payload), &ids); err != nil {
			return apperr.Wrap(apperr.KindInvalidArgument, err, "decode pending delete payload")
		}
		return c.vectors.Delete(ctx, table, ids)
	default:
		return apperr.New(apperr.KindInvalidArgument, "unknown pending op %q", op)
	}
}

// RunReconciler loops DetectOrphans/RecoverOrphans until ctx is cancelled.
func (c *Coordinator) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := logging.Get(logging.CategoryDualWrite)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := c.DetectOrphans(ctx)
			if err != nil {
				log.Errorw("orphan detection failed", "error", err)
				continue
			}
			if report.Empty() {
				continue
			}
			log.Warnw("divergence detected",
				"missing_vectors", report.MissingVectors,
				"orphaned_vectors", report.OrphanedVectors,
				"stale_pending_ops", report.StalePendingOps,
				"stalled_sync_states", report.StalledSyncStates)
			if _, err := c.RecoverOrphans(ctx); err != nil {
				log.Errorw("orphan recovery failed", "error", err)
			}
		}
	}
}
