package graph

import (
	"context"
	"database/sql"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// GetSummary returns the summary for a target FQN or NotFound.
func (s *Store) GetSummary(ctx context.Context, targetFQN string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT target_fqn, level, summary_text, vector_id, is_stale, created_at, updated_at
		FROM summaries WHERE target_fqn = ?`, targetFQN)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return Summary{}, apperr.New(apperr.KindNotFound, "summary for %q not found", targetFQN)
	}
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.KindUnavailable, err, "get summary %s", targetFQN)
	}
	return sum, nil
}

// SummaryStaleness batch-loads is_stale flags for a set of targets. FQNs
// with no summary row are absent from the result.
func (s *Store) SummaryStaleness(ctx context.Context, fqns []string) (map[string]bool, error) {
	out := make(map[string]bool, len(fqns))
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT target_fqn, is_stale FROM summaries
			WHERE target_fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "summary staleness lookup")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var fqn string
				var stale bool
				if err := rows.Scan(&fqn, &stale); err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan staleness row")
				}
				out[fqn] = stale
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkSummariesStale flips is_stale for the given targets in a single
// statement per chunk, all inside one transaction. Returns the number of
// rows actually flipped (|fqns ∩ existing summaries|).
func (s *Store) MarkSummariesStale(ctx context.Context, fqns []string) (int64, error) {
	if len(fqns) == 0 {
		return 0, nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "MarkSummariesStale")
	defer timer.Stop()

	now := fmtTime(time.Now())
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkStrings(fqns, maxBatchParams) {
			res, err := tx.ExecContext(ctx, `
				UPDATE summaries SET is_stale = 1, updated_at = ?
				WHERE is_stale = 0 AND target_fqn IN (`+placeholders(len(chunk))+`)`,
				append([]interface{}{now}, toArgs(chunk)...)...)
			if err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "mark summaries stale")
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategoryStore).Debugw("summaries marked stale", "requested", len(fqns), "flipped", total)
	return total, nil
}

// FreshSummaries returns all summaries with is_stale=0, used by
// reconciliation and search.
func (s *Store) FreshSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_fqn, level, summary_text, vector_id, is_stale, created_at, updated_at
		FROM summaries WHERE is_stale = 0`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list fresh summaries")
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan summary")
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SearchSummaries is the substring fallback over fresh summary text.
func (s *Store) SearchSummaries(ctx context.Context, query string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_fqn, level, summary_text, vector_id, is_stale, created_at, updated_at
		FROM summaries
		WHERE is_stale = 0 AND summary_text LIKE ?
		LIMIT ?`, "%"+query+"%", limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search summaries %q", query)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan summary")
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanSummary(r rowScanner) (Summary, error) {
	var (
		sum              Summary
		vectorID         sql.NullString
		created, updated string
	)
	err := r.Scan(&sum.TargetFQN, &sum.Level, &sum.SummaryText, &vectorID, &sum.IsStale, &created, &updated)
	if err != nil {
		return Summary{}, err
	}
	sum.VectorID = scanNullString(vectorID)
	sum.CreatedAt = parseTime(created)
	sum.UpdatedAt = parseTime(updated)
	return sum, nil
}
