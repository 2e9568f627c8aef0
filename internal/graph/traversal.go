package graph

import (
	"context"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
)

// Recursive traversals over the 'calls' relation. Cycles are bounded by the
// depth cap and collapsed by deduplicating over (from_fqn, to_fqn, relation);
// a hop reached at two depths is reported once at its minimum depth.

const callChainQuery = `
WITH RECURSIVE chain(depth, from_fqn, to_fqn, relation) AS (
	SELECT 0, from_fqn, to_fqn, relation
	FROM edges
	WHERE from_fqn = ? AND relation = 'calls'
	UNION
	SELECT c.depth + 1, e.from_fqn, e.to_fqn, e.relation
	FROM edges e
	JOIN chain c ON e.from_fqn = c.to_fqn
	WHERE e.relation = 'calls' AND c.depth + 1 < ?
)
SELECT MIN(depth) AS depth, from_fqn, to_fqn, relation
FROM chain
GROUP BY from_fqn, to_fqn, relation
ORDER BY depth, from_fqn, to_fqn`

const reverseCallersQuery = `
WITH RECURSIVE chain(depth, from_fqn, to_fqn, relation) AS (
	SELECT 0, from_fqn, to_fqn, relation
	FROM edges
	WHERE to_fqn = ? AND relation = 'calls'
	UNION
	SELECT c.depth + 1, e.from_fqn, e.to_fqn, e.relation
	FROM edges e
	JOIN chain c ON e.to_fqn = c.from_fqn
	WHERE e.relation = 'calls' AND c.depth + 1 < ?
)
SELECT MIN(depth) AS depth, from_fqn, to_fqn, relation
FROM chain
GROUP BY from_fqn, to_fqn, relation
ORDER BY depth, from_fqn, to_fqn`

// CallChain returns the forward call chain from startFQN, bounded by
// maxDepth hops. Depth 0 rows are the direct outgoing edges. A maxDepth of
// zero (or less) yields an empty chain.
func (s *Store) CallChain(ctx context.Context, startFQN string, maxDepth int) ([]ChainRow, error) {
	return s.traverse(ctx, callChainQuery, "forward", startFQN, maxDepth)
}

// ReverseCallers mirrors CallChain, following call edges backward from
// targetFQN. Depth 0 rows are the direct callers.
func (s *Store) ReverseCallers(ctx context.Context, targetFQN string, maxDepth int) ([]ChainRow, error) {
	return s.traverse(ctx, reverseCallersQuery, "reverse", targetFQN, maxDepth)
}

func (s *Store) traverse(ctx context.Context, query, direction, fqn string, maxDepth int) ([]ChainRow, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		metrics.TraversalDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}()

	rows, err := s.db.QueryContext(ctx, query, fqn, maxDepth)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "%s traversal from %s", direction, fqn)
	}
	defer rows.Close()

	var out []ChainRow
	for rows.Next() {
		var r ChainRow
		if err := rows.Scan(&r.Depth, &r.FromFQN, &r.ToFQN, &r.Relation); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan traversal row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "%s traversal from %s", direction, fqn)
	}
	logging.Get(logging.CategoryStore).Debugw("traversal complete",
		"direction", direction, "start", fqn, "max_depth", maxDepth, "rows", len(out))
	return out, nil
}
