package graph

import (
	"context"
	"database/sql"
	"encoding/json"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// InsertEdges appends a batch of edges inside one transaction. Edges are not
// unique; the same call site observed twice produces two rows.
func (s *Store) InsertEdges(ctx context.Context, batch []Edge) error {
	if len(batch) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "InsertEdges")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO edges (from_fqn, to_fqn, relation, metadata) VALUES (?,?,?,?)`)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "prepare edge insert")
		}
		defer stmt.Close()

		for _, e := range batch {
			var meta interface{}
			if len(e.Metadata) > 0 {
				b, err := json.Marshal(e.Metadata)
				if err != nil {
					return apperr.Wrap(apperr.KindInvalidArgument, err, "marshal edge metadata %s->%s", e.FromFQN, e.ToFQN)
				}
				meta = string(b)
			}
			if _, err := stmt.ExecContext(ctx, e.FromFQN, e.ToFQN, e.Relation, meta); err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "insert edge %s->%s", e.FromFQN, e.ToFQN)
			}
		}
		return nil
	})
}

// EdgeCount returns the number of edges touching fqn on either side,
// optionally restricted to one relation.
func (s *Store) EdgeCount(ctx context.Context, fqn, relation string) (int64, error) {
	query := `SELECT COUNT(*) FROM edges WHERE (from_fqn = ? OR to_fqn = ?)`
	args := []interface{}{fqn, fqn}
	if relation != "" {
		query += ` AND relation = ?`
		args = append(args, relation)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count edges for %s", fqn)
	}
	return n, nil
}

// TotalEdgeCount returns the number of edges in the store.
func (s *Store) TotalEdgeCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count edges")
	}
	return n, nil
}

// OrphanedInternalEdgeCount counts edges whose internal-looking endpoints
// resolve to no symbol. Used by shadow verification: a freshly built
// database must report zero.
func (s *Store) OrphanedInternalEdgeCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges e
		LEFT JOIN symbols sf ON sf.fqn = e.from_fqn
		WHERE sf.fqn IS NULL`).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count orphaned edges")
	}
	return n, nil
}

// OutgoingCalls batch-loads the outgoing 'calls' edges for a set of FQNs.
func (s *Store) OutgoingCalls(ctx context.Context, fqns []string) ([]Edge, error) {
	var out []Edge
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT from_fqn, to_fqn, relation FROM edges
			 WHERE relation = 'calls' AND from_fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load outgoing calls")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var e Edge
				if err := rows.Scan(&e.FromFQN, &e.ToFQN, &e.Relation); err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan edge")
				}
				out = append(out, e)
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DirectCallersOf batch-loads the distinct FQNs holding a 'calls' edge into
// any of the given targets.
func (s *Store) DirectCallersOf(ctx context.Context, fqns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT from_fqn FROM edges
			 WHERE relation = 'calls' AND to_fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load direct callers")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var fqn string
				if err := rows.Scan(&fqn); err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan caller")
				}
				if _, ok := seen[fqn]; !ok {
					seen[fqn] = struct{}{}
					out = append(out, fqn)
				}
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RelatedSymbols joins edges with symbols to return resolved neighbours of
// fqn. relation may be empty (any); direction is incoming, outgoing or both.
func (s *Store) RelatedSymbols(ctx context.Context, fqn, relation, direction string) ([]RelatedSymbol, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RelatedSymbols")
	defer timer.Stop()

	switch direction {
	case "incoming", "outgoing", "both":
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, "direction %q must be incoming, outgoing or both", direction)
	}

	var out []RelatedSymbol
	if direction == "outgoing" || direction == "both" {
		got, err := s.relatedDirection(ctx, fqn, relation, "outgoing")
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	if direction == "incoming" || direction == "both" {
		got, err := s.relatedDirection(ctx, fqn, relation, "incoming")
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func (s *Store) relatedDirection(ctx context.Context, fqn, relation, direction string) ([]RelatedSymbol, error) {
	var query string
	if direction == "outgoing" {
		query = `SELECT s.fqn, s.kind, s.name, s.file_path, s.line_number, s.signature,
				s.parent_fqn, s.modifiers, s.annotations, s.content_hash, s.created_at, s.updated_at, e.relation
			FROM edges e JOIN symbols s ON s.fqn = e.to_fqn
			WHERE e.from_fqn = ?`
	} else {
		query = `SELECT s.fqn, s.kind, s.name, s.file_path, s.line_number, s.signature,
				s.parent_fqn, s.modifiers, s.annotations, s.content_hash, s.created_at, s.updated_at, e.relation
			FROM edges e JOIN symbols s ON s.fqn = e.from_fqn
			WHERE e.to_fqn = ?`
	}
	args := []interface{}{fqn}
	if relation != "" {
		query += ` AND e.relation = ?`
		args = append(args, relation)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "related symbols for %s", fqn)
	}
	defer rows.Close()

	var out []RelatedSymbol
	for rows.Next() {
		var (
			sym                                      Symbol
			filePath, signature, parentFQN, hash     sql.NullString
			line                                     sql.NullInt64
			modifiers, annotations, created, updated string
			rel                                      string
		)
		if err := rows.Scan(&sym.FQN, &sym.Kind, &sym.Name, &filePath, &line, &signature,
			&parentFQN, &modifiers, &annotations, &hash, &created, &updated, &rel); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan related symbol")
		}
		sym.FilePath = scanNullString(filePath)
		sym.LineNumber = int(line.Int64)
		sym.Signature = scanNullString(signature)
		sym.ParentFQN = scanNullString(parentFQN)
		sym.ContentHash = scanNullString(hash)
		sym.Modifiers = unmarshalList(modifiers)
		sym.Annotations = unmarshalList(annotations)
		sym.CreatedAt = parseTime(created)
		sym.UpdatedAt = parseTime(updated)
		out = append(out, RelatedSymbol{Symbol: sym, Relation: rel, Direction: direction})
	}
	return out, rows.Err()
}
