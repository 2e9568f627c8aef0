package graph

import (
	"context"
	"database/sql"

	"ariadne/internal/apperr"
)

// UpsertExternalDependencies stores dependency records, deduplicated by
// (caller, type, target).
func (s *Store) UpsertExternalDependencies(ctx context.Context, batch []ExternalDependency) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO external_dependencies (caller_fqn, dep_type, target, strength)
			VALUES (?,?,?,?)
			ON CONFLICT (caller_fqn, dep_type, target) DO UPDATE SET
				strength = excluded.strength`)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "prepare dependency upsert")
		}
		defer stmt.Close()
		for _, d := range batch {
			strength := d.Strength
			if strength == "" {
				strength = "strong"
			}
			if _, err := stmt.ExecContext(ctx, d.CallerFQN, d.Type, d.Target, strength); err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "upsert dependency %s -> %s", d.CallerFQN, d.Target)
			}
		}
		return nil
	})
}

// DependenciesForCallers returns the external dependencies whose caller is
// in the given set, batched.
func (s *Store) DependenciesForCallers(ctx context.Context, fqns []string) ([]ExternalDependency, error) {
	var out []ExternalDependency
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT caller_fqn, dep_type, target, strength
			FROM external_dependencies WHERE caller_fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "dependencies lookup")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var d ExternalDependency
				if err := rows.Scan(&d.CallerFQN, &d.Type, &d.Target, &d.Strength); err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan dependency")
				}
				out = append(out, d)
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DependencyCountFor returns the number of dependency rows for one caller.
func (s *Store) DependencyCountFor(ctx context.Context, fqn string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM external_dependencies WHERE caller_fqn = ?`, fqn).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count dependencies for %s", fqn)
	}
	return n, nil
}
