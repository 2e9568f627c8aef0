package graph

import (
	"context"
	"database/sql"

	"ariadne/internal/apperr"
)

// UpsertEntryPoints stores entry-point records, one per symbol, replacing on
// conflict.
func (s *Store) UpsertEntryPoints(ctx context.Context, batch []EntryPoint) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entry_points (symbol_fqn, entry_type, http_method, http_path, cron, mq_queue)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT (symbol_fqn) DO UPDATE SET
				entry_type = excluded.entry_type,
				http_method = excluded.http_method,
				http_path = excluded.http_path,
				cron = excluded.cron,
				mq_queue = excluded.mq_queue`)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "prepare entry point upsert")
		}
		defer stmt.Close()
		for _, ep := range batch {
			if _, err := stmt.ExecContext(ctx, ep.SymbolFQN, ep.Type,
				nullable(ep.HTTPMethod), nullable(ep.HTTPPath), nullable(ep.Cron), nullable(ep.MQQueue)); err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "upsert entry point %s", ep.SymbolFQN)
			}
		}
		return nil
	})
}

// EntryPointsFor returns the entry points among a set of FQNs with a single
// chunked join.
func (s *Store) EntryPointsFor(ctx context.Context, fqns []string) ([]EntryPoint, error) {
	var out []EntryPoint
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT symbol_fqn, entry_type, http_method, http_path, cron, mq_queue
			FROM entry_points WHERE symbol_fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "entry points lookup")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				ep, err := scanEntryPoint(rows)
				if err != nil {
					return err
				}
				out = append(out, ep)
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindEntryPointByHTTP resolves an HTTP method + path pair to its symbol.
func (s *Store) FindEntryPointByHTTP(ctx context.Context, method, path string) (EntryPoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol_fqn, entry_type, http_method, http_path, cron, mq_queue
		FROM entry_points
		WHERE entry_type = 'http_api' AND UPPER(http_method) = UPPER(?) AND http_path = ?`,
		method, path)
	ep, err := scanEntryPoint(row)
	if err == sql.ErrNoRows {
		return EntryPoint{}, apperr.New(apperr.KindNotFound, "no entry point for %s %s", method, path)
	}
	if err != nil {
		return EntryPoint{}, apperr.Wrap(apperr.KindUnavailable, err, "find entry point %s %s", method, path)
	}
	return ep, nil
}

// ListEntryPoints returns all entry points, optionally filtered by type.
func (s *Store) ListEntryPoints(ctx context.Context, entryType string) ([]EntryPoint, error) {
	query := `SELECT symbol_fqn, entry_type, http_method, http_path, cron, mq_queue FROM entry_points`
	var args []interface{}
	if entryType != "" {
		query += ` WHERE entry_type = ?`
		args = append(args, entryType)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list entry points")
	}
	defer rows.Close()
	var out []EntryPoint
	for rows.Next() {
		ep, err := scanEntryPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanEntryPoint(r rowScanner) (EntryPoint, error) {
	var (
		ep                          EntryPoint
		method, path, cron, mqQueue sql.NullString
	)
	if err := r.Scan(&ep.SymbolFQN, &ep.Type, &method, &path, &cron, &mqQueue); err != nil {
		if err == sql.ErrNoRows {
			return EntryPoint{}, err
		}
		return EntryPoint{}, apperr.Wrap(apperr.KindUnavailable, err, "scan entry point")
	}
	ep.HTTPMethod = scanNullString(method)
	ep.HTTPPath = scanNullString(path)
	ep.Cron = scanNullString(cron)
	ep.MQQueue = scanNullString(mqQueue)
	return ep, nil
}
