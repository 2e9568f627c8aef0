package graph

import (
	"context"
	"database/sql"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

const symbolColumns = `fqn, kind, name, file_path, line_number, signature, parent_fqn, modifiers, annotations, content_hash, created_at, updated_at`

// InsertSymbols upserts a batch of symbols inside one transaction. On
// conflict the mutable fields and updated_at are refreshed; created_at is
// preserved.
func (s *Store) InsertSymbols(ctx context.Context, batch []Symbol) error {
	if len(batch) == 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "InsertSymbols")
	defer timer.Stop()

	now := fmtTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO symbols (`+symbolColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (fqn) DO UPDATE SET
				kind = excluded.kind,
				name = excluded.name,
				file_path = excluded.file_path,
				line_number = excluded.line_number,
				signature = excluded.signature,
				parent_fqn = excluded.parent_fqn,
				modifiers = excluded.modifiers,
				annotations = excluded.annotations,
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at`)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "prepare symbol upsert")
		}
		defer stmt.Close()

		for _, sym := range batch {
			if _, err := stmt.ExecContext(ctx,
				sym.FQN, sym.Kind, sym.Name,
				nullable(sym.FilePath), sym.LineNumber, nullable(sym.Signature),
				nullable(sym.ParentFQN),
				marshalList(sym.Modifiers), marshalList(sym.Annotations),
				nullable(sym.ContentHash), now, now,
			); err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "upsert symbol %s", sym.FQN)
			}
		}
		return nil
	})
}

// GetSymbol returns the symbol with the given FQN or a NotFound error.
func (s *Store) GetSymbol(ctx context.Context, fqn string) (Symbol, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE fqn = ?`, fqn)
	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return Symbol{}, apperr.New(apperr.KindNotFound, "symbol %q not found", fqn)
	}
	if err != nil {
		return Symbol{}, apperr.Wrap(apperr.KindUnavailable, err, "get symbol %s", fqn)
	}
	return sym, nil
}

// GetSymbols batch-loads symbols by FQN, chunking the IN clause. Missing
// FQNs are silently absent from the result.
func (s *Store) GetSymbols(ctx context.Context, fqns []string) (map[string]Symbol, error) {
	out := make(map[string]Symbol, len(fqns))
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+symbolColumns+` FROM symbols WHERE fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "batch load symbols")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				sym, err := scanSymbol(rows)
				if err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan symbol")
				}
				out[sym.FQN] = sym
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParentsOf batch-loads the distinct non-null parent FQNs of the given
// symbols.
func (s *Store) ParentsOf(ctx context.Context, fqns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, chunk := range chunkStrings(fqns, maxBatchParams) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT parent_fqn FROM symbols
			 WHERE parent_fqn IS NOT NULL AND fqn IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load parents")
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var fqn string
				if err := rows.Scan(&fqn); err != nil {
					return apperr.Wrap(apperr.KindUnavailable, err, "scan parent")
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

// SymbolsByFile returns all symbols recorded for a file path.
func (s *Store) SymbolsByFile(ctx context.Context, path string) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE file_path = ?`, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "symbols by file %s", path)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

// SymbolsByKind returns all symbols of a kind, optionally filtered by an
// annotation substring (matched against the serialized annotation list).
func (s *Store) SymbolsByKind(ctx context.Context, kind string) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE kind = ?`, kind)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "symbols by kind %s", kind)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

// ChildrenOf returns symbols whose parent_fqn equals fqn.
func (s *Store) ChildrenOf(ctx context.Context, fqn string) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE parent_fqn = ?`, fqn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "children of %s", fqn)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

// SymbolCount returns the total number of symbols.
func (s *Store) SymbolCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "count symbols")
	}
	return n, nil
}

// CleanByFile deletes every symbol recorded for the file. The cascade
// triggers and declared foreign keys clean all dependents. Returns the
// number of symbols removed.
func (s *Store) CleanByFile(ctx context.Context, path string) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CleanByFile")
	defer timer.Stop()

	res, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, path)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, err, "clean symbols for file %s", path)
	}
	n, _ := res.RowsAffected()
	logging.Get(logging.CategoryStore).Infow("cleaned file", "path", path, "symbols_deleted", n)
	return n, nil
}

// DeleteSymbol removes one symbol; dependents cascade.
func (s *Store) DeleteSymbol(ctx context.Context, fqn string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE fqn = ?`, fqn)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "delete symbol %s", fqn)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "symbol %q not found", fqn)
	}
	return nil
}

// SearchSymbols is the substring fallback over symbol names and FQNs.
func (s *Store) SearchSymbols(ctx context.Context, query string, limit int) ([]Symbol, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols
		 WHERE name LIKE ? OR fqn LIKE ?
		 ORDER BY LENGTH(name) ASC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search symbols %q", query)
	}
	defer rows.Close()
	return collectSymbols(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSymbol(r rowScanner) (Symbol, error) {
	var (
		sym                                      Symbol
		filePath, signature, parentFQN, hash     sql.NullString
		line                                     sql.NullInt64
		modifiers, annotations, created, updated string
	)
	err := r.Scan(&sym.FQN, &sym.Kind, &sym.Name, &filePath, &line, &signature,
		&parentFQN, &modifiers, &annotations, &hash, &created, &updated)
	if err != nil {
		return Symbol{}, err
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
	return sym, nil
}

func collectSymbols(rows *sql.Rows) ([]Symbol, error) {
	var out []Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan symbol")
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
