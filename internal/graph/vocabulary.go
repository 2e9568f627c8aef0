package graph

import (
	"context"
	"database/sql"
	"time"

	"ariadne/internal/apperr"
)

// Glossary and constraint storage. Both keep a nullable source_fqn pointer
// that the symbol cascade nulls rather than deletes.

// UpsertGlossaryEntry stores or replaces a glossary term.
func (s *Store) UpsertGlossaryEntry(ctx context.Context, e GlossaryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO glossary (code_term, business_meaning, synonyms, source_fqn, vector_id)
		VALUES (?,?,?,?,?)
		ON CONFLICT (code_term) DO UPDATE SET
			business_meaning = excluded.business_meaning,
			synonyms = excluded.synonyms,
			source_fqn = excluded.source_fqn,
			vector_id = excluded.vector_id`,
		e.CodeTerm, e.BusinessMeaning, marshalList(e.Synonyms), nullable(e.SourceFQN), nullable(e.VectorID))
	return apperr.Wrap(apperr.KindUnavailable, err, "upsert glossary term %s", e.CodeTerm)
}

// GetGlossaryEntry returns one term or NotFound.
func (s *Store) GetGlossaryEntry(ctx context.Context, term string) (GlossaryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code_term, business_meaning, synonyms, source_fqn, vector_id
		FROM glossary WHERE code_term = ?`, term)
	e, err := scanGlossary(row)
	if err == sql.ErrNoRows {
		return GlossaryEntry{}, apperr.New(apperr.KindNotFound, "glossary term %q not found", term)
	}
	if err != nil {
		return GlossaryEntry{}, apperr.Wrap(apperr.KindUnavailable, err, "get glossary term %s", term)
	}
	return e, nil
}

// SearchGlossary is the substring fallback over terms and meanings.
func (s *Store) SearchGlossary(ctx context.Context, query string, limit int) ([]GlossaryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_term, business_meaning, synonyms, source_fqn, vector_id
		FROM glossary
		WHERE code_term LIKE ? OR business_meaning LIKE ? OR synonyms LIKE ?
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search glossary %q", query)
	}
	defer rows.Close()
	var out []GlossaryEntry
	for rows.Next() {
		e, err := scanGlossary(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan glossary row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanGlossary(r rowScanner) (GlossaryEntry, error) {
	var (
		e                   GlossaryEntry
		synonyms            string
		sourceFQN, vectorID sql.NullString
	)
	if err := r.Scan(&e.CodeTerm, &e.BusinessMeaning, &synonyms, &sourceFQN, &vectorID); err != nil {
		return GlossaryEntry{}, err
	}
	e.Synonyms = unmarshalList(synonyms)
	e.SourceFQN = scanNullString(sourceFQN)
	e.VectorID = scanNullString(vectorID)
	return e, nil
}

// UpsertConstraint stores or replaces a named constraint.
func (s *Store) UpsertConstraint(ctx context.Context, c Constraint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO constraints (name, description, source_fqn, source_line, constraint_type, vector_id)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			source_fqn = excluded.source_fqn,
			source_line = excluded.source_line,
			constraint_type = excluded.constraint_type,
			vector_id = excluded.vector_id`,
		c.Name, c.Description, nullable(c.SourceFQN), c.SourceLine, c.Type, nullable(c.VectorID))
	return apperr.Wrap(apperr.KindUnavailable, err, "upsert constraint %s", c.Name)
}

// GetConstraint returns one constraint or NotFound.
func (s *Store) GetConstraint(ctx context.Context, name string) (Constraint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, description, source_fqn, source_line, constraint_type, vector_id
		FROM constraints WHERE name = ?`, name)
	c, err := scanConstraint(row)
	if err == sql.ErrNoRows {
		return Constraint{}, apperr.New(apperr.KindNotFound, "constraint %q not found", name)
	}
	if err != nil {
		return Constraint{}, apperr.Wrap(apperr.KindUnavailable, err, "get constraint %s", name)
	}
	return c, nil
}

// SearchConstraints is the substring fallback over names and descriptions.
func (s *Store) SearchConstraints(ctx context.Context, query string, limit int) ([]Constraint, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, source_fqn, source_line, constraint_type, vector_id
		FROM constraints
		WHERE name LIKE ? OR description LIKE ?
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search constraints %q", query)
	}
	defer rows.Close()
	var out []Constraint
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan constraint row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConstraint(r rowScanner) (Constraint, error) {
	var (
		c                   Constraint
		sourceFQN, vectorID sql.NullString
		line                sql.NullInt64
	)
	if err := r.Scan(&c.Name, &c.Description, &sourceFQN, &line, &c.Type, &vectorID); err != nil {
		return Constraint{}, err
	}
	c.SourceFQN = scanNullString(sourceFQN)
	c.SourceLine = int(line.Int64)
	c.VectorID = scanNullString(vectorID)
	return c, nil
}

// ReplaceAntiPatterns swaps the detections for a rule inside one
// transaction, so repeated detection runs do not accumulate duplicates.
func (s *Store) ReplaceAntiPatterns(ctx context.Context, ruleID string, batch []AntiPattern) error {
	now := fmtTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM anti_patterns WHERE rule_id = ?`, ruleID); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "clear detections for %s", ruleID)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO anti_patterns (rule_id, from_fqn, to_fqn, severity, message, detected_at)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "prepare anti-pattern insert")
		}
		defer stmt.Close()
		for _, ap := range batch {
			if _, err := stmt.ExecContext(ctx, ap.RuleID, ap.FromFQN, nullable(ap.ToFQN),
				ap.Severity, ap.Message, now); err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "insert anti-pattern %s", ap.FromFQN)
			}
		}
		return nil
	})
}

// ListAntiPatterns returns stored detections, optionally filtered by rule
// and severity.
func (s *Store) ListAntiPatterns(ctx context.Context, ruleID, severity string) ([]AntiPattern, error) {
	query := `SELECT rule_id, from_fqn, to_fqn, severity, message, detected_at FROM anti_patterns WHERE 1=1`
	var args []interface{}
	if ruleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, ruleID)
	}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY detected_at DESC`, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list anti-patterns")
	}
	defer rows.Close()
	var out []AntiPattern
	for rows.Next() {
		var (
			ap       AntiPattern
			toFQN    sql.NullString
			detected string
		)
		if err := rows.Scan(&ap.RuleID, &ap.FromFQN, &toFQN, &ap.Severity, &ap.Message, &detected); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan anti-pattern")
		}
		ap.ToFQN = scanNullString(toFQN)
		ap.DetectedAt = parseTime(detected)
		out = append(out, ap)
	}
	return out, rows.Err()
}
