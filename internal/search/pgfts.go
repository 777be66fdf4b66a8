package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher over the annotations table.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the annotations FTS column, joining in
// the document URI and group name through the metadata row.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "a.fts @@ plainto_tsquery('english', $1) AND a.status = 'NORMAL'"
	args := []any{q.Text}
	argN := 2

	if q.DocumentURI != "" {
		where += fmt.Sprintf(" AND d.uri = $%d", argN)
		args = append(args, q.DocumentURI)
		argN++
	}
	if q.GroupName != "" {
		where += fmt.Sprintf(" AND g.name = $%d", argN)
		args = append(args, q.GroupName)
		argN++
	}

	base := `
		FROM annotations a
		JOIN metadata m ON m.id = a.metadata_id
		JOIN documents d ON d.id = m.document_id
		JOIN groups g ON g.id = m.group_id
		WHERE ` + where

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT a.id,
			ts_headline('english', coalesce(a.text, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			d.uri, g.name
		%s
		ORDER BY ts_rank(a.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, base, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Snippet, &r.DocumentURI, &r.GroupName); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable annotations for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AnnotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.text, d.uri, g.name, a.shared, a.status
		FROM annotations a
		JOIN metadata m ON m.id = a.metadata_id
		JOIN documents d ON d.id = m.document_id
		JOIN groups g ON g.id = m.group_id
		WHERE a.status = 'NORMAL'
	`)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()

	records := make([]AnnotationRecord, 0)
	for rows.Next() {
		var r AnnotationRecord
		if err := rows.Scan(&r.ID, &r.Text, &r.DocumentURI, &r.GroupName, &r.Shared, &r.Status); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return records, nil
}
