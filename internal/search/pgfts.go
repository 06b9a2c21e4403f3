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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the records table using plainto_tsquery and ts_rank,
// with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	where := "r.fts @@ " + tsQuery
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND r.kind = $%d", argN)
		args = append(args, string(q.FilterType))
		argN++
	}
	if q.FilterCategory != "" {
		where += fmt.Sprintf(" AND r.category = $%d", argN)
		args = append(args, q.FilterCategory)
		argN++
	}

	baseSQL := fmt.Sprintf(`
		SELECT r.kind, r.id,
			coalesce(r.display->>'name', r.display->>'title', '') AS title,
			ts_headline('simple', coalesce(r.display->>'displayName', r.display->>'title', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			coalesce(r.category, '') AS category,
			ts_rank(r.fts, %s) AS rank
		FROM records r
		WHERE %s`, tsQuery, tsQuery, where)

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", baseSQL)

	dataSQL := fmt.Sprintf(`SELECT kind, id, title, snippet, category
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, baseSQL, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.Title, &r.Snippet, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(kind)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ModelRecord, []WorkRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, coalesce(category, ''),
			coalesce(display->>'name', ''),
			coalesce(display->>'displayName', ''),
			coalesce(display->>'instagram', ''),
			coalesce(display->>'title', '')
		FROM records
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	models := make([]ModelRecord, 0)
	works := make([]WorkRecord, 0)
	for rows.Next() {
		var id, kind, category, name, displayName, instagram, title string
		if err := rows.Scan(&id, &kind, &category, &name, &displayName, &instagram, &title); err != nil {
			return nil, nil, fmt.Errorf("scan record: %w", err)
		}
		switch ResultType(kind) {
		case ResultModel:
			models = append(models, ModelRecord{
				ID:          id,
				Name:        name,
				DisplayName: displayName,
				Category:    category,
				Instagram:   instagram,
			})
		case ResultWork:
			works = append(works, WorkRecord{ID: id, Title: title})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate records: %w", err)
	}

	return models, works, nil
}
