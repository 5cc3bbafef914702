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

// Search queries public timelines using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
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

	where := "t.is_public AND t.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.FilterTypeCode != "" {
		where += " AND tt.code = $2"
		args = append(args, q.FilterTypeCode)
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf(`
		SELECT count(*)
		FROM timelines t
		JOIN timeline_types tt ON tt.id = t.type_id
		WHERE %s`, where)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.title,
			ts_headline('english', coalesce(t.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			t.author_id, tt.code,
			ts_rank(t.fts, plainto_tsquery('english', $1)) AS rank
		FROM timelines t
		JOIN timeline_types tt ON tt.id = t.type_id
		WHERE %s
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.AuthorID, &r.TypeCode, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every public timeline for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TimelineRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, coalesce(t.description, ''), t.author_id, tt.code
		FROM timelines t
		JOIN timeline_types tt ON tt.id = t.type_id
		WHERE t.is_public
	`)
	if err != nil {
		return nil, fmt.Errorf("load timelines: %w", err)
	}
	defer rows.Close()

	records := make([]TimelineRecord, 0)
	for rows.Next() {
		var r TimelineRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.AuthorID, &r.TypeCode); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timelines: %w", err)
	}
	return records, nil
}
