package store

import (
	"context"
	"fmt"
)

const timelineColumns = `
	id, type_id, time_unit_id, duration, author_id, title, COALESCE(description, ''),
	is_generated, is_public, enable_scheduling, version, created_at, updated_at
`

func scanTimeline(row interface{ Scan(dest ...any) error }) (Timeline, error) {
	var t Timeline
	err := row.Scan(
		&t.ID,
		&t.TypeID,
		&t.TimeUnitID,
		&t.Duration,
		&t.AuthorID,
		&t.Title,
		&t.Description,
		&t.IsGenerated,
		&t.IsPublic,
		&t.EnableScheduling,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func (s *PostgresStore) InsertTimeline(ctx context.Context, q DBTX, input NewTimeline) (Timeline, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO timelines (type_id, time_unit_id, duration, author_id, title, description, is_public, enable_scheduling)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+timelineColumns,
		input.TypeID,
		input.TimeUnitID,
		input.Duration,
		input.AuthorID,
		input.Title,
		input.Description,
		input.IsPublic,
		input.EnableScheduling,
	)
	return scanTimeline(row)
}

func (s *PostgresStore) GetTimeline(ctx context.Context, timelineID string) (Timeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+timelineColumns+` FROM timelines WHERE id=$1`, timelineID)
	return scanTimeline(row)
}

func (s *PostgresStore) ListTimelinesByAuthor(ctx context.Context, authorID string) ([]Timeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timelineColumns+`
		FROM timelines
		WHERE author_id=$1
		ORDER BY created_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list timelines by author: %w", err)
	}
	defer rows.Close()

	items := make([]Timeline, 0)
	for rows.Next() {
		t, err := scanTimeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timelines: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPublicTimelines(ctx context.Context, limit, offset int) ([]Timeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timelineColumns+`
		FROM timelines
		WHERE is_public
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list public timelines: %w", err)
	}
	defer rows.Close()

	items := make([]Timeline, 0)
	for rows.Next() {
		t, err := scanTimeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timelines: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTimeline(ctx context.Context, q DBTX, t Timeline) (Timeline, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE timelines
		SET title=$2, description=$3, is_public=$4, enable_scheduling=$5, version=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+timelineColumns,
		t.ID, t.Title, t.Description, t.IsPublic, t.EnableScheduling, t.Version,
	)
	return scanTimeline(row)
}

func (s *PostgresStore) MarkTimelineGenerated(ctx context.Context, q DBTX, timelineID string) error {
	_, err := q.ExecContext(ctx, `UPDATE timelines SET is_generated=TRUE, updated_at=NOW() WHERE id=$1`, timelineID)
	if err != nil {
		return fmt.Errorf("mark timeline generated: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTimeline(ctx context.Context, timelineID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timelines WHERE id=$1`, timelineID)
	if err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForkByOriginalAndUser(ctx context.Context, originalTimelineID, userID string) (TimelineFork, error) {
	var f TimelineFork
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_timeline_id, forked_timeline_id, forked_by_id, forked_version, created_at
		FROM timeline_forks
		WHERE original_timeline_id=$1 AND forked_by_id=$2
	`, originalTimelineID, userID).Scan(
		&f.ID,
		&f.OriginalTimelineID,
		&f.ForkedTimelineID,
		&f.ForkedByID,
		&f.ForkedVersion,
		&f.CreatedAt,
	)
	if err != nil {
		return TimelineFork{}, err
	}
	return f, nil
}

// GetForkByForkedTimeline resolves a timeline back to its fork record, if the
// timeline was created by forking.
func (s *PostgresStore) GetForkByForkedTimeline(ctx context.Context, forkedTimelineID string) (TimelineFork, error) {
	var f TimelineFork
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_timeline_id, forked_timeline_id, forked_by_id, forked_version, created_at
		FROM timeline_forks
		WHERE forked_timeline_id=$1
	`, forkedTimelineID).Scan(
		&f.ID,
		&f.OriginalTimelineID,
		&f.ForkedTimelineID,
		&f.ForkedByID,
		&f.ForkedVersion,
		&f.CreatedAt,
	)
	if err != nil {
		return TimelineFork{}, err
	}
	return f, nil
}

func (s *PostgresStore) InsertFork(ctx context.Context, q DBTX, originalTimelineID, forkedTimelineID, forkedByID, forkedVersion string) (TimelineFork, error) {
	var f TimelineFork
	err := q.QueryRowContext(ctx, `
		INSERT INTO timeline_forks (original_timeline_id, forked_timeline_id, forked_by_id, forked_version)
		VALUES ($1, $2, $3, $4)
		RETURNING id, original_timeline_id, forked_timeline_id, forked_by_id, forked_version, created_at
	`, originalTimelineID, forkedTimelineID, forkedByID, forkedVersion).Scan(
		&f.ID,
		&f.OriginalTimelineID,
		&f.ForkedTimelineID,
		&f.ForkedByID,
		&f.ForkedVersion,
		&f.CreatedAt,
	)
	if err != nil {
		return TimelineFork{}, err
	}
	return f, nil
}

func (s *PostgresStore) ListForksOfTimeline(ctx context.Context, originalTimelineID string) ([]TimelineFork, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_timeline_id, forked_timeline_id, forked_by_id, forked_version, created_at
		FROM timeline_forks
		WHERE original_timeline_id=$1
		ORDER BY created_at
	`, originalTimelineID)
	if err != nil {
		return nil, fmt.Errorf("list forks: %w", err)
	}
	defer rows.Close()

	items := make([]TimelineFork, 0)
	for rows.Next() {
		var f TimelineFork
		if err := rows.Scan(&f.ID, &f.OriginalTimelineID, &f.ForkedTimelineID, &f.ForkedByID, &f.ForkedVersion, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fork: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forks: %w", err)
	}
	return items, nil
}
