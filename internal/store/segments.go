package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) InsertSegment(ctx context.Context, q DBTX, timelineID string, input NewSegment) (SegmentDetail, error) {
	var seg Segment
	err := q.QueryRowContext(ctx, `
		INSERT INTO segments (timeline_id, unit_number, title, milestone)
		VALUES ($1, $2, $3, $4)
		RETURNING id, timeline_id, unit_number, title, milestone, is_fork_modified, created_at, updated_at
	`, timelineID, input.UnitNumber, input.Title, input.Milestone).Scan(
		&seg.ID,
		&seg.TimelineID,
		&seg.UnitNumber,
		&seg.Title,
		&seg.Milestone,
		&seg.IsForkModified,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err != nil {
		return SegmentDetail{}, err
	}

	detail := SegmentDetail{Segment: seg}
	for _, goal := range input.Goals {
		var g SegmentGoal
		err := q.QueryRowContext(ctx, `
			INSERT INTO segment_goals (segment_id, goal) VALUES ($1, $2)
			RETURNING id, segment_id, goal
		`, seg.ID, goal).Scan(&g.ID, &g.SegmentID, &g.Goal)
		if err != nil {
			return SegmentDetail{}, fmt.Errorf("insert segment goal: %w", err)
		}
		detail.Goals = append(detail.Goals, g)
	}
	for _, ref := range input.References {
		var r SegmentReference
		err := q.QueryRowContext(ctx, `
			INSERT INTO segment_references (segment_id, reference) VALUES ($1, $2)
			RETURNING id, segment_id, reference
		`, seg.ID, ref).Scan(&r.ID, &r.SegmentID, &r.Reference)
		if err != nil {
			return SegmentDetail{}, fmt.Errorf("insert segment reference: %w", err)
		}
		detail.References = append(detail.References, r)
	}
	return detail, nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, segmentID string) (Segment, error) {
	var seg Segment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, timeline_id, unit_number, title, milestone, is_fork_modified, created_at, updated_at
		FROM segments
		WHERE id=$1
	`, segmentID).Scan(
		&seg.ID,
		&seg.TimelineID,
		&seg.UnitNumber,
		&seg.Title,
		&seg.Milestone,
		&seg.IsForkModified,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

func (s *PostgresStore) GetSegmentByUnit(ctx context.Context, timelineID string, unitNumber int) (Segment, error) {
	var seg Segment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, timeline_id, unit_number, title, milestone, is_fork_modified, created_at, updated_at
		FROM segments
		WHERE timeline_id=$1 AND unit_number=$2
	`, timelineID, unitNumber).Scan(
		&seg.ID,
		&seg.TimelineID,
		&seg.UnitNumber,
		&seg.Title,
		&seg.Milestone,
		&seg.IsForkModified,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// ListSegmentDetails returns a timeline's segments ordered by unit number,
// each with its goals and references attached.
func (s *PostgresStore) ListSegmentDetails(ctx context.Context, timelineID string) ([]SegmentDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timeline_id, unit_number, title, milestone, is_fork_modified, created_at, updated_at
		FROM segments
		WHERE timeline_id=$1
		ORDER BY unit_number
	`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	details := make([]SegmentDetail, 0)
	index := make(map[string]int)
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(
			&seg.ID,
			&seg.TimelineID,
			&seg.UnitNumber,
			&seg.Title,
			&seg.Milestone,
			&seg.IsForkModified,
			&seg.CreatedAt,
			&seg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		index[seg.ID] = len(details)
		details = append(details, SegmentDetail{Segment: seg})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	if len(details) == 0 {
		return details, nil
	}

	goalRows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.segment_id, g.goal
		FROM segment_goals g
		JOIN segments seg ON seg.id = g.segment_id
		WHERE seg.timeline_id=$1
		ORDER BY g.id
	`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list segment goals: %w", err)
	}
	defer goalRows.Close()
	for goalRows.Next() {
		var g SegmentGoal
		if err := goalRows.Scan(&g.ID, &g.SegmentID, &g.Goal); err != nil {
			return nil, fmt.Errorf("scan segment goal: %w", err)
		}
		if i, ok := index[g.SegmentID]; ok {
			details[i].Goals = append(details[i].Goals, g)
		}
	}
	if err := goalRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment goals: %w", err)
	}

	refRows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.segment_id, r.reference
		FROM segment_references r
		JOIN segments seg ON seg.id = r.segment_id
		WHERE seg.timeline_id=$1
		ORDER BY r.id
	`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list segment references: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var r SegmentReference
		if err := refRows.Scan(&r.ID, &r.SegmentID, &r.Reference); err != nil {
			return nil, fmt.Errorf("scan segment reference: %w", err)
		}
		if i, ok := index[r.SegmentID]; ok {
			details[i].References = append(details[i].References, r)
		}
	}
	if err := refRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment references: %w", err)
	}

	return details, nil
}

// ListUnitNumbers returns the set of unit numbers already present on a
// timeline, ascending.
func (s *PostgresStore) ListUnitNumbers(ctx context.Context, timelineID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_number FROM segments WHERE timeline_id=$1 ORDER BY unit_number
	`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list unit numbers: %w", err)
	}
	defer rows.Close()

	numbers := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan unit number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit numbers: %w", err)
	}
	return numbers, nil
}

func (s *PostgresStore) UpdateSegment(ctx context.Context, q DBTX, segmentID, title string, milestone *string, markForkModified bool) (Segment, error) {
	var seg Segment
	err := q.QueryRowContext(ctx, `
		UPDATE segments
		SET title=$2, milestone=$3, is_fork_modified = is_fork_modified OR $4, updated_at=NOW()
		WHERE id=$1
		RETURNING id, timeline_id, unit_number, title, milestone, is_fork_modified, created_at, updated_at
	`, segmentID, title, milestone, markForkModified).Scan(
		&seg.ID,
		&seg.TimelineID,
		&seg.UnitNumber,
		&seg.Title,
		&seg.Milestone,
		&seg.IsForkModified,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

func (s *PostgresStore) ReplaceSegmentGoals(ctx context.Context, q DBTX, segmentID string, goals []string) ([]SegmentGoal, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM segment_goals WHERE segment_id=$1`, segmentID); err != nil {
		return nil, fmt.Errorf("clear segment goals: %w", err)
	}
	out := make([]SegmentGoal, 0, len(goals))
	for _, goal := range goals {
		var g SegmentGoal
		err := q.QueryRowContext(ctx, `
			INSERT INTO segment_goals (segment_id, goal) VALUES ($1, $2)
			RETURNING id, segment_id, goal
		`, segmentID, goal).Scan(&g.ID, &g.SegmentID, &g.Goal)
		if err != nil {
			return nil, fmt.Errorf("insert segment goal: %w", err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceSegmentReferences(ctx context.Context, q DBTX, segmentID string, references []string) ([]SegmentReference, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM segment_references WHERE segment_id=$1`, segmentID); err != nil {
		return nil, fmt.Errorf("clear segment references: %w", err)
	}
	out := make([]SegmentReference, 0, len(references))
	for _, ref := range references {
		var r SegmentReference
		err := q.QueryRowContext(ctx, `
			INSERT INTO segment_references (segment_id, reference) VALUES ($1, $2)
			RETURNING id, segment_id, reference
		`, segmentID, ref).Scan(&r.ID, &r.SegmentID, &r.Reference)
		if err != nil {
			return nil, fmt.Errorf("insert segment reference: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) DeleteSegment(ctx context.Context, segmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE id=$1`, segmentID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSchedule(ctx context.Context, segmentID string) (SegmentSchedule, error) {
	var sc SegmentSchedule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, segment_id, schedule_date, completed_at, created_at, updated_at
		FROM segment_schedules
		WHERE segment_id=$1
	`, segmentID).Scan(&sc.ID, &sc.SegmentID, &sc.ScheduleDate, &sc.CompletedAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return SegmentSchedule{}, err
	}
	return sc, nil
}

// UpsertScheduleDate records or moves the planned date for a segment without
// touching any completion timestamp already on the row.
func (s *PostgresStore) UpsertScheduleDate(ctx context.Context, q DBTX, segmentID string, scheduleDate time.Time) (SegmentSchedule, error) {
	var sc SegmentSchedule
	err := q.QueryRowContext(ctx, `
		INSERT INTO segment_schedules (segment_id, schedule_date)
		VALUES ($1, $2)
		ON CONFLICT (segment_id) DO UPDATE SET schedule_date=EXCLUDED.schedule_date, updated_at=NOW()
		RETURNING id, segment_id, schedule_date, completed_at, created_at, updated_at
	`, segmentID, scheduleDate).Scan(&sc.ID, &sc.SegmentID, &sc.ScheduleDate, &sc.CompletedAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return SegmentSchedule{}, err
	}
	return sc, nil
}

// MarkScheduleComplete stamps completed_at. The insert-or-update passes
// through the sequential completion trigger, which rejects out-of-order
// completions at the database layer.
func (s *PostgresStore) MarkScheduleComplete(ctx context.Context, q DBTX, segmentID string) (SegmentSchedule, error) {
	var sc SegmentSchedule
	err := q.QueryRowContext(ctx, `
		INSERT INTO segment_schedules (segment_id, completed_at)
		VALUES ($1, NOW())
		ON CONFLICT (segment_id) DO UPDATE SET completed_at=NOW(), updated_at=NOW()
		RETURNING id, segment_id, schedule_date, completed_at, created_at, updated_at
	`, segmentID).Scan(&sc.ID, &sc.SegmentID, &sc.ScheduleDate, &sc.CompletedAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return SegmentSchedule{}, err
	}
	return sc, nil
}

// ListSchedulesForTimeline returns schedule rows for every scheduled segment
// of a timeline, keyed for merge by segment id.
func (s *PostgresStore) ListSchedulesForTimeline(ctx context.Context, timelineID string) (map[string]SegmentSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.id, sc.segment_id, sc.schedule_date, sc.completed_at, sc.created_at, sc.updated_at
		FROM segment_schedules sc
		JOIN segments seg ON seg.id = sc.segment_id
		WHERE seg.timeline_id=$1
	`, timelineID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SegmentSchedule)
	for rows.Next() {
		var sc SegmentSchedule
		if err := rows.Scan(&sc.ID, &sc.SegmentID, &sc.ScheduleDate, &sc.CompletedAt, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out[sc.SegmentID] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// PreviousSegmentIncomplete reports whether the segment immediately before the
// given unit number exists and has not been completed. Used for the fast-fail
// check ahead of the database trigger.
func (s *PostgresStore) PreviousSegmentIncomplete(ctx context.Context, timelineID string, unitNumber int) (bool, error) {
	var incomplete bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM segments seg
			LEFT JOIN segment_schedules sc ON sc.segment_id = seg.id
			WHERE seg.timeline_id=$1
				AND seg.unit_number = $2 - 1
				AND sc.completed_at IS NULL
		)
	`, timelineID, unitNumber).Scan(&incomplete)
	if err != nil {
		return false, fmt.Errorf("check previous segment completion: %w", err)
	}
	return incomplete, nil
}
