package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"waypoint/api/internal/search"
	"waypoint/api/internal/store"
)

type CreateTimelineInput struct {
	TypeID           string  `json:"typeId"`
	TimeUnitID       *string `json:"timeUnitId"`
	Duration         *int    `json:"duration"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	IsPublic         bool    `json:"isPublic"`
	EnableScheduling bool    `json:"enableScheduling"`
}

type UpdateTimelineInput struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	IsPublic         bool   `json:"isPublic"`
	EnableScheduling bool   `json:"enableScheduling"`
}

func (s *Service) CreateTimeline(ctx context.Context, userID string, input CreateTimelineInput) (store.Timeline, error) {
	if input.Title == "" {
		return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "title is required", nil)
	}

	tt, ok, err := s.refdata.TimelineTypeByID(ctx, input.TypeID)
	if err != nil {
		return store.Timeline{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	if !ok {
		return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "unknown timeline type", nil)
	}

	if tt.NeedsTimeUnit {
		if input.TimeUnitID == nil {
			return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline type requires a time unit", nil)
		}
		if _, ok, err := s.refdata.TimeUnitByID(ctx, *input.TimeUnitID); err != nil {
			return store.Timeline{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
		} else if !ok {
			return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "unknown time unit", nil)
		}
	}
	if tt.NeedsDuration {
		if input.Duration == nil || *input.Duration < 1 {
			return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline type requires a positive duration", nil)
		}
	}
	if input.EnableScheduling && !tt.SupportsScheduling {
		return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline type does not support scheduling", nil)
	}

	var created store.Timeline
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		created, txErr = s.store.InsertTimeline(ctx, q, store.NewTimeline{
			TypeID:           input.TypeID,
			TimeUnitID:       input.TimeUnitID,
			Duration:         input.Duration,
			AuthorID:         userID,
			Title:            input.Title,
			Description:      input.Description,
			IsPublic:         input.IsPublic,
			EnableScheduling: input.EnableScheduling,
		})
		return txErr
	})
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}

	s.search.IndexTimeline(search.TimelineRecord{
		ID:          created.ID,
		Title:       created.Title,
		Description: created.Description,
		AuthorID:    created.AuthorID,
		TypeCode:    tt.Code,
	}, created.IsPublic)
	return created, nil
}

// loadVisibleTimeline fetches a timeline and applies the visibility rule:
// private timelines are indistinguishable from absent ones for anyone but the
// author.
func (s *Service) loadVisibleTimeline(ctx context.Context, requesterID, timelineID string) (store.Timeline, error) {
	timeline, err := s.store.GetTimeline(ctx, timelineID)
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}
	if !timeline.IsPublic && timeline.AuthorID != requesterID {
		return store.Timeline{}, domainError(http.StatusNotFound, "NOT_FOUND", "timeline not found", nil)
	}
	return timeline, nil
}

func (s *Service) GetTimelineView(ctx context.Context, requesterID, timelineID string) (TimelineView, error) {
	timeline, err := s.loadVisibleTimeline(ctx, requesterID, timelineID)
	if err != nil {
		return TimelineView{}, err
	}

	details, err := s.store.ListSegmentDetails(ctx, timelineID)
	if err != nil {
		return TimelineView{}, translateStoreError(err, "timeline not found")
	}

	isAuthor := timeline.AuthorID == requesterID
	var schedules map[string]store.SegmentSchedule
	if isAuthor && timeline.EnableScheduling {
		schedules, err = s.store.ListSchedulesForTimeline(ctx, timelineID)
		if err != nil {
			return TimelineView{}, translateStoreError(err, "timeline not found")
		}
	}

	view := s.timelineView(ctx, timeline, isAuthor)
	view.Segments = make([]SegmentView, 0, len(details))
	for _, detail := range details {
		var schedule *store.SegmentSchedule
		if sc, ok := schedules[detail.ID]; ok {
			schedule = &sc
		}
		view.Segments = append(view.Segments, segmentView(detail, schedule, isAuthor))
	}
	return view, nil
}

func (s *Service) timelineView(ctx context.Context, t store.Timeline, isAuthor bool) TimelineView {
	view := TimelineView{
		ID:               t.ID,
		TypeID:           t.TypeID,
		TimeUnitID:       t.TimeUnitID,
		Duration:         t.Duration,
		AuthorID:         t.AuthorID,
		Title:            t.Title,
		Description:      t.Description,
		IsGenerated:      t.IsGenerated,
		IsPublic:         t.IsPublic,
		EnableScheduling: t.EnableScheduling,
		Version:          t.Version,
		IsAuthor:         isAuthor,
		Segments:         []SegmentView{},
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
	if tt, ok, err := s.refdata.TimelineTypeByID(ctx, t.TypeID); err == nil && ok {
		view.TypeCode = tt.Code
	}
	if t.TimeUnitID != nil {
		if tu, ok, err := s.refdata.TimeUnitByID(ctx, *t.TimeUnitID); err == nil && ok {
			view.TimeUnitCode = tu.Code
		}
	}
	return view
}

func (s *Service) ListMyTimelines(ctx context.Context, userID string) ([]TimelineView, error) {
	timelines, err := s.store.ListTimelinesByAuthor(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err, "timelines not found")
	}
	views := make([]TimelineView, 0, len(timelines))
	for _, t := range timelines {
		views = append(views, s.timelineView(ctx, t, true))
	}
	return views, nil
}

func (s *Service) ListPublicTimelines(ctx context.Context, requesterID string, limit, offset int) ([]TimelineView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	timelines, err := s.store.ListPublicTimelines(ctx, limit, offset)
	if err != nil {
		return nil, translateStoreError(err, "timelines not found")
	}
	views := make([]TimelineView, 0, len(timelines))
	for _, t := range timelines {
		views = append(views, s.timelineView(ctx, t, t.AuthorID == requesterID))
	}
	return views, nil
}

func (s *Service) UpdateTimeline(ctx context.Context, requesterID, timelineID string, input UpdateTimelineInput) (store.Timeline, error) {
	timeline, err := s.store.GetTimeline(ctx, timelineID)
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}
	if timeline.AuthorID != requesterID {
		return store.Timeline{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the author can update a timeline", nil)
	}
	if input.Title == "" {
		return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "title is required", nil)
	}
	if input.EnableScheduling && !timeline.EnableScheduling {
		tt, ok, err := s.refdata.TimelineTypeByID(ctx, timeline.TypeID)
		if err != nil {
			return store.Timeline{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
		}
		if !ok || !tt.SupportsScheduling {
			return store.Timeline{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline type does not support scheduling", nil)
		}
	}

	timeline.Title = input.Title
	timeline.Description = input.Description
	timeline.IsPublic = input.IsPublic
	timeline.EnableScheduling = input.EnableScheduling

	var updated store.Timeline
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		updated, txErr = s.store.UpdateTimeline(ctx, q, timeline)
		return txErr
	})
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}

	typeCode := ""
	if tt, ok, err := s.refdata.TimelineTypeByID(ctx, updated.TypeID); err == nil && ok {
		typeCode = tt.Code
	}
	s.search.IndexTimeline(search.TimelineRecord{
		ID:          updated.ID,
		Title:       updated.Title,
		Description: updated.Description,
		AuthorID:    updated.AuthorID,
		TypeCode:    typeCode,
	}, updated.IsPublic)
	return updated, nil
}

// DeleteTimeline removes a timeline and, through cascades, its segments and
// their children. The search index entry goes with it.
func (s *Service) DeleteTimeline(ctx context.Context, requesterID, timelineID string) error {
	timeline, err := s.store.GetTimeline(ctx, timelineID)
	if err != nil {
		return translateStoreError(err, "timeline not found")
	}
	if timeline.AuthorID != requesterID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the author can delete a timeline", nil)
	}
	if err := s.store.DeleteTimeline(ctx, timelineID); err != nil {
		return translateStoreError(err, "timeline not found")
	}
	s.search.DeleteTimeline(timelineID)
	return nil
}

// ListTimelineForks reports who forked the requester's timeline and at which
// version.
func (s *Service) ListTimelineForks(ctx context.Context, requesterID, timelineID string) ([]store.TimelineFork, error) {
	timeline, err := s.store.GetTimeline(ctx, timelineID)
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	if timeline.AuthorID != requesterID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the author can list forks", nil)
	}
	forks, err := s.store.ListForksOfTimeline(ctx, timelineID)
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	return forks, nil
}

// ForkTimeline copies a public timeline, all its segments, and their goals and
// references into a new private timeline owned by the requester. The copy,
// the segment inserts, and the fork record all commit or roll back together.
func (s *Service) ForkTimeline(ctx context.Context, requesterID, timelineID string) (store.Timeline, error) {
	original, err := s.store.GetTimeline(ctx, timelineID)
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}
	if original.AuthorID == requesterID {
		return store.Timeline{}, domainError(http.StatusConflict, "CONFLICT", "cannot fork your own timeline", nil)
	}
	if !original.IsPublic {
		return store.Timeline{}, domainError(http.StatusForbidden, "FORBIDDEN", "timeline is not public", nil)
	}
	if _, err := s.store.GetForkByOriginalAndUser(ctx, timelineID, requesterID); err == nil {
		return store.Timeline{}, domainError(http.StatusForbidden, "DUPLICATE_FORK", "timeline already forked by this user", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}

	details, err := s.store.ListSegmentDetails(ctx, timelineID)
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}
	if len(details) == 0 {
		return store.Timeline{}, domainError(http.StatusNotFound, "NOT_FOUND", "timeline has no segments to fork", nil)
	}

	candidates := make([]store.NewSegment, 0, len(details))
	units := make([]int, 0, len(details))
	for _, detail := range details {
		goals := make([]string, 0, len(detail.Goals))
		for _, g := range detail.Goals {
			goals = append(goals, g.Goal)
		}
		references := make([]string, 0, len(detail.References))
		for _, r := range detail.References {
			references = append(references, r.Reference)
		}
		candidates = append(candidates, store.NewSegment{
			UnitNumber: detail.UnitNumber,
			Title:      detail.Title,
			Milestone:  detail.Milestone,
			Goals:      goals,
			References: references,
		})
		units = append(units, detail.UnitNumber)
	}

	// Re-derive the range and coverage checks against the copied duration.
	// With duration copied from the original this passes by construction,
	// but a partially-filled original is rejected here instead of producing
	// an incomplete fork.
	if original.Duration != nil {
		if verr := validateBulkUnits(nil, *original.Duration, units); verr != nil {
			return store.Timeline{}, verr
		}
	}

	var forked store.Timeline
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		forked, txErr = s.store.InsertTimeline(ctx, q, store.NewTimeline{
			TypeID:           original.TypeID,
			TimeUnitID:       original.TimeUnitID,
			Duration:         original.Duration,
			AuthorID:         requesterID,
			Title:            original.Title + " (Forked)",
			Description:      original.Description,
			IsPublic:         false,
			EnableScheduling: original.EnableScheduling,
		})
		if txErr != nil {
			return txErr
		}
		for _, candidate := range candidates {
			if _, txErr := s.store.InsertSegment(ctx, q, forked.ID, candidate); txErr != nil {
				return txErr
			}
		}
		_, txErr = s.store.InsertFork(ctx, q, timelineID, forked.ID, requesterID, original.Version)
		return txErr
	})
	if err != nil {
		return store.Timeline{}, translateStoreError(err, "timeline not found")
	}
	return forked, nil
}
