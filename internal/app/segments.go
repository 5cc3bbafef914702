package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"waypoint/api/internal/llm"
	"waypoint/api/internal/store"
)

type SegmentInput struct {
	UnitNumber int      `json:"unitNumber"`
	Title      string   `json:"title"`
	Milestone  *string  `json:"milestone"`
	Goals      []string `json:"goals"`
	References []string `json:"references"`
}

func (in SegmentInput) toNewSegment() store.NewSegment {
	return store.NewSegment{
		UnitNumber: in.UnitNumber,
		Title:      in.Title,
		Milestone:  in.Milestone,
		Goals:      in.Goals,
		References: in.References,
	}
}

// loadOwnTimeline fetches a timeline and requires the requester to be its
// author.
func (s *Service) loadOwnTimeline(ctx context.Context, requesterID, timelineID string) (store.Timeline, error) {
	timeline, err := s.loadVisibleTimeline(ctx, requesterID, timelineID)
	if err != nil {
		return store.Timeline{}, err
	}
	if timeline.AuthorID != requesterID {
		return store.Timeline{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the author can modify a timeline", nil)
	}
	return timeline, nil
}

// CreateSegment inserts one segment. Unlike bulk create it does not require
// the timeline to end up fully covered, so gaps are allowed here.
func (s *Service) CreateSegment(ctx context.Context, requesterID, timelineID string, input SegmentInput) (store.SegmentDetail, error) {
	timeline, err := s.loadOwnTimeline(ctx, requesterID, timelineID)
	if err != nil {
		return store.SegmentDetail{}, err
	}
	if verr := validateSegmentContent(input.Title, input.Goals, input.References); verr != nil {
		return store.SegmentDetail{}, verr
	}

	existing, err := s.store.ListUnitNumbers(ctx, timelineID)
	if err != nil {
		return store.SegmentDetail{}, translateStoreError(err, "timeline not found")
	}
	if timeline.Duration != nil {
		if verr := validateSingleUnit(existing, *timeline.Duration, input.UnitNumber); verr != nil {
			return store.SegmentDetail{}, verr
		}
	} else {
		if input.UnitNumber < 1 {
			return store.SegmentDetail{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "unit number must be positive", nil)
		}
		for _, n := range existing {
			if n == input.UnitNumber {
				return store.SegmentDetail{}, domainError(http.StatusBadRequest, "DUPLICATE_UNIT_NUMBER", "segment with this unit number already exists", nil)
			}
		}
	}

	var created store.SegmentDetail
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		created, txErr = s.store.InsertSegment(ctx, q, timelineID, input.toNewSegment())
		return txErr
	})
	if err != nil {
		return store.SegmentDetail{}, translateStoreError(err, "timeline not found")
	}
	return created, nil
}

// CreateBulkSegments inserts a batch of segments that must leave the timeline
// fully covered over 1..duration. Nothing is written if any rule fails.
func (s *Service) CreateBulkSegments(ctx context.Context, requesterID, timelineID string, inputs []SegmentInput) ([]store.SegmentDetail, error) {
	timeline, err := s.loadOwnTimeline(ctx, requesterID, timelineID)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", "at least one segment is required", nil)
	}
	if timeline.Duration == nil {
		return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline has no duration, bulk creation is not applicable", nil)
	}
	for _, input := range inputs {
		if verr := validateSegmentContent(input.Title, input.Goals, input.References); verr != nil {
			return nil, verr
		}
	}

	existing, err := s.store.ListUnitNumbers(ctx, timelineID)
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	units := make([]int, 0, len(inputs))
	for _, input := range inputs {
		units = append(units, input.UnitNumber)
	}
	if verr := validateBulkUnits(existing, *timeline.Duration, units); verr != nil {
		return nil, verr
	}

	created := make([]store.SegmentDetail, 0, len(inputs))
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		for _, input := range inputs {
			detail, txErr := s.store.InsertSegment(ctx, q, timelineID, input.toNewSegment())
			if txErr != nil {
				return txErr
			}
			created = append(created, detail)
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	return created, nil
}

// GetSegmentView fetches one segment with the same visibility and
// author-tagging rules as the timeline view.
func (s *Service) GetSegmentView(ctx context.Context, requesterID, segmentID string) (SegmentView, error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return SegmentView{}, translateStoreError(err, "segment not found")
	}
	timeline, err := s.loadVisibleTimeline(ctx, requesterID, segment.TimelineID)
	if err != nil {
		return SegmentView{}, err
	}

	details, err := s.store.ListSegmentDetails(ctx, segment.TimelineID)
	if err != nil {
		return SegmentView{}, translateStoreError(err, "segment not found")
	}
	var detail store.SegmentDetail
	found := false
	for _, d := range details {
		if d.ID == segmentID {
			detail = d
			found = true
			break
		}
	}
	if !found {
		return SegmentView{}, domainError(http.StatusNotFound, "NOT_FOUND", "segment not found", nil)
	}

	isAuthor := timeline.AuthorID == requesterID
	var schedule *store.SegmentSchedule
	if isAuthor && timeline.EnableScheduling {
		if sc, err := s.store.GetSchedule(ctx, segmentID); err == nil {
			schedule = &sc
		} else if !errors.Is(err, sql.ErrNoRows) {
			return SegmentView{}, translateStoreError(err, "segment not found")
		}
	}
	return segmentView(detail, schedule, isAuthor), nil
}

func (s *Service) UpdateSegment(ctx context.Context, requesterID, segmentID string, input SegmentInput) (store.SegmentDetail, error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return store.SegmentDetail{}, translateStoreError(err, "segment not found")
	}
	timeline, err := s.loadOwnTimeline(ctx, requesterID, segment.TimelineID)
	if err != nil {
		return store.SegmentDetail{}, err
	}
	if verr := validateSegmentContent(input.Title, input.Goals, input.References); verr != nil {
		return store.SegmentDetail{}, verr
	}

	// Edits to a forked timeline's segments are tracked for future
	// divergence display.
	_, isForked := s.forkParent(ctx, timeline)

	var detail store.SegmentDetail
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		updated, txErr := s.store.UpdateSegment(ctx, q, segmentID, input.Title, input.Milestone, isForked)
		if txErr != nil {
			return txErr
		}
		goals, txErr := s.store.ReplaceSegmentGoals(ctx, q, segmentID, input.Goals)
		if txErr != nil {
			return txErr
		}
		references, txErr := s.store.ReplaceSegmentReferences(ctx, q, segmentID, input.References)
		if txErr != nil {
			return txErr
		}
		detail = store.SegmentDetail{Segment: updated, Goals: goals, References: references}
		return nil
	})
	if err != nil {
		return store.SegmentDetail{}, translateStoreError(err, "segment not found")
	}
	return detail, nil
}

func (s *Service) forkParent(ctx context.Context, timeline store.Timeline) (store.TimelineFork, bool) {
	// A forked timeline's title alone does not prove provenance; the fork
	// table does.
	fork, err := s.store.GetForkByForkedTimeline(ctx, timeline.ID)
	if err != nil {
		return store.TimelineFork{}, false
	}
	return fork, true
}

func (s *Service) DeleteSegment(ctx context.Context, requesterID, segmentID string) error {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return translateStoreError(err, "segment not found")
	}
	if _, err := s.loadOwnTimeline(ctx, requesterID, segment.TimelineID); err != nil {
		return err
	}
	if err := s.store.DeleteSegment(ctx, segmentID); err != nil {
		return translateStoreError(err, "segment not found")
	}
	return nil
}

// UpdateSegmentScheduleDate sets the planned start date for a segment. The
// caller's date is persisted as given; it must not precede the previous
// segment's date, and the previous segment must already be completed.
func (s *Service) UpdateSegmentScheduleDate(ctx context.Context, requesterID, segmentID string, date time.Time) (store.SegmentSchedule, error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
	}
	timeline, err := s.loadOwnTimeline(ctx, requesterID, segment.TimelineID)
	if err != nil {
		return store.SegmentSchedule{}, err
	}
	if !timeline.EnableScheduling {
		return store.SegmentSchedule{}, domainError(http.StatusForbidden, "FORBIDDEN", "scheduling is not enabled for this timeline", nil)
	}

	if segment.UnitNumber > 1 {
		previous, err := s.store.GetSegmentByUnit(ctx, segment.TimelineID, segment.UnitNumber-1)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.SegmentSchedule{}, domainError(http.StatusNotFound, "NOT_FOUND", "previous segment not found", nil)
			}
			return store.SegmentSchedule{}, translateStoreError(err, "previous segment not found")
		}
		prevSchedule, err := s.store.GetSchedule(ctx, previous.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.SegmentSchedule{}, domainError(http.StatusNotFound, "NOT_FOUND", "previous segment has no schedule", nil)
			}
			return store.SegmentSchedule{}, translateStoreError(err, "previous segment not found")
		}
		if prevSchedule.CompletedAt == nil {
			return store.SegmentSchedule{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "previous segment not completed", nil)
		}
		if prevSchedule.ScheduleDate != nil && date.Before(*prevSchedule.ScheduleDate) {
			return store.SegmentSchedule{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "schedule date precedes the previous segment's date", nil)
		}
	}

	var schedule store.SegmentSchedule
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		schedule, txErr = s.store.UpsertScheduleDate(ctx, q, segmentID, date)
		return txErr
	})
	if err != nil {
		return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
	}
	return schedule, nil
}

// MarkSegmentComplete stamps a segment's completion time. A service-level
// check rejects out-of-order completions early; the database trigger enforces
// the same rule unconditionally for any writer.
func (s *Service) MarkSegmentComplete(ctx context.Context, requesterID, segmentID string) (store.SegmentSchedule, error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
	}
	timeline, err := s.loadOwnTimeline(ctx, requesterID, segment.TimelineID)
	if err != nil {
		return store.SegmentSchedule{}, err
	}
	if !timeline.EnableScheduling {
		return store.SegmentSchedule{}, domainError(http.StatusForbidden, "FORBIDDEN", "scheduling is not enabled for this timeline", nil)
	}

	if existing, err := s.store.GetSchedule(ctx, segmentID); err == nil {
		if existing.CompletedAt != nil {
			return store.SegmentSchedule{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "segment is already completed", nil)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
	}

	if segment.UnitNumber > 1 {
		incomplete, err := s.store.PreviousSegmentIncomplete(ctx, segment.TimelineID, segment.UnitNumber)
		if err != nil {
			return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
		}
		if incomplete {
			return store.SegmentSchedule{}, domainError(http.StatusBadRequest, "BAD_REQUEST", "previous segment not completed", nil)
		}
	}

	var schedule store.SegmentSchedule
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		var txErr error
		schedule, txErr = s.store.MarkScheduleComplete(ctx, q, segmentID)
		return txErr
	})
	if err != nil {
		return store.SegmentSchedule{}, translateStoreError(err, "segment not found")
	}
	return schedule, nil
}

// GenerateSegments asks the language model for a full segment set, validates
// the reply, and commits the segments, the credit debit, and the isGenerated
// flip in one transaction. A reply that fails validation costs nothing.
func (s *Service) GenerateSegments(ctx context.Context, requesterID, timelineID, requirements string) ([]store.SegmentDetail, error) {
	timeline, err := s.loadOwnTimeline(ctx, requesterID, timelineID)
	if err != nil {
		return nil, err
	}

	tt, ok, err := s.refdata.TimelineTypeByID(ctx, timeline.TypeID)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	if !ok || !tt.SupportsGeneration {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "timeline type does not support generation", nil)
	}
	if timeline.Duration == nil {
		return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline has no duration, generation is not applicable", nil)
	}
	if timeline.IsGenerated {
		return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", "timeline segments were already generated", nil)
	}

	user, err := s.store.GetUserByID(ctx, requesterID)
	if err != nil {
		return nil, translateStoreError(err, "user not found")
	}
	if user.Credits < s.cfg.GenerationCost {
		return nil, domainError(http.StatusForbidden, "INSUFFICIENT_CREDITS", "not enough credits for generation", nil)
	}

	timeUnitCode := ""
	if timeline.TimeUnitID != nil {
		if tu, ok, err := s.refdata.TimeUnitByID(ctx, *timeline.TimeUnitID); err == nil && ok {
			timeUnitCode = tu.Code
		}
	}
	instructions, data := llm.BuildPrompt(timeline.Title, timeline.Description, timeUnitCode, *timeline.Duration, requirements)
	raw, err := s.llm.Chat(ctx, instructions, data)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	if raw == "" {
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "model returned no response text", nil)
	}

	candidates, err := llm.ParseSegmentResponse(raw)
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		}
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}

	for _, candidate := range candidates {
		if verr := validateSegmentContent(candidate.Title, candidate.Goals, candidate.References); verr != nil {
			return nil, verr
		}
	}

	existing, err := s.store.ListUnitNumbers(ctx, timelineID)
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	units := make([]int, 0, len(candidates))
	for _, candidate := range candidates {
		units = append(units, candidate.UnitNumber)
	}
	if verr := validateBulkUnits(existing, *timeline.Duration, units); verr != nil {
		return nil, verr
	}

	created := make([]store.SegmentDetail, 0, len(candidates))
	err = s.store.InTx(ctx, func(q store.DBTX) error {
		for _, candidate := range candidates {
			detail, txErr := s.store.InsertSegment(ctx, q, timelineID, candidate)
			if txErr != nil {
				return txErr
			}
			created = append(created, detail)
		}
		if txErr := s.store.UpdateUserCredits(ctx, q, requesterID, user.Credits-s.cfg.GenerationCost); txErr != nil {
			return txErr
		}
		return s.store.MarkTimelineGenerated(ctx, q, timelineID)
	})
	if err != nil {
		return nil, translateStoreError(err, "timeline not found")
	}
	return created, nil
}
