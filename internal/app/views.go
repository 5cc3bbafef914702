package app

import (
	"time"

	"waypoint/api/internal/store"
)

// ScheduleView is the scheduling state exposed to a timeline's author.
type ScheduleView struct {
	ScheduleDate *time.Time `json:"scheduleDate"`
	CompletedAt  *time.Time `json:"completedAt"`
}

// SegmentView is the wire shape of a segment. Scheduling is attached only
// when the requester is the timeline's author; the decision is made once at
// the view boundary, not by handlers poking at optional fields.
type SegmentView struct {
	ID         string        `json:"id"`
	UnitNumber int           `json:"unitNumber"`
	Title      string        `json:"title"`
	Milestone  *string       `json:"milestone,omitempty"`
	Goals      []string      `json:"goals"`
	References []string      `json:"references"`
	Scheduling *ScheduleView `json:"scheduling,omitempty"`
}

// TimelineView is the wire shape of a timeline with its segments.
type TimelineView struct {
	ID               string        `json:"id"`
	TypeID           string        `json:"typeId"`
	TypeCode         string        `json:"typeCode"`
	TimeUnitID       *string       `json:"timeUnitId,omitempty"`
	TimeUnitCode     string        `json:"timeUnitCode,omitempty"`
	Duration         *int          `json:"duration,omitempty"`
	AuthorID         string        `json:"authorId"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	IsGenerated      bool          `json:"isGenerated"`
	IsPublic         bool          `json:"isPublic"`
	EnableScheduling bool          `json:"enableScheduling"`
	Version          string        `json:"version"`
	IsAuthor         bool          `json:"isAuthor"`
	Segments         []SegmentView `json:"segments"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func segmentView(detail store.SegmentDetail, schedule *store.SegmentSchedule, isAuthor bool) SegmentView {
	view := SegmentView{
		ID:         detail.ID,
		UnitNumber: detail.UnitNumber,
		Title:      detail.Title,
		Milestone:  detail.Milestone,
		Goals:      make([]string, 0, len(detail.Goals)),
		References: make([]string, 0, len(detail.References)),
	}
	for _, g := range detail.Goals {
		view.Goals = append(view.Goals, g.Goal)
	}
	for _, r := range detail.References {
		view.References = append(view.References, r.Reference)
	}
	if isAuthor && schedule != nil {
		view.Scheduling = &ScheduleView{
			ScheduleDate: schedule.ScheduleDate,
			CompletedAt:  schedule.CompletedAt,
		}
	}
	return view
}
