package store

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Credits      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TimelineType is read-mostly reference data describing which rules apply to
// timelines of this type.
type TimelineType struct {
	ID                 string
	Code               string
	Description        string
	NeedsTimeUnit      bool
	NeedsDuration      bool
	SupportsScheduling bool
	SupportsGeneration bool
}

// TimeUnit is read-mostly reference data (DAILY, WEEKLY, MONTHLY).
type TimeUnit struct {
	ID                string
	Code              string
	Description       string
	DurationInSeconds int
}

type Timeline struct {
	ID               string
	TypeID           string
	TimeUnitID       *string
	Duration         *int
	AuthorID         string
	Title            string
	Description      string
	IsGenerated      bool
	IsPublic         bool
	EnableScheduling bool
	Version          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Segment struct {
	ID             string
	TimelineID     string
	UnitNumber     int
	Title          string
	Milestone      *string
	IsForkModified bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SegmentGoal struct {
	ID        string
	SegmentID string
	Goal      string
}

type SegmentReference struct {
	ID        string
	SegmentID string
	Reference string
}

// SegmentDetail is a segment together with its owned child rows.
type SegmentDetail struct {
	Segment
	Goals      []SegmentGoal
	References []SegmentReference
}

// SegmentSchedule is the one-to-one schedule/completion record for a segment.
/// Both timestamps are nullable: a row with only ScheduleDate is "scheduled",
// a row with CompletedAt set is "completed".
type SegmentSchedule struct {
	ID           string
	SegmentID    string
	ScheduleDate *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TimelineFork struct {
	ID                 string
	OriginalTimelineID string
	ForkedTimelineID   string
	ForkedByID         string
	ForkedVersion      string
	CreatedAt          time.Time
}

// NewSegment is the input for creating one segment with its children.
type NewSegment struct {
	UnitNumber int
	Title      string
	Milestone  *string
	Goals      []string
	References []string
}

// NewTimeline is the input for creating a timeline row.
type NewTimeline struct {
	TypeID           string
	TimeUnitID       *string
	Duration         *int
	AuthorID         string
	Title            string
	Description      string
	IsPublic         bool
	EnableScheduling bool
}
