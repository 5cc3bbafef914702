package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"waypoint/api/internal/config"
	"waypoint/api/internal/search"
	"waypoint/api/internal/session"
	"waypoint/api/internal/store"
)

type fakeStore struct {
	inTxFn                      func(context.Context, func(store.DBTX) error) error
	getUserByIDFn               func(context.Context, string) (store.User, error)
	updateUserCreditsFn         func(context.Context, store.DBTX, string, int) error
	insertTimelineFn            func(context.Context, store.DBTX, store.NewTimeline) (store.Timeline, error)
	getTimelineFn               func(context.Context, string) (store.Timeline, error)
	listTimelinesByAuthorFn     func(context.Context, string) ([]store.Timeline, error)
	listPublicTimelinesFn       func(context.Context, int, int) ([]store.Timeline, error)
	updateTimelineFn            func(context.Context, store.DBTX, store.Timeline) (store.Timeline, error)
	markTimelineGeneratedFn     func(context.Context, store.DBTX, string) error
	deleteTimelineFn            func(context.Context, string) error
	listForksOfTimelineFn       func(context.Context, string) ([]store.TimelineFork, error)
	getForkByOriginalAndUserFn  func(context.Context, string, string) (store.TimelineFork, error)
	getForkByForkedTimelineFn   func(context.Context, string) (store.TimelineFork, error)
	insertForkFn                func(context.Context, store.DBTX, string, string, string, string) (store.TimelineFork, error)
	insertSegmentFn             func(context.Context, store.DBTX, string, store.NewSegment) (store.SegmentDetail, error)
	getSegmentFn                func(context.Context, string) (store.Segment, error)
	getSegmentByUnitFn          func(context.Context, string, int) (store.Segment, error)
	listSegmentDetailsFn        func(context.Context, string) ([]store.SegmentDetail, error)
	listUnitNumbersFn           func(context.Context, string) ([]int, error)
	updateSegmentFn             func(context.Context, store.DBTX, string, string, *string, bool) (store.Segment, error)
	replaceSegmentGoalsFn       func(context.Context, store.DBTX, string, []string) ([]store.SegmentGoal, error)
	replaceSegmentReferencesFn  func(context.Context, store.DBTX, string, []string) ([]store.SegmentReference, error)
	deleteSegmentFn             func(context.Context, string) error
	getScheduleFn               func(context.Context, string) (store.SegmentSchedule, error)
	upsertScheduleDateFn        func(context.Context, store.DBTX, string, time.Time) (store.SegmentSchedule, error)
	markScheduleCompleteFn      func(context.Context, store.DBTX, string) (store.SegmentSchedule, error)
	listSchedulesForTimelineFn  func(context.Context, string) (map[string]store.SegmentSchedule, error)
	previousSegmentIncompleteFn func(context.Context, string, int) (bool, error)
}

func (f *fakeStore) InTx(ctx context.Context, fn func(q store.DBTX) error) error {
	if f.inTxFn != nil {
		return f.inTxFn(ctx, fn)
	}
	return fn(nil)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Credits: 10}, nil
}

func (f *fakeStore) UpdateUserCredits(ctx context.Context, q store.DBTX, userID string, credits int) error {
	if f.updateUserCreditsFn != nil {
		return f.updateUserCreditsFn(ctx, q, userID, credits)
	}
	return nil
}

func (f *fakeStore) InsertTimeline(ctx context.Context, q store.DBTX, input store.NewTimeline) (store.Timeline, error) {
	if f.insertTimelineFn != nil {
		return f.insertTimelineFn(ctx, q, input)
	}
	return store.Timeline{
		ID:               "tl_new",
		TypeID:           input.TypeID,
		TimeUnitID:       input.TimeUnitID,
		Duration:         input.Duration,
		AuthorID:         input.AuthorID,
		Title:            input.Title,
		Description:      input.Description,
		IsPublic:         input.IsPublic,
		EnableScheduling: input.EnableScheduling,
		Version:          "1.0.0",
	}, nil
}

func (f *fakeStore) GetTimeline(ctx context.Context, timelineID string) (store.Timeline, error) {
	if f.getTimelineFn != nil {
		return f.getTimelineFn(ctx, timelineID)
	}
	return store.Timeline{}, sql.ErrNoRows
}

func (f *fakeStore) ListTimelinesByAuthor(ctx context.Context, authorID string) ([]store.Timeline, error) {
	if f.listTimelinesByAuthorFn != nil {
		return f.listTimelinesByAuthorFn(ctx, authorID)
	}
	return nil, nil
}

func (f *fakeStore) ListPublicTimelines(ctx context.Context, limit, offset int) ([]store.Timeline, error) {
	if f.listPublicTimelinesFn != nil {
		return f.listPublicTimelinesFn(ctx, limit, offset)
	}
	return nil, nil
}

func (f *fakeStore) UpdateTimeline(ctx context.Context, q store.DBTX, t store.Timeline) (store.Timeline, error) {
	if f.updateTimelineFn != nil {
		return f.updateTimelineFn(ctx, q, t)
	}
	return t, nil
}

func (f *fakeStore) MarkTimelineGenerated(ctx context.Context, q store.DBTX, timelineID string) error {
	if f.markTimelineGeneratedFn != nil {
		return f.markTimelineGeneratedFn(ctx, q, timelineID)
	}
	return nil
}

func (f *fakeStore) DeleteTimeline(ctx context.Context, timelineID string) error {
	if f.deleteTimelineFn != nil {
		return f.deleteTimelineFn(ctx, timelineID)
	}
	return nil
}

func (f *fakeStore) ListForksOfTimeline(ctx context.Context, originalTimelineID string) ([]store.TimelineFork, error) {
	if f.listForksOfTimelineFn != nil {
		return f.listForksOfTimelineFn(ctx, originalTimelineID)
	}
	return nil, nil
}

func (f *fakeStore) GetForkByOriginalAndUser(ctx context.Context, originalTimelineID, userID string) (store.TimelineFork, error) {
	if f.getForkByOriginalAndUserFn != nil {
		return f.getForkByOriginalAndUserFn(ctx, originalTimelineID, userID)
	}
	return store.TimelineFork{}, sql.ErrNoRows
}

func (f *fakeStore) GetForkByForkedTimeline(ctx context.Context, forkedTimelineID string) (store.TimelineFork, error) {
	if f.getForkByForkedTimelineFn != nil {
		return f.getForkByForkedTimelineFn(ctx, forkedTimelineID)
	}
	return store.TimelineFork{}, sql.ErrNoRows
}

func (f *fakeStore) InsertFork(ctx context.Context, q store.DBTX, originalTimelineID, forkedTimelineID, forkedByID, forkedVersion string) (store.TimelineFork, error) {
	if f.insertForkFn != nil {
		return f.insertForkFn(ctx, q, originalTimelineID, forkedTimelineID, forkedByID, forkedVersion)
	}
	return store.TimelineFork{
		ID:                 "fork_new",
		OriginalTimelineID: originalTimelineID,
		ForkedTimelineID:   forkedTimelineID,
		ForkedByID:         forkedByID,
		ForkedVersion:      forkedVersion,
	}, nil
}

func (f *fakeStore) InsertSegment(ctx context.Context, q store.DBTX, timelineID string, input store.NewSegment) (store.SegmentDetail, error) {
	if f.insertSegmentFn != nil {
		return f.insertSegmentFn(ctx, q, timelineID, input)
	}
	return store.SegmentDetail{Segment: store.Segment{ID: "seg_new", TimelineID: timelineID, UnitNumber: input.UnitNumber, Title: input.Title}}, nil
}

func (f *fakeStore) GetSegment(ctx context.Context, segmentID string) (store.Segment, error) {
	if f.getSegmentFn != nil {
		return f.getSegmentFn(ctx, segmentID)
	}
	return store.Segment{}, sql.ErrNoRows
}

func (f *fakeStore) GetSegmentByUnit(ctx context.Context, timelineID string, unitNumber int) (store.Segment, error) {
	if f.getSegmentByUnitFn != nil {
		return f.getSegmentByUnitFn(ctx, timelineID, unitNumber)
	}
	return store.Segment{}, sql.ErrNoRows
}

func (f *fakeStore) ListSegmentDetails(ctx context.Context, timelineID string) ([]store.SegmentDetail, error) {
	if f.listSegmentDetailsFn != nil {
		return f.listSegmentDetailsFn(ctx, timelineID)
	}
	return nil, nil
}

func (f *fakeStore) ListUnitNumbers(ctx context.Context, timelineID string) ([]int, error) {
	if f.listUnitNumbersFn != nil {
		return f.listUnitNumbersFn(ctx, timelineID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateSegment(ctx context.Context, q store.DBTX, segmentID, title string, milestone *string, markForkModified bool) (store.Segment, error) {
	if f.updateSegmentFn != nil {
		return f.updateSegmentFn(ctx, q, segmentID, title, milestone, markForkModified)
	}
	return store.Segment{ID: segmentID, Title: title, Milestone: milestone}, nil
}

func (f *fakeStore) ReplaceSegmentGoals(ctx context.Context, q store.DBTX, segmentID string, goals []string) ([]store.SegmentGoal, error) {
	if f.replaceSegmentGoalsFn != nil {
		return f.replaceSegmentGoalsFn(ctx, q, segmentID, goals)
	}
	return nil, nil
}

func (f *fakeStore) ReplaceSegmentReferences(ctx context.Context, q store.DBTX, segmentID string, references []string) ([]store.SegmentReference, error) {
	if f.replaceSegmentReferencesFn != nil {
		return f.replaceSegmentReferencesFn(ctx, q, segmentID, references)
	}
	return nil, nil
}

func (f *fakeStore) DeleteSegment(ctx context.Context, segmentID string) error {
	if f.deleteSegmentFn != nil {
		return f.deleteSegmentFn(ctx, segmentID)
	}
	return nil
}

func (f *fakeStore) GetSchedule(ctx context.Context, segmentID string) (store.SegmentSchedule, error) {
	if f.getScheduleFn != nil {
		return f.getScheduleFn(ctx, segmentID)
	}
	return store.SegmentSchedule{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertScheduleDate(ctx context.Context, q store.DBTX, segmentID string, scheduleDate time.Time) (store.SegmentSchedule, error) {
	if f.upsertScheduleDateFn != nil {
		return f.upsertScheduleDateFn(ctx, q, segmentID, scheduleDate)
	}
	return store.SegmentSchedule{ID: "sch_new", SegmentID: segmentID, ScheduleDate: &scheduleDate}, nil
}

func (f *fakeStore) MarkScheduleComplete(ctx context.Context, q store.DBTX, segmentID string) (store.SegmentSchedule, error) {
	if f.markScheduleCompleteFn != nil {
		return f.markScheduleCompleteFn(ctx, q, segmentID)
	}
	now := time.Now()
	return store.SegmentSchedule{ID: "sch_new", SegmentID: segmentID, CompletedAt: &now}, nil
}

func (f *fakeStore) ListSchedulesForTimeline(ctx context.Context, timelineID string) (map[string]store.SegmentSchedule, error) {
	if f.listSchedulesForTimelineFn != nil {
		return f.listSchedulesForTimelineFn(ctx, timelineID)
	}
	return map[string]store.SegmentSchedule{}, nil
}

func (f *fakeStore) PreviousSegmentIncomplete(ctx context.Context, timelineID string, unitNumber int) (bool, error) {
	if f.previousSegmentIncompleteFn != nil {
		return f.previousSegmentIncompleteFn(ctx, timelineID, unitNumber)
	}
	return false, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeRefdata struct {
	types map[string]store.TimelineType
	units map[string]store.TimeUnit
}

func (f *fakeRefdata) TimelineTypes(ctx context.Context) ([]store.TimelineType, error) {
	out := make([]store.TimelineType, 0, len(f.types))
	for _, t := range f.types {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRefdata) TimeUnits(ctx context.Context) ([]store.TimeUnit, error) {
	out := make([]store.TimeUnit, 0, len(f.units))
	for _, u := range f.units {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRefdata) TimelineTypeByID(ctx context.Context, id string) (store.TimelineType, bool, error) {
	t, ok := f.types[id]
	return t, ok, nil
}

func (f *fakeRefdata) TimeUnitByID(ctx context.Context, id string) (store.TimeUnit, bool, error) {
	u, ok := f.units[id]
	return u, ok, nil
}

type fakeSearch struct {
	indexed []search.TimelineRecord
	deleted []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexTimeline(record search.TimelineRecord, isPublic bool) {
	if isPublic {
		f.indexed = append(f.indexed, record)
	} else {
		f.deleted = append(f.deleted, record.ID)
	}
}

func (f *fakeSearch) DeleteTimeline(id string) {
	f.deleted = append(f.deleted, id)
}

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Chat(ctx context.Context, instructions, data string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeSessions struct {
	refresh map[string]session.TokenData
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]session.TokenData{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error {
	f.refresh[tokenHash] = session.TokenData{UserID: userID, DisplayName: displayName}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error) {
	data, ok := f.refresh[tokenHash]
	if !ok {
		return session.TokenData{}, errors.New("token not found or expired")
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

const (
	typeRoadmap   = "tt_roadmap"
	typeChronicle = "tt_chronicle"
	unitDaily     = "tu_daily"
)

func testRefdata() *fakeRefdata {
	return &fakeRefdata{
		types: map[string]store.TimelineType{
			typeRoadmap: {
				ID:                 typeRoadmap,
				Code:               "ROADMAP",
				NeedsTimeUnit:      true,
				NeedsDuration:      true,
				SupportsScheduling: true,
				SupportsGeneration: true,
			},
			typeChronicle: {ID: typeChronicle, Code: "CHRONICLE"},
		},
		units: map[string]store.TimeUnit{
			unitDaily: {ID: unitDaily, Code: "DAILY", DurationInSeconds: 86400},
		},
	}
}

func newTestService(fs *fakeStore) (*Service, *fakeLLM, *fakeSearch) {
	llmFake := &fakeLLM{}
	searchFake := &fakeSearch{}
	svc := &Service{
		cfg: config.Config{
			JWTSecret:      "test-secret",
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     30 * 24 * time.Hour,
			GenerationCost: 2,
		},
		store:    fs,
		sessions: newFakeSessions(),
		refdata:  testRefdata(),
		search:   searchFake,
		llm:      llmFake,
	}
	return svc, llmFake, searchFake
}

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func roadmapTimeline(id, authorID string, duration int, public bool) store.Timeline {
	return store.Timeline{
		ID:               id,
		TypeID:           typeRoadmap,
		TimeUnitID:       strPtr(unitDaily),
		Duration:         intPtr(duration),
		AuthorID:         authorID,
		Title:            "Learn Go",
		Description:      "A plan",
		IsPublic:         public,
		EnableScheduling: true,
		Version:          "1.0.0",
	}
}

func TestCreateTimelineValidatesTypeRules(t *testing.T) {
	fs := &fakeStore{}
	svc, _, _ := newTestService(fs)
	ctx := context.Background()

	_, err := svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{TypeID: "tt_unknown", Title: "X"})
	assertDomainError(t, err, 400, "BAD_REQUEST")

	_, err = svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{TypeID: typeRoadmap, Title: "X", Duration: intPtr(3)})
	assertDomainError(t, err, 400, "BAD_REQUEST") // missing time unit

	_, err = svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{TypeID: typeRoadmap, Title: "X", TimeUnitID: strPtr(unitDaily)})
	assertDomainError(t, err, 400, "BAD_REQUEST") // missing duration

	_, err = svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{TypeID: typeChronicle, Title: "X", EnableScheduling: true})
	assertDomainError(t, err, 400, "BAD_REQUEST") // type does not support scheduling

	created, err := svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{
		TypeID: typeRoadmap, Title: "X", TimeUnitID: strPtr(unitDaily), Duration: intPtr(3), EnableScheduling: true,
	})
	if err != nil {
		t.Fatalf("CreateTimeline: %v", err)
	}
	if created.AuthorID != "user_1" {
		t.Fatalf("unexpected author: %s", created.AuthorID)
	}
}

func TestCreateTimelineIndexesPublicOnly(t *testing.T) {
	fs := &fakeStore{}
	svc, _, searchFake := newTestService(fs)
	ctx := context.Background()

	_, err := svc.CreateTimeline(ctx, "user_1", CreateTimelineInput{
		TypeID: typeRoadmap, Title: "Public", TimeUnitID: strPtr(unitDaily), Duration: intPtr(3), IsPublic: true,
	})
	if err != nil {
		t.Fatalf("CreateTimeline: %v", err)
	}
	if len(searchFake.indexed) != 1 {
		t.Fatalf("expected 1 indexed record, got %d", len(searchFake.indexed))
	}
	if searchFake.indexed[0].TypeCode != "ROADMAP" {
		t.Fatalf("expected type code in record, got %q", searchFake.indexed[0].TypeCode)
	}
}

func TestGetTimelineViewHidesPrivateFromStrangers(t *testing.T) {
	fs := &fakeStore{
		getTimelineFn: func(ctx context.Context, id string) (store.Timeline, error) {
			return roadmapTimeline(id, "author_1", 3, false), nil
		},
	}
	svc, _, _ := newTestService(fs)

	_, err := svc.GetTimelineView(context.Background(), "stranger", "tl_1")
	assertDomainError(t, err, 404, "NOT_FOUND")

	view, err := svc.GetTimelineView(context.Background(), "author_1", "tl_1")
	if err != nil {
		t.Fatalf("author view: %v", err)
	}
	if !view.IsAuthor {
		t.Fatal("expected IsAuthor for the author")
	}
}

func TestGetTimelineViewAttachesSchedulingForAuthorOnly(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		getTimelineFn: func(ctx context.Context, id string) (store.Timeline, error) {
			return roadmapTimeline(id, "author_1", 1, true), nil
		},
		listSegmentDetailsFn: func(ctx context.Context, id string) ([]store.SegmentDetail, error) {
			return []store.SegmentDetail{{Segment: store.Segment{ID: "seg_1", UnitNumber: 1, Title: "One"}}}, nil
		},
		listSchedulesForTimelineFn: func(ctx context.Context, id string) (map[string]store.SegmentSchedule, error) {
			return map[string]store.SegmentSchedule{
				"seg_1": {SegmentID: "seg_1", ScheduleDate: timePtr(now)},
			}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	authorView, err := svc.GetTimelineView(context.Background(), "author_1", "tl_1")
	if err != nil {
		t.Fatalf("author view: %v", err)
	}
	if authorView.Segments[0].Scheduling == nil {
		t.Fatal("expected scheduling attached for author")
	}

	publicView, err := svc.GetTimelineView(context.Background(), "stranger", "tl_1")
	if err != nil {
		t.Fatalf("public view: %v", err)
	}
	if publicView.Segments[0].Scheduling != nil {
		t.Fatal("expected no scheduling for strangers")
	}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d %s, got nil", status, code)
	}
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if derr.Status != status || derr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, derr.Status, derr.Code, derr.Message)
	}
}
