package app

import (
	"context"
	"net/http"
	"time"

	"waypoint/api/internal/auth"
	"waypoint/api/internal/authpw"
	"waypoint/api/internal/config"
	"waypoint/api/internal/refdata"
	"waypoint/api/internal/search"
	"waypoint/api/internal/session"
	"waypoint/api/internal/store"
	"waypoint/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	InTx(ctx context.Context, fn func(q store.DBTX) error) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	UpdateUserCredits(ctx context.Context, q store.DBTX, userID string, credits int) error

	InsertTimeline(ctx context.Context, q store.DBTX, input store.NewTimeline) (store.Timeline, error)
	GetTimeline(ctx context.Context, timelineID string) (store.Timeline, error)
	ListTimelinesByAuthor(ctx context.Context, authorID string) ([]store.Timeline, error)
	ListPublicTimelines(ctx context.Context, limit, offset int) ([]store.Timeline, error)
	UpdateTimeline(ctx context.Context, q store.DBTX, t store.Timeline) (store.Timeline, error)
	MarkTimelineGenerated(ctx context.Context, q store.DBTX, timelineID string) error
	DeleteTimeline(ctx context.Context, timelineID string) error

	GetForkByOriginalAndUser(ctx context.Context, originalTimelineID, userID string) (store.TimelineFork, error)
	GetForkByForkedTimeline(ctx context.Context, forkedTimelineID string) (store.TimelineFork, error)
	InsertFork(ctx context.Context, q store.DBTX, originalTimelineID, forkedTimelineID, forkedByID, forkedVersion string) (store.TimelineFork, error)
	ListForksOfTimeline(ctx context.Context, originalTimelineID string) ([]store.TimelineFork, error)

	InsertSegment(ctx context.Context, q store.DBTX, timelineID string, input store.NewSegment) (store.SegmentDetail, error)
	GetSegment(ctx context.Context, segmentID string) (store.Segment, error)
	GetSegmentByUnit(ctx context.Context, timelineID string, unitNumber int) (store.Segment, error)
	ListSegmentDetails(ctx context.Context, timelineID string) ([]store.SegmentDetail, error)
	ListUnitNumbers(ctx context.Context, timelineID string) ([]int, error)
	UpdateSegment(ctx context.Context, q store.DBTX, segmentID, title string, milestone *string, markForkModified bool) (store.Segment, error)
	ReplaceSegmentGoals(ctx context.Context, q store.DBTX, segmentID string, goals []string) ([]store.SegmentGoal, error)
	ReplaceSegmentReferences(ctx context.Context, q store.DBTX, segmentID string, references []string) ([]store.SegmentReference, error)
	DeleteSegment(ctx context.Context, segmentID string) error

	GetSchedule(ctx context.Context, segmentID string) (store.SegmentSchedule, error)
	UpsertScheduleDate(ctx context.Context, q store.DBTX, segmentID string, scheduleDate time.Time) (store.SegmentSchedule, error)
	MarkScheduleComplete(ctx context.Context, q store.DBTX, segmentID string) (store.SegmentSchedule, error)
	ListSchedulesForTimeline(ctx context.Context, timelineID string) (map[string]store.SegmentSchedule, error)
	PreviousSegmentIncomplete(ctx context.Context, timelineID string, unitNumber int) (bool, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type refdataCache interface {
	TimelineTypes(ctx context.Context) ([]store.TimelineType, error)
	TimeUnits(ctx context.Context) ([]store.TimeUnit, error)
	TimelineTypeByID(ctx context.Context, id string) (store.TimelineType, bool, error)
	TimeUnitByID(ctx context.Context, id string) (store.TimeUnit, bool, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTimeline(record search.TimelineRecord, isPublic bool)
	DeleteTimeline(id string)
}

type llmClient interface {
	Chat(ctx context.Context, instructions, data string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	accounts *authpw.Service
	sessions sessionStore
	refdata  refdataCache
	search   searchIndex
	llm      llmClient
}

func New(cfg config.Config, dataStore *store.PostgresStore, accounts *authpw.Service, sessions sessionStore, cache *refdata.Cache, searchSvc *search.Service, llmClient llmClient) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		accounts: accounts,
		sessions: sessions,
		refdata:  cache,
		search:   searchSvc,
		llm:      llmClient,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, store.User, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, store.User{}, domainError(http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return sess, user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, store.User, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, store.User{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return sess, user, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}

	refresh := util.NewSecret()
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.DisplayName, refreshExpiry); err != nil {
		return Session{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
	}

	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, translateStoreError(err, "user not found")
	}

	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

// Logout revokes both halves of a session.
func (s *Service) Logout(ctx context.Context, claims auth.Claims, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
		}
	}
	if err := s.sessions.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Exp, 0)); err != nil {
		return domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	return nil
}

// Authenticate parses a bearer token and rejects revoked sessions.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return auth.Claims{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return auth.Claims{}, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	if revoked {
		return auth.Claims{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "token revoked", nil)
	}
	return claims, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, translateStoreError(err, "user not found")
	}
	return user, nil
}

func (s *Service) TimelineTypes(ctx context.Context) ([]store.TimelineType, error) {
	types, err := s.refdata.TimelineTypes(ctx)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	return types, nil
}

func (s *Service) TimeUnits(ctx context.Context) ([]store.TimeUnit, error) {
	units, err := s.refdata.TimeUnits(ctx)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
	}
	return units, nil
}

// SearchTimelines queries the public timeline index.
func (s *Service) SearchTimelines(q search.Query) search.Response {
	return s.search.Search(q)
}
