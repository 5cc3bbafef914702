package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"waypoint/api/internal/auth"
	"waypoint/api/internal/search"
	"waypoint/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeSession(w, session)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Logout(r.Context(), claims, body.RefreshToken); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		user, err := s.service.GetUser(r.Context(), claims.Sub)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          user.ID,
			"email":       user.Email,
			"displayName": user.DisplayName,
			"credits":     user.Credits,
		})
		return
	}

	// Reference data
	if r.Method == http.MethodGet && r.URL.Path == "/api/timeline-types" {
		types, err := s.service.TimelineTypes(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timelineTypes": types})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/time-units" {
		units, err := s.service.TimeUnits(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timeUnits": units})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		response := s.service.SearchTimelines(search.Query{
			Text:           query.Get("q"),
			FilterTypeCode: query.Get("type"),
			Limit:          intQuery(query.Get("limit")),
			Offset:         intQuery(query.Get("offset")),
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "timelines" {
		s.handleTimelines(w, r, parts[2:])
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "segments" {
		s.handleSegments(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTimelines(w http.ResponseWriter, r *http.Request, rest []string) {
	// /api/timelines
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			requesterID := s.optionalUserID(r)
			query := r.URL.Query()
			views, err := s.service.ListPublicTimelines(r.Context(), requesterID, intQuery(query.Get("limit")), intQuery(query.Get("offset")))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"timelines": views})
		case http.MethodPost:
			claims, ok := s.requireClaims(w, r)
			if !ok {
				return
			}
			var input CreateTimelineInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			timeline, err := s.service.CreateTimeline(r.Context(), claims.Sub, input)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"timeline": timeline})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/timelines/mine
	if len(rest) == 1 && rest[0] == "mine" && r.Method == http.MethodGet {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		views, err := s.service.ListMyTimelines(r.Context(), claims.Sub)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timelines": views})
		return
	}

	timelineID := rest[0]

	// /api/timelines/{id}
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetTimelineView(r.Context(), s.optionalUserID(r), timelineID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"timeline": view})
		case http.MethodPut:
			claims, ok := s.requireClaims(w, r)
			if !ok {
				return
			}
			var input UpdateTimelineInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			timeline, err := s.service.UpdateTimeline(r.Context(), claims.Sub, timelineID, input)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"timeline": timeline})
		case http.MethodDelete:
			claims, ok := s.requireClaims(w, r)
			if !ok {
				return
			}
			if err := s.service.DeleteTimeline(r.Context(), claims.Sub, timelineID); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/timelines/{id}/forks
	if len(rest) == 2 && rest[1] == "forks" && r.Method == http.MethodGet {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		forks, err := s.service.ListTimelineForks(r.Context(), claims.Sub, timelineID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forks": forks})
		return
	}

	if len(rest) == 2 && r.Method == http.MethodPost {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		switch rest[1] {
		case "fork":
			forked, err := s.service.ForkTimeline(r.Context(), claims.Sub, timelineID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"timelineId": forked.ID})
			return
		case "segments":
			var input SegmentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.CreateSegment(r.Context(), claims.Sub, timelineID, input)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"segment": segmentView(detail, nil, true)})
			return
		case "generate":
			var body struct {
				Requirements string `json:"requirements"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			details, err := s.service.GenerateSegments(r.Context(), claims.Sub, timelineID, body.Requirements)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"segments": segmentViews(details)})
			return
		}
	}

	// /api/timelines/{id}/segments/bulk
	if len(rest) == 3 && rest[1] == "segments" && rest[2] == "bulk" && r.Method == http.MethodPost {
		claims, ok := s.requireClaims(w, r)
		if !ok {
			return
		}
		var body struct {
			Segments []SegmentInput `json:"segments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		details, err := s.service.CreateBulkSegments(r.Context(), claims.Sub, timelineID, body.Segments)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"segments": segmentViews(details)})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSegments(w http.ResponseWriter, r *http.Request, rest []string) {
	segmentID := rest[0]

	// Reads follow timeline visibility and need no session.
	if len(rest) == 1 && r.Method == http.MethodGet {
		view, err := s.service.GetSegmentView(r.Context(), s.optionalUserID(r), segmentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"segment": view})
		return
	}

	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodPut:
			var input SegmentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.UpdateSegment(r.Context(), claims.Sub, segmentID, input)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"segment": segmentView(detail, nil, true)})
		case http.MethodDelete:
			if err := s.service.DeleteSegment(r.Context(), claims.Sub, segmentID); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "schedule" && r.Method == http.MethodPut {
		var body struct {
			ScheduleDate time.Time `json:"scheduleDate"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.ScheduleDate.IsZero() {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "scheduleDate is required", nil)
			return
		}
		schedule, err := s.service.UpdateSegmentScheduleDate(r.Context(), claims.Sub, segmentID, body.ScheduleDate)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedule": scheduleBody(schedule.ScheduleDate, schedule.CompletedAt)})
		return
	}

	if len(rest) == 2 && rest[1] == "complete" && r.Method == http.MethodPost {
		schedule, err := s.service.MarkSegmentComplete(r.Context(), claims.Sub, segmentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedule": scheduleBody(schedule.ScheduleDate, schedule.CompletedAt)})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       user.ID,
		"userName":     user.DisplayName,
		"credits":      user.Credits,
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       user.ID,
		"userName":     user.DisplayName,
		"credits":      user.Credits,
	})
}

func (s *HTTPServer) requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	claims, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return auth.Claims{}, false
	}
	return claims, true
}

// optionalUserID resolves the requester for endpoints readable anonymously.
// Invalid tokens degrade to anonymous instead of failing the read.
func (s *HTTPServer) optionalUserID(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	claims, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		return ""
	}
	return claims.Sub
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeSession(w http.ResponseWriter, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
	})
}

func segmentViews(details []store.SegmentDetail) []SegmentView {
	views := make([]SegmentView, 0, len(details))
	for _, detail := range details {
		views = append(views, segmentView(detail, nil, true))
	}
	return views
}

func scheduleBody(scheduleDate, completedAt *time.Time) map[string]any {
	return map[string]any{
		"scheduleDate": scheduleDate,
		"completedAt":  completedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intQuery(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
