package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// clientErrorPrefix tags messages raised by database triggers that should be
// surfaced to the caller instead of being treated as internal failures.
const clientErrorPrefix = "CLIENT_ERROR:"

// translateStoreError maps storage failures onto the domain error taxonomy.
// Unique violations back the application-level duplicate checks under
// concurrency, and trigger-raised client errors keep their message. Anything
// unrecognized is an internal error.
func translateStoreError(err error, notFoundMessage string) *DomainError {
	if err == nil {
		return nil
	}

	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}

	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", notFoundMessage, nil)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "segments_timeline_id_unit_number_key":
				return domainError(http.StatusBadRequest, "DUPLICATE_UNIT_NUMBER", "segment with this unit number already exists", nil)
			case "timeline_forks_original_timeline_id_forked_by_id_key":
				return domainError(http.StatusForbidden, "DUPLICATE_FORK", "timeline already forked by this user", nil)
			case "users_email_key":
				return domainError(http.StatusBadRequest, "EMAIL_TAKEN", "email already registered", nil)
			}
			return domainError(http.StatusConflict, "CONFLICT", "resource already exists", nil)
		case "P0001": // raise_exception
			if msg, ok := strings.CutPrefix(pgErr.Message, clientErrorPrefix); ok {
				return domainError(http.StatusBadRequest, "BAD_REQUEST", strings.TrimSpace(msg), nil)
			}
		}
	}

	return domainError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error(), nil)
}
