package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListTimelineTypes(ctx context.Context) ([]TimelineType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, COALESCE(description, ''), needs_time_unit, needs_duration, supports_scheduling, supports_generation
		FROM timeline_types
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list timeline types: %w", err)
	}
	defer rows.Close()

	items := make([]TimelineType, 0)
	for rows.Next() {
		var item TimelineType
		if err := rows.Scan(
			&item.ID,
			&item.Code,
			&item.Description,
			&item.NeedsTimeUnit,
			&item.NeedsDuration,
			&item.SupportsScheduling,
			&item.SupportsGeneration,
		); err != nil {
			return nil, fmt.Errorf("scan timeline type: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTimeUnits(ctx context.Context) ([]TimeUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, COALESCE(description, ''), COALESCE(duration_in_seconds, 0)
		FROM time_units
		ORDER BY duration_in_seconds
	`)
	if err != nil {
		return nil, fmt.Errorf("list time units: %w", err)
	}
	defer rows.Close()

	items := make([]TimeUnit, 0)
	for rows.Next() {
		var item TimeUnit
		if err := rows.Scan(&item.ID, &item.Code, &item.Description, &item.DurationInSeconds); err != nil {
			return nil, fmt.Errorf("scan time unit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time units: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.credits
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Credits)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
