package session

import (
	"context"
	"time"

	"waypoint/api/internal/store"
)

// PGStore adapts the Postgres-backed session tables to the same interface the
// Redis store exposes, for deployments without Redis.
type PGStore struct {
	store *store.PostgresStore
}

func NewPGStore(s *store.PostgresStore) *PGStore {
	return &PGStore{store: s}
}

func (s *PGStore) SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error {
	return s.store.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (s *PGStore) LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error) {
	user, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return TokenData{}, err
	}
	return TokenData{UserID: user.ID, DisplayName: user.DisplayName}, nil
}

func (s *PGStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

func (s *PGStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.store.RevokeAccessToken(ctx, jti, expiresAt)
}

func (s *PGStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.store.IsAccessTokenRevoked(ctx, jti)
}
