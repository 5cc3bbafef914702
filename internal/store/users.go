package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash, displayName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, display_name, credits, created_at, updated_at
	`, email, passwordHash, displayName).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, credits, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, credits, created_at, updated_at
		FROM users
		WHERE email=$1
	`, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateUserCredits sets the balance to an absolute value. It takes a DBTX so
// the generation flow can debit credits in the same transaction that creates
// the generated segments.
func (s *PostgresStore) UpdateUserCredits(ctx context.Context, q DBTX, userID string, credits int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE users SET credits=$2, updated_at=NOW() WHERE id=$1
	`, userID, credits)
	if err != nil {
		return fmt.Errorf("update user credits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user credits rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update user credits: user %s not found", userID)
	}
	return nil
}
