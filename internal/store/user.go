package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = "id, username, password, avatar, created_at, updated_at"

// CreateUser registers a new account. passwordHash must already be a
// bcrypt hash. Returns ErrUsernameTaken on duplicate username.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, avatar *string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password, avatar)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		username, passwordHash, avatar)

	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Debug("created user", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// User retrieves an account by id.
func (s *Store) User(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// UserByUsername retrieves an account by username, hash included, for
// login verification.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
