package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for store operations. These are part of the Store's
// public API; callers check them with errors.Is().
//
// Example:
//
//	thread, err := st.Thread(ctx, id)
//	if errors.Is(err, store.ErrThreadNotFound) {
//	    // 404
//	}
var (
	// ErrUserNotFound indicates no user matches the given id or username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrAgentNotFound indicates the agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentVersionNotFound indicates the requested agent version
	// snapshot does not exist.
	ErrAgentVersionNotFound = errors.New("agent version not found")

	// ErrThreadNotFound indicates the thread does not exist or is not
	// visible to the requesting user.
	ErrThreadNotFound = errors.New("thread not found")
)

// Postgres error codes we map to sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool {
	return isPgError(err, pgUniqueViolation)
}

func isForeignKeyViolation(err error) bool {
	return isPgError(err, pgForeignKeyViolation)
}
