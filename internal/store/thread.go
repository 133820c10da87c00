package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const threadColumns = "id, user_id, agent_id, title, is_debug, agent_version, created_at, updated_at"

// EnsureThread returns the thread with the given id, creating it when
// it does not exist yet. A new thread is bound to the agent's current
// latest_version, fixing the prompt snapshot the conversation will use.
// The title of a new thread is the opening message truncated by the
// caller. A thread owned by another user is reported as
// ErrThreadNotFound; a missing agent as ErrAgentNotFound.
func (s *Store) EnsureThread(ctx context.Context, id string, userID, agentID uuid.UUID, title string) (*Thread, bool, error) {
	th, err := s.Thread(ctx, id)
	switch {
	case err == nil:
		if th.UserID != userID {
			return nil, false, ErrThreadNotFound
		}
		return th, false, nil
	case !errors.Is(err, ErrThreadNotFound):
		return nil, false, err
	}

	// INSERT ... SELECT reads latest_version in the same statement; a
	// missing agent yields zero rows.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO threads (id, user_id, agent_id, title, agent_version)
		 SELECT $1, $2, id, $4, latest_version FROM agents WHERE id = $3
		 RETURNING `+threadColumns,
		id, userID, agentID, title)

	th, err = scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrAgentNotFound
		}
		return nil, false, fmt.Errorf("create thread %s: %w", id, err)
	}

	s.logger.Debug("created thread",
		"thread_id", th.ID, "agent_id", agentID, "agent_version", th.AgentVersion)
	return th, true, nil
}

// EnsureDebugThread is EnsureThread for simulated streams. New threads
// are marked is_debug; if the user already has a debug thread for this
// agent under a different id, that existing thread is reused.
func (s *Store) EnsureDebugThread(ctx context.Context, id string, userID, agentID uuid.UUID, title string) (*Thread, bool, error) {
	th, err := s.Thread(ctx, id)
	switch {
	case err == nil:
		if th.UserID != userID {
			return nil, false, ErrThreadNotFound
		}
		return th, false, nil
	case !errors.Is(err, ErrThreadNotFound):
		return nil, false, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO threads (id, user_id, agent_id, title, is_debug, agent_version)
		 SELECT $1, $2, id, $4, TRUE, latest_version FROM agents WHERE id = $3
		 RETURNING `+threadColumns,
		id, userID, agentID, title)

	th, err = scanThread(row)
	switch {
	case err == nil:
		s.logger.Debug("created debug thread",
			"thread_id", th.ID, "agent_id", agentID, "agent_version", th.AgentVersion)
		return th, true, nil
	case isUniqueViolation(err):
		// One debug thread per (user, agent); fall back to it.
		th, err = s.debugThread(ctx, userID, agentID)
		if err != nil {
			return nil, false, err
		}
		return th, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, ErrAgentNotFound
	default:
		return nil, false, fmt.Errorf("create debug thread %s: %w", id, err)
	}
}

func (s *Store) debugThread(ctx context.Context, userID, agentID uuid.UUID) (*Thread, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE user_id = $1 AND agent_id = $2 AND is_debug",
		userID, agentID)

	th, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("get debug thread: %w", err)
	}
	return th, nil
}

// Thread retrieves a thread by id.
func (s *Store) Thread(ctx context.Context, id string) (*Thread, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE id = $1", id)

	th, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return th, nil
}

// UserThread retrieves a thread only when it belongs to userID.
func (s *Store) UserThread(ctx context.Context, id string, userID uuid.UUID) (*Thread, error) {
	th, err := s.Thread(ctx, id)
	if err != nil {
		return nil, err
	}
	if th.UserID != userID {
		return nil, ErrThreadNotFound
	}
	return th, nil
}

// Threads lists a user's conversations, most recently active first.
// Debug threads are excluded.
func (s *Store) Threads(ctx context.Context, userID uuid.UUID) ([]*Thread, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+threadColumns+" FROM threads WHERE user_id = $1 AND NOT is_debug ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

// TouchThread advances a thread's updated_at so it sorts to the top of
// the listing.
func (s *Store) TouchThread(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx,
		"UPDATE threads SET updated_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch thread %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// DeleteThread removes a user's thread and, via cascade, its messages.
func (s *Store) DeleteThread(ctx context.Context, id string, userID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx,
		"DELETE FROM threads WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrThreadNotFound
	}

	s.logger.Debug("deleted thread", "thread_id", id)
	return nil
}

func scanThread(row pgx.Row) (*Thread, error) {
	var th Thread
	err := row.Scan(&th.ID, &th.UserID, &th.AgentID, &th.Title, &th.IsDebug,
		&th.AgentVersion, &th.CreatedAt, &th.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &th, nil
}
