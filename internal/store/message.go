package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = "id, thread_id, role, content, token, created_at"

// AppendMessage inserts a message and advances the thread's updated_at
// in one transaction. id may be preallocated by the caller (the relay
// announces the assistant message id before streaming); uuid.Nil means
// generate one.
func (s *Store) AppendMessage(ctx context.Context, id uuid.UUID, threadID, role, content string, token int) (*Message, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO messages (id, thread_id, role, content, token)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		id, threadID, role, content, token)

	m, err := scanMessage(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE threads SET updated_at = now() WHERE id = $1", threadID); err != nil {
		return nil, fmt.Errorf("touch thread %s: %w", threadID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return m, nil
}

// Messages returns the full history of a thread, oldest first.
func (s *Store) Messages(ctx context.Context, threadID string) ([]*Message, error) {
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = $1 ORDER BY created_at ASC",
		threadID)
}

// History returns the most recent limit messages of a thread in
// chronological order, excluding the message with excludeID. The relay
// uses this to assemble provider context without the just-persisted
// user turn.
func (s *Store) History(ctx context.Context, threadID string, excludeID uuid.UUID, limit int) ([]*Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM (
		     SELECT `+messageColumns+` FROM messages
		     WHERE thread_id = $1 AND id != $2
		     ORDER BY created_at DESC
		     LIMIT $3
		 ) recent
		 ORDER BY created_at ASC`,
		threadID, excludeID, limit)
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Token, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
