package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agentColumns = "id, name, description, avatar, tag, status, config, creator_id, latest_version, created_at, updated_at"

// CreateAgentParams are the caller-supplied fields for a new agent.
// Status starts private and the config starts with an empty system
// prompt; version 1 is snapshotted immediately.
type CreateAgentParams struct {
	Name        string
	Description *string
	Avatar      *string
	Tag         *string
	CreatorID   uuid.UUID
}

// CreateAgent inserts a new private agent together with its initial
// version snapshot.
func (s *Store) CreateAgent(ctx context.Context, params CreateAgentParams) (*Agent, error) {
	cfg, err := json.Marshal(AgentConfig{SystemPrompt: ""})
	if err != nil {
		return nil, fmt.Errorf("marshal agent config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO agents (name, description, avatar, tag, status, config, creator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+agentColumns,
		params.Name, params.Description, params.Avatar, params.Tag,
		StatusPrivate, cfg, params.CreatorID)

	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agent_versions (agent_id, version, description, system_prompt)
		 VALUES ($1, 1, $2, '')`,
		a.ID, params.Description)
	if err != nil {
		return nil, fmt.Errorf("snapshot agent version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("created agent", "agent_id", a.ID, "name", a.Name)
	return a, nil
}

// Agent retrieves an agent by id.
func (s *Store) Agent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = $1", id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// AgentsByCreator lists the agents created by a user, newest update
// first. tag filters when non-empty.
func (s *Store) AgentsByCreator(ctx context.Context, creatorID uuid.UUID, tag string) ([]*Agent, error) {
	sql := "SELECT " + agentColumns + " FROM agents WHERE creator_id = $1"
	args := []any{creatorID}
	if tag != "" {
		sql += " AND tag = $2"
		args = append(args, tag)
	}
	sql += " ORDER BY updated_at DESC"

	return s.queryAgents(ctx, sql, args...)
}

// PublicAgents lists published agents, newest update first. tag
// filters when non-empty.
func (s *Store) PublicAgents(ctx context.Context, tag string) ([]*Agent, error) {
	sql := "SELECT " + agentColumns + " FROM agents WHERE status = $1"
	args := []any{StatusPublic}
	if tag != "" {
		sql += " AND tag = $2"
		args = append(args, tag)
	}
	sql += " ORDER BY updated_at DESC"

	return s.queryAgents(ctx, sql, args...)
}

// UpdateAgent writes all mutable fields of an agent. The caller loads
// the agent, applies changes in memory (including the config merge),
// then persists it here.
func (s *Store) UpdateAgent(ctx context.Context, a *Agent) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET name = $2, description = $3, avatar = $4, tag = $5, status = $6, config = $7
		 WHERE id = $1`,
		a.ID, a.Name, a.Description, a.Avatar, a.Tag, a.Status, cfg)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	s.logger.Debug("updated agent", "agent_id", a.ID)
	return nil
}

// SnapshotAgentVersion bumps latest_version and records the agent's
// current prompt as a new immutable snapshot. Returns the new version.
func (s *Store) SnapshotAgentVersion(ctx context.Context, agentID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int
	err = tx.QueryRow(ctx,
		`UPDATE agents SET latest_version = latest_version + 1
		 WHERE id = $1
		 RETURNING latest_version`,
		agentID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAgentNotFound
		}
		return 0, fmt.Errorf("bump agent version: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agent_versions (agent_id, version, description, system_prompt)
		 SELECT id, $2, description, config->>'system_prompt'
		 FROM agents WHERE id = $1`,
		agentID, version)
	if err != nil {
		return 0, fmt.Errorf("snapshot agent version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("snapshotted agent version", "agent_id", agentID, "version", version)
	return version, nil
}

// AgentVersionSnapshot retrieves one version snapshot of an agent.
func (s *Store) AgentVersionSnapshot(ctx context.Context, agentID uuid.UUID, version int) (*AgentVersion, error) {
	var av AgentVersion
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, version, description, system_prompt, created_at
		 FROM agent_versions WHERE agent_id = $1 AND version = $2`,
		agentID, version).
		Scan(&av.AgentID, &av.Version, &av.Description, &av.SystemPrompt, &av.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentVersionNotFound
		}
		return nil, fmt.Errorf("get agent %s version %d: %w", agentID, version, err)
	}
	return &av, nil
}

// SystemPrompt resolves the prompt for an agent at a bound version,
// falling back to the agent's current config when the snapshot is
// missing. Returns "" (not an error) when no prompt is configured.
func (s *Store) SystemPrompt(ctx context.Context, agentID uuid.UUID, version int) (string, error) {
	var prompt string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(av.system_prompt, a.config->>'system_prompt', '')
		 FROM agents a
		 LEFT JOIN agent_versions av ON av.agent_id = a.id AND av.version = $2
		 WHERE a.id = $1`,
		agentID, version).Scan(&prompt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAgentNotFound
		}
		return "", fmt.Errorf("get system prompt for agent %s: %w", agentID, err)
	}
	return prompt, nil
}

// DeleteAgent removes an agent. Threads bound to it, their messages
// and the version snapshots go with it via cascade.
func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, "DELETE FROM agents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	s.logger.Debug("deleted agent", "agent_id", id)
	return nil
}

func (s *Store) queryAgents(ctx context.Context, sql string, args ...any) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var (
		a   Agent
		cfg []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Avatar, &a.Tag,
		&a.Status, &cfg, &a.CreatorID, &a.LatestVersion, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
			return nil, fmt.Errorf("unmarshal agent config: %w", err)
		}
	}
	return &a, nil
}
