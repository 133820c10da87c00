package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/store"
)

const maxAgentNameLen = 100

// agentStore is the persistence surface consumed by the agent handlers.
type agentStore interface {
	CreateAgent(ctx context.Context, params store.CreateAgentParams) (*store.Agent, error)
	Agent(ctx context.Context, id uuid.UUID) (*store.Agent, error)
	AgentsByCreator(ctx context.Context, creatorID uuid.UUID, tag string) ([]*store.Agent, error)
	PublicAgents(ctx context.Context, tag string) ([]*store.Agent, error)
	UpdateAgent(ctx context.Context, a *store.Agent) error
	SnapshotAgentVersion(ctx context.Context, agentID uuid.UUID) (int, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
}

// agentHandler serves agent CRUD. All routes require authentication;
// detail, update and delete additionally require the caller to be the
// agent's creator.
type agentHandler struct {
	store  agentStore
	logger log.Logger
}

// agentConfigPayload is the client-facing config shape. Storage keys
// are snake_case; the API uses camelCase like the rest of the surface.
type agentConfigPayload struct {
	SystemPrompt string          `json:"systemPrompt"`
	RagConfig    json.RawMessage `json:"ragConfig"`
	McpConfig    json.RawMessage `json:"mcpConfig"`
}

type agentListItem struct {
	AgentID     string  `json:"agentId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Avatar      *string `json:"avatar"`
	Tag         *string `json:"tag"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type agentDetail struct {
	agentListItem
	Config agentConfigPayload `json:"config"`
}

type createAgentRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Tag         *string `json:"tag"`
	Avatar      *string `json:"avatar"`
}

// updateAgentRequest uses pointers throughout so absent fields are
// distinguishable from explicit nulls.
type updateAgentRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Avatar      *string `json:"avatar"`
	Tag         *string `json:"tag"`
	Config      *struct {
		SystemPrompt *string          `json:"systemPrompt"`
		RagConfig    *json.RawMessage `json:"ragConfig"`
		McpConfig    *json.RawMessage `json:"mcpConfig"`
	} `json:"config"`
}

func toAgentListItem(a *store.Agent) agentListItem {
	return agentListItem{
		AgentID:     a.ID.String(),
		Name:        a.Name,
		Description: a.Description,
		Avatar:      a.Avatar,
		Tag:         a.Tag,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toAgentDetail(a *store.Agent) agentDetail {
	return agentDetail{
		agentListItem: toAgentListItem(a),
		Config: agentConfigPayload{
			SystemPrompt: a.Config.SystemPrompt,
			RagConfig:    a.Config.RagConfig,
			McpConfig:    a.Config.McpConfig,
		},
	}
}

// validTag reports whether tag is one of the supported agent tags.
func validTag(tag string) bool {
	return slices.Contains(store.ValidTags, tag)
}

func invalidTagMessage() string {
	return fmt.Sprintf("Invalid tag. Supported: %s", strings.Join(store.ValidTags, ", "))
}

// listMine handles GET /api/agents/me with optional ?tag= filter.
func (h *agentHandler) listMine(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))

	if tag != "" && !validTag(tag) {
		writeError(w, http.StatusBadRequest, 4001, invalidTagMessage(), h.logger)
		return
	}

	agents, err := h.store.AgentsByCreator(r.Context(), p.UserID, tag)
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return
	}

	items := make([]agentListItem, 0, len(agents))
	for _, a := range agents {
		items = append(items, toAgentListItem(a))
	}
	writeOK(w, "ok", items, h.logger)
}

// listPublic handles GET /api/agents?status=public with optional ?tag=.
func (h *agentHandler) listPublic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") != store.StatusPublic {
		writeError(w, http.StatusBadRequest, 4001, "status=public is required to list all agents", h.logger)
		return
	}

	tag := strings.TrimSpace(r.URL.Query().Get("tag"))
	if tag != "" && !validTag(tag) {
		writeError(w, http.StatusBadRequest, 4001, invalidTagMessage(), h.logger)
		return
	}

	agents, err := h.store.PublicAgents(r.Context(), tag)
	if err != nil {
		h.logger.Error("failed to list public agents", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return
	}

	items := make([]agentListItem, 0, len(agents))
	for _, a := range agents {
		items = append(items, toAgentListItem(a))
	}
	writeOK(w, "ok", items, h.logger)
}

// create handles POST /api/agents. New agents start private with an
// empty system prompt.
func (h *agentHandler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 4001, "invalid request body", h.logger)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, 4001, "name is required", h.logger)
		return
	}
	if len([]rune(name)) > maxAgentNameLen {
		writeError(w, http.StatusBadRequest, 4001, "name must not exceed 100 characters", h.logger)
		return
	}

	tag := trimmedOrNil(req.Tag)
	if tag != nil && !validTag(*tag) {
		writeError(w, http.StatusBadRequest, 4001, invalidTagMessage(), h.logger)
		return
	}

	agent, err := h.store.CreateAgent(r.Context(), store.CreateAgentParams{
		Name:        name,
		Description: trimmedOrNil(req.Description),
		Avatar:      trimmedOrNil(req.Avatar),
		Tag:         tag,
		CreatorID:   p.UserID,
	})
	if err != nil {
		h.logger.Error("failed to create agent", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return
	}

	writeCreated(w, "create agent success", map[string]string{"agentId": agent.ID.String()}, h.logger)
}

// get handles GET /api/agents/{agentId}. Only the creator may read the
// full configuration.
func (h *agentHandler) get(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	agent, ok := h.loadOwned(w, r, p.UserID, "forbidden: only the agent creator can access")
	if !ok {
		return
	}

	writeOK(w, "ok", toAgentDetail(agent), h.logger)
}

// update handles PUT /api/agents/{agentId}. Config changes merge into
// the stored JSON; a changed system prompt bumps latest_version and
// snapshots into agent_versions.
func (h *agentHandler) update(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	agent, ok := h.loadOwned(w, r, p.UserID, "forbidden: only the agent creator can update")
	if !ok {
		return
	}

	var req updateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 4001, "invalid request body", h.logger)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, 4001, "name cannot be empty", h.logger)
			return
		}
		if len([]rune(name)) > maxAgentNameLen {
			writeError(w, http.StatusBadRequest, 4001, "name must not exceed 100 characters", h.logger)
			return
		}
		agent.Name = name
	}
	if req.Description != nil {
		agent.Description = trimmedOrNil(req.Description)
	}
	if req.Avatar != nil {
		agent.Avatar = trimmedOrNil(req.Avatar)
	}
	if req.Tag != nil {
		tag := trimmedOrNil(req.Tag)
		if tag != nil && !validTag(*tag) {
			writeError(w, http.StatusBadRequest, 4001, invalidTagMessage(), h.logger)
			return
		}
		agent.Tag = tag
	}

	promptChanged := false
	if req.Config != nil {
		if req.Config.SystemPrompt != nil && *req.Config.SystemPrompt != agent.Config.SystemPrompt {
			agent.Config.SystemPrompt = *req.Config.SystemPrompt
			promptChanged = true
		}
		if req.Config.RagConfig != nil {
			agent.Config.RagConfig = *req.Config.RagConfig
		}
		if req.Config.McpConfig != nil {
			agent.Config.McpConfig = *req.Config.McpConfig
		}
	}

	if err := h.store.UpdateAgent(r.Context(), agent); err != nil {
		h.logger.Error("failed to update agent", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return
	}

	if promptChanged {
		if _, err := h.store.SnapshotAgentVersion(r.Context(), agent.ID); err != nil {
			h.logger.Error("failed to snapshot agent version", "error", err, "agent_id", agent.ID)
			writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
			return
		}
	}

	writeOK(w, "update agent success", nil, h.logger)
}

// delete handles DELETE /api/agents/{agentId}. Threads bound to the
// agent cascade away with it.
func (h *agentHandler) delete(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	agent, ok := h.loadOwned(w, r, p.UserID, "forbidden: you can only delete your own agents")
	if !ok {
		return
	}

	if err := h.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		h.logger.Error("failed to delete agent", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return
	}

	writeOK(w, "delete agent success", nil, h.logger)
}

// loadOwned fetches the agent from the {agentId} path value and checks
// the caller is its creator, answering the error responses itself.
func (h *agentHandler) loadOwned(w http.ResponseWriter, r *http.Request, userID uuid.UUID, forbiddenMsg string) (*store.Agent, bool) {
	agentID, err := uuid.Parse(strings.TrimSpace(r.PathValue("agentId")))
	if err != nil {
		writeError(w, http.StatusBadRequest, 4001, "agentId is required", h.logger)
		return nil, false
	}

	agent, err := h.store.Agent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, 404, "agent not found", h.logger)
			return nil, false
		}
		h.logger.Error("failed to load agent", "error", err)
		writeError(w, http.StatusInternalServerError, 5000, "Internal server error", h.logger)
		return nil, false
	}

	if agent.CreatorID == nil || *agent.CreatorID != userID {
		writeError(w, http.StatusForbidden, 403, forbiddenMsg, h.logger)
		return nil, false
	}

	return agent, true
}

// trimmedOrNil trims a string pointer; empty results collapse to nil.
func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
