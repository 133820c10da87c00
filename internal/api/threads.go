package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/store"
)

// threadAgentStore is the persistence surface for the thread agent
// display endpoint.
type threadAgentStore interface {
	Thread(ctx context.Context, id string) (*store.Thread, error)
	Agent(ctx context.Context, id uuid.UUID) (*store.Agent, error)
	AgentVersionSnapshot(ctx context.Context, agentID uuid.UUID, version int) (*store.AgentVersion, error)
}

// threadHandler serves thread metadata lookups.
type threadHandler struct {
	store  threadAgentStore
	logger log.Logger
}

// threadAgentDisplay describes the agent version bound to a thread, for
// conversation-page display. The prompt shown is the snapshot the
// thread actually converses with, not the agent's latest draft.
type threadAgentDisplay struct {
	AgentID         string  `json:"agentId"`
	AgentVersion    int     `json:"agentVersion"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	Avatar          *string `json:"avatar"`
	Tag             *string `json:"tag"`
	SystemPrompt    string  `json:"systemPrompt"`
	IsLatestVersion bool    `json:"isLatestVersion"`
	LatestVersion   int     `json:"latestVersion"`
}

// agent handles GET /api/threads/{threadId}/agent. Any authenticated
// caller may resolve a thread's agent; ownership is not required.
// Debug threads are invisible here.
func (h *threadHandler) agent(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.PathValue("threadId"))
	if threadID == "" {
		writeError(w, http.StatusBadRequest, 400, "threadId is required", h.logger)
		return
	}

	thread, err := h.store.Thread(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			writeError(w, http.StatusNotFound, 404, "Thread not found", h.logger)
			return
		}
		h.logger.Error("failed to load thread", "error", err, "thread_id", threadID)
		writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
		return
	}
	if thread.IsDebug {
		writeError(w, http.StatusNotFound, 404, "Thread not found", h.logger)
		return
	}

	agent, err := h.store.Agent(r.Context(), thread.AgentID)
	if err != nil {
		h.respondAgentError(w, err)
		return
	}

	snapshot, err := h.store.AgentVersionSnapshot(r.Context(), thread.AgentID, thread.AgentVersion)
	if err != nil {
		h.respondAgentError(w, err)
		return
	}

	writeOK(w, "ok", threadAgentDisplay{
		AgentID:         agent.ID.String(),
		AgentVersion:    thread.AgentVersion,
		Name:            agent.Name,
		Description:     snapshot.Description,
		Avatar:          agent.Avatar,
		Tag:             agent.Tag,
		SystemPrompt:    snapshot.SystemPrompt,
		IsLatestVersion: thread.AgentVersion == agent.LatestVersion,
		LatestVersion:   agent.LatestVersion,
	}, h.logger)
}

func (h *threadHandler) respondAgentError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrAgentNotFound) || errors.Is(err, store.ErrAgentVersionNotFound) {
		writeError(w, http.StatusNotFound, 404, "Agent or agent version not found", h.logger)
		return
	}
	h.logger.Error("failed to resolve thread agent", "error", err)
	writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
}
