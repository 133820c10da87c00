package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/relay"
	"github.com/parley-ai/parley/internal/store"
)

// chatStore is the persistence surface consumed by the chat handlers
// beyond what the relay itself touches.
type chatStore interface {
	UserThread(ctx context.Context, id string, userID uuid.UUID) (*store.Thread, error)
	Threads(ctx context.Context, userID uuid.UUID) ([]*store.Thread, error)
	Messages(ctx context.Context, threadID string) ([]*store.Message, error)
	DeleteThread(ctx context.Context, id string, userID uuid.UUID) error
}

// chatHandler serves the streaming relay endpoints and the thread
// listing/history/delete routes around them.
type chatHandler struct {
	relay     *relay.Relay
	testRelay *relay.Relay
	registry  *relay.Registry
	store     chatStore
	logger    log.Logger
}

// chatStreamRequest is the body of stream, stream-test and abort.
// Field names follow the wire contract, not Go convention.
type chatStreamRequest struct {
	AgentID  string `json:"agent_id"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
}

type threadListItem struct {
	ThreadID  string `json:"threadId"`
	Title     string `json:"title"`
	AgentID   string `json:"agentId"`
	UpdatedAt string `json:"updatedAt"`
}

type messageItem struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// stream handles POST /api/chat/stream: one full SSE chat turn.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	h.runStream(w, r, h.relay, false)
}

// streamTest handles POST /api/chat/stream-test: the same pipeline
// against the simulated provider, driving the agent's debug thread.
func (h *chatHandler) streamTest(w http.ResponseWriter, r *http.Request) {
	h.runStream(w, r, h.testRelay, true)
}

func (h *chatHandler) runStream(w http.ResponseWriter, r *http.Request, rl *relay.Relay, debug bool) {
	p, _ := principalFromContext(r.Context())

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 400, "invalid request body", h.logger)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// An unparsable agent id degrades to Nil and fails the relay's
	// own validation, keeping one terminal error path.
	agentID, _ := uuid.Parse(req.AgentID)

	rl.Run(r.Context(), relay.Request{
		UserID:   p.UserID,
		AgentID:  agentID,
		ThreadID: req.ThreadID,
		Content:  req.Content,
		Debug:    debug,
	}, sw)
}

// abort handles POST /api/chat/abort. Cancelling is best-effort and
// idempotent: a missing stream is a normal outcome, not an error.
func (h *chatHandler) abort(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 1, "invalid request body", h.logger)
		return
	}

	if req.AgentID == "" || req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, 1, "agent_id and thread_id are required", h.logger)
		return
	}

	data := map[string]string{"thread_id": req.ThreadID}

	switch {
	case h.registry.Cancel(relay.Key{UserID: p.UserID.String(), ThreadID: req.ThreadID}):
		writeOK(w, "interrupt success", data, h.logger)
	case h.registry.Cancel(relay.Key{UserID: p.UserID.String(), ThreadID: req.ThreadID, Debug: true}):
		writeOK(w, "interrupt success (test)", data, h.logger)
	default:
		writeOK(w, "no active stream to interrupt", data, h.logger)
	}
}

// threads handles GET /api/chat/threads: the caller's threads, newest
// activity first. Debug threads are excluded by the store.
func (h *chatHandler) threads(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	threads, err := h.store.Threads(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("failed to list threads", "error", err)
		writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
		return
	}

	items := make([]threadListItem, 0, len(threads))
	for _, t := range threads {
		title := t.Title
		if title == "" {
			title = "Untitled conversation"
		}
		items = append(items, threadListItem{
			ThreadID:  t.ID,
			Title:     title,
			AgentID:   t.AgentID.String(),
			UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeOK(w, "ok", items, h.logger)
}

// messages handles GET /api/chat/message/{threadId}: the full message
// history of an owned thread, oldest first.
func (h *chatHandler) messages(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	threadID := r.PathValue("threadId")

	if _, err := h.store.UserThread(r.Context(), threadID, p.UserID); err != nil {
		h.respondThreadError(w, err)
		return
	}

	msgs, err := h.store.Messages(r.Context(), threadID)
	if err != nil {
		h.logger.Error("failed to load messages", "error", err, "thread_id", threadID)
		writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
		return
	}

	items := make([]messageItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageItem{
			ID:        m.ID.String(),
			ThreadID:  m.ThreadID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeOK(w, "ok", items, h.logger)
}

// deleteThread handles DELETE /api/chat/thread/{threadId}. Messages
// cascade away with the thread; any in-flight stream on it is cancelled
// best-effort.
func (h *chatHandler) deleteThread(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	threadID := r.PathValue("threadId")

	if _, err := h.store.UserThread(r.Context(), threadID, p.UserID); err != nil {
		h.respondThreadError(w, err)
		return
	}

	if err := h.store.DeleteThread(r.Context(), threadID, p.UserID); err != nil {
		h.logger.Error("failed to delete thread", "error", err, "thread_id", threadID)
		writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
		return
	}

	h.registry.Cancel(relay.Key{UserID: p.UserID.String(), ThreadID: threadID})
	h.registry.Cancel(relay.Key{UserID: p.UserID.String(), ThreadID: threadID, Debug: true})

	writeOK(w, "ok", nil, h.logger)
}

func (h *chatHandler) respondThreadError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrThreadNotFound) {
		writeError(w, http.StatusNotFound, 404, "Thread not found or access denied", h.logger)
		return
	}
	h.logger.Error("failed to load thread", "error", err)
	writeError(w, http.StatusInternalServerError, 500, "Internal server error", h.logger)
}
