// Package relay drives one chat turn end to end: persist the user
// message, assemble provider context, stream the completion back to
// the client as push events and record the result. It owns the
// cancellation registry that lets an independent abort request stop an
// in-flight stream.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/store"
)

// MaxTitleLen caps a new thread's title, taken from the opening
// message.
const MaxTitleLen = 255

// Store is the persistence surface the relay consumes.
type Store interface {
	EnsureThread(ctx context.Context, id string, userID, agentID uuid.UUID, title string) (*store.Thread, bool, error)
	EnsureDebugThread(ctx context.Context, id string, userID, agentID uuid.UUID, title string) (*store.Thread, bool, error)
	AppendMessage(ctx context.Context, id uuid.UUID, threadID, role, content string, token int) (*store.Message, error)
	History(ctx context.Context, threadID string, excludeID uuid.UUID, limit int) ([]*store.Message, error)
	SystemPrompt(ctx context.Context, agentID uuid.UUID, version int) (string, error)
}

// Request is one stream-start invocation.
type Request struct {
	UserID   uuid.UUID
	AgentID  uuid.UUID
	ThreadID string
	Content  string

	// Debug routes the turn through the debug thread for the agent and
	// keys the registry separately from real streams.
	Debug bool
}

// Relay orchestrates chat turns. Safe for concurrent use.
type Relay struct {
	store         Store
	provider      Provider
	registry      *Registry
	logger        log.Logger
	historyLimit  int
	defaultPrompt string
}

// New creates a Relay. historyLimit bounds the context window;
// defaultPrompt substitutes for agents without a system prompt.
func New(st Store, provider Provider, registry *Registry, logger log.Logger, historyLimit int, defaultPrompt string) *Relay {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Relay{
		store:         st,
		provider:      provider,
		registry:      registry,
		logger:        logger.With("component", "relay"),
		historyLimit:  historyLimit,
		defaultPrompt: defaultPrompt,
	}
}

// Run executes one turn and emits the event sequence on w: start, zero
// or more tokens, then exactly one terminal event (end or error).
// Failures never propagate; they are translated to the terminal event.
func (r *Relay) Run(ctx context.Context, req Request, w EventWriter) {
	if req.AgentID == uuid.Nil || req.ThreadID == "" || req.Content == "" {
		r.sendError(w, 400, "agent_id, thread_id, and content are required")
		return
	}

	logger := r.logger.With("thread_id", req.ThreadID, "user_id", req.UserID)

	ensure := r.store.EnsureThread
	if req.Debug {
		ensure = r.store.EnsureDebugThread
	}
	th, created, err := ensure(ctx, req.ThreadID, req.UserID, req.AgentID, truncate(req.Content, MaxTitleLen))
	if err != nil {
		r.sendTerminalFor(w, err)
		return
	}
	if created {
		logger.Debug("created thread", "agent_id", req.AgentID)
	}

	userMsg, err := r.store.AppendMessage(ctx, uuid.Nil, th.ID, store.RoleUser, req.Content, 0)
	if err != nil {
		r.sendTerminalFor(w, err)
		return
	}

	history, err := r.store.History(ctx, th.ID, userMsg.ID, r.historyLimit)
	if err != nil {
		r.sendTerminalFor(w, err)
		return
	}

	// The thread fixes both sides of the prompt lookup; an existing
	// thread keeps its bound agent even when the request names another.
	prompt, err := r.store.SystemPrompt(ctx, th.AgentID, th.AgentVersion)
	if err != nil {
		r.sendTerminalFor(w, err)
		return
	}
	if prompt == "" {
		prompt = r.defaultPrompt
	}

	msgs := AssembleContext(prompt, history, req.Content, r.historyLimit)

	assistantID := uuid.New()
	if err := w.Send(EventStart, StartPayload{
		MessageID: assistantID.String(),
		Role:      store.RoleAssistant,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Warn("client gone before start", "error", err)
		return
	}

	// Register before invoking the provider so a concurrent abort can
	// find the stream. The key uses the requested thread id, which the
	// abort endpoint can recompute even when a debug turn was rerouted
	// onto an existing debug thread under a different id.
	key := Key{UserID: req.UserID.String(), ThreadID: req.ThreadID, Debug: req.Debug}
	streamCtx, handle := NewHandle(ctx)
	r.registry.Register(key, handle)
	defer func() {
		r.registry.Unregister(key)
		handle.cancel()
	}()

	text, usage, streamErr := r.consume(streamCtx, handle, msgs, assistantID, w)

	cancelled := handle.Cancelled() || errors.Is(streamErr, context.Canceled)
	if cancelled {
		streamErr = nil
	}

	// Persistence must proceed even after cancellation.
	persistCtx := context.WithoutCancel(ctx)

	if text == "" {
		if streamErr != nil {
			logger.Error("stream failed with no output", "error", streamErr)
			r.sendError(w, 500, streamErr.Error())
			return
		}
		r.sendEnd(w, assistantID, cancelled, 0)
		return
	}

	if _, err := r.store.AppendMessage(persistCtx, assistantID, th.ID, store.RoleAssistant, text, usage); err != nil {
		logger.Error("failed to persist assistant message", "error", err)
		r.sendError(w, 500, "failed to persist assistant message")
		return
	}

	if streamErr != nil {
		logger.Warn("stream failed after partial output", "error", streamErr)
	}
	r.sendEnd(w, assistantID, cancelled, usage)
}

// consume relays provider chunks to the client, polling the handle at
// each fragment boundary, and returns the accumulated text and usage.
func (r *Relay) consume(ctx context.Context, handle *Handle, msgs []Message, assistantID uuid.UUID, w EventWriter) (string, int, error) {
	var (
		text  []byte
		usage int
	)

	for chunk, err := range r.provider.Stream(ctx, msgs) {
		if handle.Cancelled() {
			break
		}
		if err != nil {
			return string(text), usage, err
		}

		if chunk.Text != "" {
			text = append(text, chunk.Text...)
			if err := w.Send(EventToken, TokenPayload{
				MessageID: assistantID.String(),
				Content:   chunk.Text,
			}); err != nil {
				// Client gone; stop the provider call.
				handle.Cancel()
				break
			}
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.TotalTokens
		}
	}

	return string(text), usage, nil
}

func (r *Relay) sendEnd(w EventWriter, assistantID uuid.UUID, cancelled bool, totalTokens int) {
	status := StatusUsage
	if cancelled {
		status = StatusAborted
	}
	if err := w.Send(EventEnd, EndPayload{
		MessageID:   assistantID.String(),
		Role:        store.RoleAssistant,
		Status:      status,
		TotalTokens: totalTokens,
	}); err != nil {
		r.logger.Debug("failed to send end event", "error", err)
	}
}

func (r *Relay) sendError(w EventWriter, code int, message string) {
	if err := w.Send(EventError, ErrorPayload{Code: code, Message: message}); err != nil {
		r.logger.Debug("failed to send error event", "error", err)
	}
}

// sendTerminalFor maps a pre-stream failure to its error event.
func (r *Relay) sendTerminalFor(w EventWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAgentNotFound):
		r.sendError(w, 404, "Agent not found")
	case errors.Is(err, store.ErrThreadNotFound):
		r.sendError(w, 404, "Thread not found")
	default:
		r.logger.Error("stream setup failed", "error", err)
		r.sendError(w, 500, "internal server error")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
