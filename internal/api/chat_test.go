package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/relay"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/internal/testutil"
)

// fakeChatStore backs both the relay pipeline and the thread CRUD
// routes with in-process state.
type fakeChatStore struct {
	mu      sync.Mutex
	agents  map[uuid.UUID]string // system prompt per agent
	threads map[string]*store.Thread
	msgs    []*store.Message
	seq     int
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		agents:  make(map[uuid.UUID]string),
		threads: make(map[string]*store.Thread),
	}
}

func (f *fakeChatStore) addAgent(prompt string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.agents[id] = prompt
	return id
}

func (f *fakeChatStore) EnsureThread(_ context.Context, id string, userID, agentID uuid.UUID, title string) (*store.Thread, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if th, ok := f.threads[id]; ok {
		if th.UserID != userID {
			return nil, false, store.ErrThreadNotFound
		}
		th.UpdatedAt = time.Now()
		return th, false, nil
	}
	if _, ok := f.agents[agentID]; !ok {
		return nil, false, store.ErrAgentNotFound
	}
	th := &store.Thread{ID: id, UserID: userID, AgentID: agentID, Title: title, AgentVersion: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.threads[id] = th
	return th, true, nil
}

func (f *fakeChatStore) EnsureDebugThread(_ context.Context, id string, userID, agentID uuid.UUID, title string) (*store.Thread, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, th := range f.threads {
		if th.IsDebug && th.UserID == userID && th.AgentID == agentID {
			th.UpdatedAt = time.Now()
			return th, false, nil
		}
	}
	if _, ok := f.agents[agentID]; !ok {
		return nil, false, store.ErrAgentNotFound
	}
	th := &store.Thread{ID: id, UserID: userID, AgentID: agentID, Title: title, IsDebug: true, AgentVersion: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.threads[id] = th
	return th, true, nil
}

func (f *fakeChatStore) AppendMessage(_ context.Context, id uuid.UUID, threadID, role, content string, token int) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.threads[threadID]; !ok {
		return nil, store.ErrThreadNotFound
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	f.seq++
	m := &store.Message{ID: id, ThreadID: threadID, Role: role, Content: content, Token: token, CreatedAt: time.Unix(int64(f.seq), 0)}
	f.msgs = append(f.msgs, m)
	return m, nil
}

func (f *fakeChatStore) History(_ context.Context, threadID string, excludeID uuid.UUID, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Message
	for _, m := range f.msgs {
		if m.ThreadID == threadID && m.ID != excludeID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeChatStore) SystemPrompt(_ context.Context, agentID uuid.UUID, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt, ok := f.agents[agentID]
	if !ok {
		return "", store.ErrAgentNotFound
	}
	return prompt, nil
}

func (f *fakeChatStore) UserThread(_ context.Context, id string, userID uuid.UUID) (*store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	th, ok := f.threads[id]
	if !ok || th.UserID != userID {
		return nil, store.ErrThreadNotFound
	}
	return th, nil
}

func (f *fakeChatStore) Threads(_ context.Context, userID uuid.UUID) ([]*store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Thread
	for _, th := range f.threads {
		if th.UserID == userID && !th.IsDebug {
			out = append(out, th)
		}
	}
	return out, nil
}

func (f *fakeChatStore) Messages(_ context.Context, threadID string) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Message
	for _, m := range f.msgs {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeChatStore) DeleteThread(_ context.Context, id string, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	th, ok := f.threads[id]
	if !ok || th.UserID != userID {
		return store.ErrThreadNotFound
	}
	delete(f.threads, id)
	kept := f.msgs[:0]
	for _, m := range f.msgs {
		if m.ThreadID != id {
			kept = append(kept, m)
		}
	}
	f.msgs = kept
	return nil
}

func (f *fakeChatStore) messagesByRole(threadID, role string) []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Message
	for _, m := range f.msgs {
		if m.ThreadID == threadID && m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type chatFixture struct {
	store    *fakeChatStore
	registry *relay.Registry
	handler  *chatHandler
	mux      *http.ServeMux
	user     auth.Principal
}

func newChatFixture(provider relay.Provider, testProvider relay.Provider) *chatFixture {
	st := newFakeChatStore()
	registry := relay.NewRegistry()
	user := auth.Principal{UserID: uuid.New(), Username: "ada"}

	h := &chatHandler{
		relay:    relay.New(st, provider, registry, log.NewNop(), 20, "You are a helpful AI assistant."),
		registry: registry,
		store:    st,
		logger:   log.NewNop(),
	}
	if testProvider != nil {
		h.testRelay = relay.New(st, testProvider, registry, log.NewNop(), 20, "You are a helpful AI assistant.")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", withPrincipal(user, h.stream))
	if h.testRelay != nil {
		mux.HandleFunc("POST /api/chat/stream-test", withPrincipal(user, h.streamTest))
	}
	mux.HandleFunc("POST /api/chat/abort", withPrincipal(user, h.abort))
	mux.HandleFunc("GET /api/chat/threads", withPrincipal(user, h.threads))
	mux.HandleFunc("GET /api/chat/message/{threadId}", withPrincipal(user, h.messages))
	mux.HandleFunc("DELETE /api/chat/thread/{threadId}", withPrincipal(user, h.deleteThread))

	return &chatFixture{store: st, registry: registry, handler: h, mux: mux, user: user}
}

func streamBody(agentID uuid.UUID, threadID, content string) *strings.Reader {
	body, _ := json.Marshal(chatStreamRequest{AgentID: agentID.String(), ThreadID: threadID, Content: content})
	return strings.NewReader(string(body))
}

func TestChatStream_HappyPath(t *testing.T) {
	t.Parallel()

	provider := &testutil.ScriptedProvider{Chunks: append(testutil.TextChunks("Hello", " there"), relay.Chunk{Usage: &relay.Usage{TotalTokens: 12}})}
	fx := newChatFixture(provider, nil)
	agentID := fx.store.addAgent("be kind")

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", streamBody(agentID, "t1", "hi")))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "start", events[0].Type)
	assert.Equal(t, "end", events[len(events)-1].Type)

	var text strings.Builder
	for _, e := range testutil.FindAllEvents(events, "token") {
		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(e.Data), &payload))
		text.WriteString(payload.Content)
	}
	assert.Equal(t, "Hello there", text.String())

	var end struct {
		Status      string `json:"status"`
		TotalTokens int    `json:"totalTokens"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &end))
	assert.Equal(t, "usage", end.Status)
	assert.Equal(t, 12, end.TotalTokens)

	// Persisted assistant content equals the relayed concatenation.
	assistant := fx.store.messagesByRole("t1", store.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "Hello there", assistant[0].Content)

	assert.Equal(t, 0, fx.registry.Len())
}

func TestChatStream_Validation(t *testing.T) {
	t.Parallel()

	fx := newChatFixture(&testutil.ScriptedProvider{}, nil)

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"agent_id":"","thread_id":"t1","content":"hi"}`)))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &payload))
	assert.Equal(t, 400, payload.Code)
	assert.Equal(t, "agent_id, thread_id, and content are required", payload.Message)
}

func TestChatStream_InvalidBody(t *testing.T) {
	t.Parallel()

	fx := newChatFixture(&testutil.ScriptedProvider{}, nil)

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader("{not json")))

	// Headers not yet committed, so a plain JSON error is still possible.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestChatStream_UnknownAgent(t *testing.T) {
	t.Parallel()

	fx := newChatFixture(&testutil.ScriptedProvider{}, nil)

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", streamBody(uuid.New(), "t1", "hi")))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Contains(t, events[0].Data, "Agent not found")
}

func TestChatStreamTest_UsesDebugThread(t *testing.T) {
	t.Parallel()

	sim := &testutil.ScriptedProvider{Chunks: testutil.TextChunks("simulated ", "reply")}
	fx := newChatFixture(&testutil.ScriptedProvider{}, sim)
	agentID := fx.store.addAgent("be kind")

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream-test", streamBody(agentID, "dbg-1", "ping")))

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	assert.Equal(t, "end", events[len(events)-1].Type)

	fx.store.mu.Lock()
	th := fx.store.threads["dbg-1"]
	fx.store.mu.Unlock()
	require.NotNil(t, th)
	assert.True(t, th.IsDebug)

	// Debug threads never show up in the listing.
	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/threads", nil))
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.Empty(t, env.Data)
}

func TestChatAbort(t *testing.T) {
	t.Parallel()

	fx := newChatFixture(&testutil.ScriptedProvider{}, nil)
	agentID := uuid.New()

	body := func() *strings.Reader {
		return strings.NewReader(fmt.Sprintf(`{"agent_id":%q,"thread_id":"t1"}`, agentID))
	}

	t.Run("no active stream", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/abort", body()))

		require.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec.Body.Bytes())
		assert.Equal(t, 0, env.Code)
		assert.Equal(t, "no active stream to interrupt", env.Message)
		assert.Equal(t, "t1", env.Data.(map[string]any)["thread_id"])
	})

	t.Run("cancels a live stream", func(t *testing.T) {
		_, handle := relay.NewHandle(context.Background())
		fx.registry.Register(relay.Key{UserID: fx.user.UserID.String(), ThreadID: "t1"}, handle)

		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/abort", body()))

		env := decodeEnvelope(t, rec.Body.Bytes())
		assert.Equal(t, "interrupt success", env.Message)
		assert.True(t, handle.Cancelled())
		assert.Equal(t, 0, fx.registry.Len())
	})

	t.Run("cancels a debug stream", func(t *testing.T) {
		_, handle := relay.NewHandle(context.Background())
		fx.registry.Register(relay.Key{UserID: fx.user.UserID.String(), ThreadID: "t1", Debug: true}, handle)

		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/abort", body()))

		env := decodeEnvelope(t, rec.Body.Bytes())
		assert.Equal(t, "interrupt success (test)", env.Message)
		assert.True(t, handle.Cancelled())
	})

	t.Run("missing params", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/abort", strings.NewReader(`{"agent_id":"a1"}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatThreadsAndMessages(t *testing.T) {
	t.Parallel()

	provider := &testutil.ScriptedProvider{Chunks: testutil.TextChunks("pong")}
	fx := newChatFixture(provider, nil)
	agentID := fx.store.addAgent("")

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", streamBody(agentID, "t1", "ping")))
	require.Equal(t, "end", testutil.ParseSSEEvents(t, rec.Body.String())[2].Type)

	t.Run("threads", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/threads", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec.Body.Bytes())
		items := env.Data.([]any)
		require.Len(t, items, 1)
		item := items[0].(map[string]any)
		assert.Equal(t, "t1", item["threadId"])
		assert.Equal(t, "ping", item["title"])
		assert.Equal(t, agentID.String(), item["agentId"])
	})

	t.Run("messages", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/message/t1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec.Body.Bytes())
		items := env.Data.([]any)
		require.Len(t, items, 2)
		first := items[0].(map[string]any)
		second := items[1].(map[string]any)
		assert.Equal(t, "user", first["role"])
		assert.Equal(t, "ping", first["content"])
		assert.Equal(t, "assistant", second["role"])
		assert.Equal(t, "pong", second["content"])
	})

	t.Run("messages of foreign thread", func(t *testing.T) {
		fx.store.mu.Lock()
		fx.store.threads["other"] = &store.Thread{ID: "other", UserID: uuid.New(), AgentID: agentID}
		fx.store.mu.Unlock()

		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/message/other", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		env := decodeEnvelope(t, rec.Body.Bytes())
		assert.Equal(t, "Thread not found or access denied", env.Message)
	})
}

func TestChatDeleteThread(t *testing.T) {
	t.Parallel()

	provider := &testutil.ScriptedProvider{Chunks: testutil.TextChunks("pong")}
	fx := newChatFixture(provider, nil)
	agentID := fx.store.addAgent("")

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", streamBody(agentID, "t1", "ping")))
	require.NotEmpty(t, rec.Body.String())

	// A lingering registry entry is cancelled along with the delete.
	_, handle := relay.NewHandle(context.Background())
	fx.registry.Register(relay.Key{UserID: fx.user.UserID.String(), ThreadID: "t1"}, handle)

	t.Run("unknown thread", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/chat/thread/ghost", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("success cascades", func(t *testing.T) {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/chat/thread/t1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, handle.Cancelled())

		fx.store.mu.Lock()
		_, threadExists := fx.store.threads["t1"]
		remaining := len(fx.store.msgs)
		fx.store.mu.Unlock()
		assert.False(t, threadExists)
		assert.Zero(t, remaining)
	})
}
