package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/testutil"
)

func TestSSEWriter_Framing(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.Send("start", map[string]string{"messageId": "m1"}))
	require.NoError(t, sw.Send("token", map[string]string{"content": "hi"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "start", events[0].Type)
	assert.JSONEq(t, `{"messageId":"m1"}`, events[0].Data)
	assert.Equal(t, "token", events[1].Type)
	assert.JSONEq(t, `{"content":"hi"}`, events[1].Data)
}

func TestSSEWriter_MarshalError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)

	assert.Error(t, sw.Send("token", make(chan int)))
	assert.Empty(t, rec.Body.String())
}

// plainWriter deliberately lacks http.Flusher.
type plainWriter struct {
	header http.Header
}

func (p *plainWriter) Header() http.Header        { return p.header }
func (p *plainWriter) Write([]byte) (int, error)  { return 0, nil }
func (p *plainWriter) WriteHeader(statusCode int) {}

func TestSSEWriter_NoFlusher(t *testing.T) {
	t.Parallel()

	_, err := newSSEWriter(&plainWriter{header: make(http.Header)})
	assert.ErrorIs(t, err, errStreamingUnsupported)
}
