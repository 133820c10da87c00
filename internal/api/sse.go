package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// errStreamingUnsupported is returned when the ResponseWriter cannot
// flush, which SSE requires.
var errStreamingUnsupported = errors.New("streaming not supported")

// sseWriter emits Server-Sent Events on an HTTP response. It implements
// relay.EventWriter; each Send produces one complete frame:
//
//	event: <name>
//	data: <json>
//	<blank line>
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// newSSEWriter prepares w for SSE streaming: verifies flush support and
// commits the stream headers.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send writes a single SSE event with JSON-encoded data and flushes it
// to the client immediately.
func (s *sseWriter) Send(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	s.flusher.Flush()
	return nil
}
