package relay

import (
	"context"
	"iter"
)

// Message is one turn of provider context.
type Message struct {
	Role    string
	Content string
}

// Usage is the provider's token accounting for a completed call.
type Usage struct {
	TotalTokens int
}

// Chunk is one increment of a streaming completion. Text carries a
// fragment of the reply; Usage, when non-nil, carries the final token
// count and typically arrives on the last chunk.
type Chunk struct {
	Text  string
	Usage *Usage
}

// Provider produces a streaming completion for an assembled context.
// The sequence is lazy and finite; it stops promptly once ctx is
// cancelled. A yielded error ends the sequence. Each call is one
// provider invocation; sequences are not restartable.
type Provider interface {
	Stream(ctx context.Context, msgs []Message) iter.Seq2[Chunk, error]
}
