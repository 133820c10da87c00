package testutil

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/relay"
)

// ScriptedProvider replays a fixed chunk sequence, optionally followed
// by an error, honoring context cancellation between chunks. It records
// the message list of the last call for context assertions.
type ScriptedProvider struct {
	Chunks []relay.Chunk
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls [][]relay.Message
}

var _ relay.Provider = (*ScriptedProvider)(nil)

func (p *ScriptedProvider) Stream(ctx context.Context, msgs []relay.Message) iter.Seq2[relay.Chunk, error] {
	p.mu.Lock()
	p.calls = append(p.calls, msgs)
	p.mu.Unlock()

	return func(yield func(relay.Chunk, error) bool) {
		for _, c := range p.Chunks {
			if p.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(relay.Chunk{}, ctx.Err())
					return
				case <-time.After(p.Delay):
				}
			}
			if ctx.Err() != nil {
				yield(relay.Chunk{}, ctx.Err())
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if p.Err != nil {
			yield(relay.Chunk{}, p.Err)
		}
	}
}

// Calls returns the message lists of every Stream invocation.
func (p *ScriptedProvider) Calls() [][]relay.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]relay.Message(nil), p.calls...)
}

// LastCall returns the message list of the most recent Stream call, or
// nil when none happened.
func (p *ScriptedProvider) LastCall() []relay.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// TextChunks builds a chunk script from plain fragments.
func TextChunks(fragments ...string) []relay.Chunk {
	chunks := make([]relay.Chunk, len(fragments))
	for i, f := range fragments {
		chunks[i] = relay.Chunk{Text: f}
	}
	return chunks
}
