// Package sim is a canned completion provider for exercising the
// stream pipeline without calling a real model: it echoes the user
// input inside a fixed markdown reply, emitted rune by rune with a
// small delay so cancellation and incremental rendering can be tested
// end to end.
package sim

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/parley-ai/parley/internal/relay"
)

const replyTemplate = `Hello! I received your message: %q.

This is a simulated reply for exercising the streaming pipeline:

1. **Incremental output**: the reply arrives token by token
2. **Markdown rendering**: code blocks and lists survive the transport
3. **Interruption**: generation can be stopped at any point

Ask me anything else whenever you like!`

// Provider streams a canned reply. The zero value uses the default
// pacing; set MinDelay/MaxDelay to tune it and Repeat to lengthen the
// reply for cancellation tests.
type Provider struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Repeat   int
}

var _ relay.Provider = (*Provider)(nil)

// New returns a Provider with the default pacing of roughly 20-50ms
// per fragment.
func New() *Provider {
	return &Provider{MinDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Repeat: 5}
}

// Stream emits the canned reply one rune at a time, then an estimated
// usage total. The last user message is echoed into the reply.
func (p *Provider) Stream(ctx context.Context, msgs []relay.Message) iter.Seq2[relay.Chunk, error] {
	input := ""
	if len(msgs) > 0 {
		input = msgs[len(msgs)-1].Content
	}

	repeat := max(p.Repeat, 1)
	reply := ""
	for range repeat {
		reply += fmt.Sprintf(replyTemplate, input) + "\n\n"
	}

	return func(yield func(relay.Chunk, error) bool) {
		sent := 0
		for _, r := range reply {
			if err := p.pause(ctx); err != nil {
				yield(relay.Chunk{}, err)
				return
			}
			frag := string(r)
			sent += len(frag)
			if !yield(relay.Chunk{Text: frag}, nil) {
				return
			}
		}

		// Rough token estimate mirroring typical byte-per-token ratios.
		usage := &relay.Usage{TotalTokens: (sent + 3) / 4}
		yield(relay.Chunk{Usage: usage}, nil)
	}
}

func (p *Provider) pause(ctx context.Context) error {
	if p.MaxDelay <= 0 {
		return ctx.Err()
	}
	delay := p.MinDelay
	if jitter := p.MaxDelay - p.MinDelay; jitter > 0 {
		delay += rand.N(jitter)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
