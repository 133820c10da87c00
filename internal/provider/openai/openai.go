// Package openai adapts OpenAI-compatible chat completion APIs to the
// relay's streaming provider contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/parley-ai/parley/internal/relay"
	"github.com/parley-ai/parley/internal/store"
)

// Config selects the endpoint and model.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// Provider streams chat completions from an OpenAI-compatible server.
type Provider struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

var _ relay.Provider = (*Provider)(nil)

// New creates a Provider. BaseURL may point at any server speaking the
// OpenAI wire protocol.
func New(cfg Config) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Stream opens one streaming completion call. Usage arrives on the
// final chunk when the server supports stream usage reporting.
func (p *Provider) Stream(ctx context.Context, msgs []relay.Message) iter.Seq2[relay.Chunk, error] {
	return func(yield func(relay.Chunk, error) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:       p.model,
			Messages:    toChatMessages(msgs),
			Temperature: p.temperature,
			Stream:      true,
			StreamOptions: &goopenai.StreamOptions{
				IncludeUsage: true,
			},
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(relay.Chunk{}, fmt.Errorf("open completion stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				// Surface cancellation as context.Canceled, not a
				// transport failure.
				if ctx.Err() != nil {
					yield(relay.Chunk{}, ctx.Err())
					return
				}
				yield(relay.Chunk{}, fmt.Errorf("receive completion chunk: %w", err))
				return
			}

			chunk := relay.Chunk{}
			if len(resp.Choices) > 0 {
				chunk.Text = resp.Choices[0].Delta.Content
			}
			if resp.Usage != nil {
				chunk.Usage = &relay.Usage{TotalTokens: resp.Usage.TotalTokens}
			}
			if chunk.Text == "" && chunk.Usage == nil {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func toChatMessages(msgs []relay.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		role := goopenai.ChatMessageRoleAssistant
		switch m.Role {
		case store.RoleUser:
			role = goopenai.ChatMessageRoleUser
		case store.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		}
		out[i] = goopenai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
