package relay

import "github.com/parley-ai/parley/internal/store"

// AssembleContext builds the provider message list for one turn:
// the system prompt, then the history in chronological order capped at
// limit, then the new user content. Pure function, no I/O.
func AssembleContext(systemPrompt string, history []*store.Message, content string, limit int) []Message {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: store.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		role := store.RoleAssistant
		if m.Role == store.RoleUser {
			role = store.RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, Message{Role: store.RoleUser, Content: content})
	return msgs
}
