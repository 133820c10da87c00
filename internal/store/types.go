package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Agent visibility.
const (
	StatusPrivate = "private"
	StatusPublic  = "public"
)

// ValidTags are the supported agent tags.
var ValidTags = []string{"assistant", "expert", "creative", "companion", "explore"}

// User is an account row. Password holds the bcrypt hash, never the
// plaintext.
type User struct {
	ID        uuid.UUID
	Username  string
	Password  string
	Avatar    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentConfig is the JSONB payload on an agent. Only SystemPrompt is
// interpreted; RagConfig and McpConfig are stored opaquely for forward
// compatibility.
type AgentConfig struct {
	SystemPrompt string          `json:"system_prompt"`
	RagConfig    json.RawMessage `json:"rag_config,omitempty"`
	McpConfig    json.RawMessage `json:"mcp_config,omitempty"`
}

// Agent is a configured assistant persona.
type Agent struct {
	ID            uuid.UUID
	Name          string
	Description   *string
	Avatar        *string
	Tag           *string
	Status        string
	Config        AgentConfig
	CreatorID     *uuid.UUID
	LatestVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AgentVersion is an immutable snapshot of an agent's prompt taken each
// time the configuration changes.
type AgentVersion struct {
	AgentID      uuid.UUID
	Version      int
	Description  *string
	SystemPrompt string
	CreatedAt    time.Time
}

// Thread is a conversation. The id is an opaque client-supplied string.
type Thread struct {
	ID           string
	UserID       uuid.UUID
	AgentID      uuid.UUID
	Title        string
	IsDebug      bool
	AgentVersion int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single turn within a thread. Token is the provider's
// reported usage for assistant messages, zero otherwise.
type Message struct {
	ID        uuid.UUID
	ThreadID  string
	Role      string
	Content   string
	Token     int
	CreatedAt time.Time
}
