package relay

// Event names of the chat stream protocol.
const (
	EventStart = "start"
	EventToken = "token"
	EventEnd   = "end"
	EventError = "error"
)

// End statuses.
const (
	StatusUsage   = "usage"
	StatusAborted = "aborted"
)

// StartPayload announces the assistant message about to be streamed.
// Receiving it also means the thread now exists durably.
type StartPayload struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

// TokenPayload carries one incremental fragment of the reply.
type TokenPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// EndPayload closes a stream that produced output. Status is "usage"
// for natural completion and "aborted" for cancellation.
type EndPayload struct {
	MessageID   string `json:"messageId"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	TotalTokens int    `json:"totalTokens"`
}

// ErrorPayload closes a stream that failed before producing output.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EventWriter delivers stream events to the client. The SSE framing
// lives in the api package; tests substitute an in-memory recorder.
type EventWriter interface {
	Send(event string, data any) error
}
