// Package llm implements the OpenRouter chat-completions client used for
// generation, question synthesis and embeddings. Streaming responses are
// surfaced as iterator sequences of events so callers can forward text
// deltas while the full assistant turn is still being assembled.
package llm

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// Message roles on the chat-completions wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation with parsed arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// EventType discriminates streaming events.
type EventType string

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventType = "delta"

	// EventMessage carries the complete assistant message once the
	// stream finishes.
	EventMessage EventType = "message"

	// EventFunctions carries the tool calls requested by the model.
	// It is emitted after EventMessage when the turn ended on tool calls.
	EventFunctions EventType = "functions"
)

// Event is one element of a generation stream.
type Event struct {
	Type EventType

	// Delta is set for EventDelta.
	Delta string

	// Message is set for EventMessage.
	Message *Message

	// Functions is set for EventFunctions.
	Functions []ToolCall
}

// Request describes one generation call.
type Request struct {
	// Messages is the full conversation so far, system prompt included.
	Messages []Message

	// Tools lists the tools the model may call. Empty means plain chat.
	Tools []ToolDefinition

	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64
}
