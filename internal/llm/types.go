// Package llm is the provider boundary consumed by the agent loop: a message
// list plus tool schemas in, a token/event stream out. Wire-format
// conversion happens inside each provider client.
package llm

import "encoding/json"

// Roles on the provider wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Reasoning effort levels accepted by the core. Anything else is discarded.
const (
	ReasoningNone    = "none"
	ReasoningMinimal = "minimal"
	ReasoningLow     = "low"
	ReasoningMedium  = "medium"
	ReasoningHigh    = "high"
)

func ValidReasoning(v string) bool {
	switch v {
	case ReasoningNone, ReasoningMinimal, ReasoningLow, ReasoningMedium, ReasoningHigh:
		return true
	}
	return false
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is set on tool-result messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is one invocation requested by the model. ID is provider-assigned
// and is how results are correlated back.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDef declares a callable function to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type Request struct {
	Model     string
	Reasoning string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type StreamEventKind int

const (
	// KindTextDelta is an incremental answer token.
	KindTextDelta StreamEventKind = iota
	// KindReasoningDelta is an incremental thinking-trace token, rendered
	// separately from the answer.
	KindReasoningDelta
	// KindToolCall fires once per fully-assembled tool call request.
	KindToolCall
	// KindDone closes the turn; Usage is populated when available.
	KindDone
)

type StreamEvent struct {
	Kind           StreamEventKind
	TextDelta      string
	ReasoningDelta string
	ToolCall       *ToolCall
	Usage          *Usage
}

// StreamCallback receives streaming events in arrival order.
type StreamCallback func(event StreamEvent)

// TurnResult summarizes one completed model turn.
type TurnResult struct {
	// Message is the assembled assistant message, including any tool
	// calls, ready to append to the conversation.
	Message Message
	Usage   Usage
}
