// Package services holds the orchestration core: tool filtering, the
// multi-turn agent loop, human-in-the-loop validation and thread management.
package services

import "github.com/yungbote/neuroagent-backend/internal/llm"

// Event kinds forwarded to the streaming transport. Each becomes one
// tagged line on the wire.
const (
	EventText       = "text"
	EventReasoning  = "reasoning"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventFinish     = "finish"
)

type Event struct {
	Kind string

	Text       *TextPayload       `json:"-"`
	ToolCall   *ToolCallPayload   `json:"-"`
	ToolResult *ToolResultPayload `json:"-"`
	Finish     *FinishPayload     `json:"-"`
}

// Payload returns the JSON-encodable body for the event's tagged line.
func (e Event) Payload() any {
	switch e.Kind {
	case EventText, EventReasoning:
		return e.Text
	case EventToolCall:
		return e.ToolCall
	case EventToolResult:
		return e.ToolResult
	case EventFinish:
		return e.Finish
	}
	return nil
}

type TextPayload struct {
	Content string `json:"content"`
}

type ToolCallPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	// Validation is "pending" for calls awaiting human approval,
	// "not_required" otherwise.
	Validation string `json:"validation"`
}

type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

type FinishPayload struct {
	MessageID  string `json:"message_id,omitempty"`
	IsComplete bool   `json:"is_complete"`
	// PendingValidation signals the run suspended on a human approval; the
	// client re-invokes the chat route once the call is resolved.
	PendingValidation bool       `json:"pending_validation"`
	Usage             *llm.Usage `json:"usage,omitempty"`
}

// EventSink receives agent-loop events in emission order. Implementations
// must not block for long; the loop runs on the request goroutine.
type EventSink func(Event)
