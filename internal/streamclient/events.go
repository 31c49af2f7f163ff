// Package streamclient is the client half of the chat stream: a decoder for
// the tagged-line event encoding and a reducer that reconciles
// server-confirmed history with locally-buffered optimistic state.
package streamclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event kinds on the wire. Each line is "<kind>:<json payload>".
const (
	KindText       = "text"
	KindReasoning  = "reasoning"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"
	KindFinish     = "finish"
	KindError      = "error"
)

type StreamEvent struct {
	Kind string

	Text       *TextEvent
	ToolCall   *ToolCallEvent
	ToolResult *ToolResultEvent
	Finish     *FinishEvent
	Error      *ErrorEvent
}

type TextEvent struct {
	Content string `json:"content"`
}

type ToolCallEvent struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Validation string `json:"validation"`
}

type ToolResultEvent struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

type FinishEvent struct {
	MessageID         string `json:"message_id"`
	IsComplete        bool   `json:"is_complete"`
	PendingValidation bool   `json:"pending_validation"`
}

type ErrorEvent struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	RetryAfter int64  `json:"retry_after"`
}

// ParseStream decodes tagged lines from r and hands each event to onEvent
// until EOF or the callback returns an error. Unknown tags are skipped so
// new server-side event kinds do not break older clients.
func ParseStream(r io.Reader, onEvent func(StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tag, payload, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		ev, err := decodeEvent(tag, []byte(payload))
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := onEvent(*ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func decodeEvent(tag string, payload []byte) (*StreamEvent, error) {
	ev := &StreamEvent{Kind: tag}
	var target any
	switch tag {
	case KindText, KindReasoning:
		ev.Text = &TextEvent{}
		target = ev.Text
	case KindToolCall:
		ev.ToolCall = &ToolCallEvent{}
		target = ev.ToolCall
	case KindToolResult:
		ev.ToolResult = &ToolResultEvent{}
		target = ev.ToolResult
	case KindFinish:
		ev.Finish = &FinishEvent{}
		target = ev.Finish
	case KindError:
		ev.Error = &ErrorEvent{}
		target = ev.Error
	default:
		return nil, nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("malformed %s event: %w", tag, err)
	}
	return ev, nil
}
