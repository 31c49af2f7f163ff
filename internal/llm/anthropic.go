package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/neuroagent-backend/internal/logger"
)

type anthropicClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewAnthropicClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &anthropicClient{
		log:     log.With("service", "AnthropicClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Long timeout: multi-turn tool runs with thinking enabled can
		// hold a single response open for minutes.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []map[string]any   `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Thinking  map[string]any     `json:"thinking,omitempty"`
}

func toAnthropicMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleTool:
			out = append(out, anthropicMessage{
				Role: RoleUser,
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			content := []anthropicContent{}
			if m.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: content})
		default:
			out = append(out, anthropicMessage{
				Role:    RoleUser,
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	return out
}

func toAnthropicTools(tools []ToolDef) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		})
	}
	return out
}

func reasoningBudget(effort string) int {
	switch effort {
	case ReasoningMinimal:
		return 1024
	case ReasoningLow:
		return 2048
	case ReasoningMedium:
		return 8192
	case ReasoningHigh:
		return 16384
	}
	return 0
}

func (c *anthropicClient) StreamChat(ctx context.Context, req Request, callback StreamCallback) (*TurnResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
		MaxTokens: maxTokens,
		Stream:    true,
	}
	if budget := reasoningBudget(req.Reasoning); budget > 0 {
		body.Thinking = map[string]any{"type": "enabled", "budget_tokens": budget}
		if body.MaxTokens <= budget {
			body.MaxTokens = budget + 4096
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic http %d: %s", resp.StatusCode, string(raw))
	}

	var (
		text        strings.Builder
		reasoning   strings.Builder
		usage       Usage
		calls       []ToolCall
		currentTool *ToolCall
		currentArgs strings.Builder
	)

	finishTool := func() {
		if currentTool == nil {
			return
		}
		args := strings.TrimSpace(currentArgs.String())
		if args == "" {
			args = "{}"
		}
		currentTool.Arguments = json.RawMessage(args)
		calls = append(calls, *currentTool)
		if callback != nil {
			cp := *currentTool
			callback(StreamEvent{Kind: KindToolCall, ToolCall: &cp})
		}
		currentTool = nil
		currentArgs.Reset()
	}

	err = streamSSE(resp.Body, func(_ string, data string) error {
		var ev struct {
			Type         string `json:"type"`
			ContentBlock *struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
			Delta *struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				Thinking    string `json:"thinking"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
			Message *struct {
				Usage struct {
					InputTokens int64 `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			Usage *struct {
				OutputTokens int64 `json:"output_tokens"`
			} `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}

		switch ev.Type {
		case "error":
			if ev.Error != nil {
				return fmt.Errorf("anthropic stream error: %s", ev.Error.Message)
			}
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				finishTool()
				currentTool = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			if ev.Delta == nil {
				return nil
			}
			switch ev.Delta.Type {
			case "text_delta":
				text.WriteString(ev.Delta.Text)
				if callback != nil {
					callback(StreamEvent{Kind: KindTextDelta, TextDelta: ev.Delta.Text})
				}
			case "thinking_delta":
				reasoning.WriteString(ev.Delta.Thinking)
				if callback != nil {
					callback(StreamEvent{Kind: KindReasoningDelta, ReasoningDelta: ev.Delta.Thinking})
				}
			case "input_json_delta":
				currentArgs.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			finishTool()
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	finishTool()

	result := &TurnResult{
		Message: Message{
			Role:      RoleAssistant,
			Content:   text.String(),
			Reasoning: reasoning.String(),
			ToolCalls: calls,
		},
		Usage: usage,
	}
	if callback != nil {
		u := result.Usage
		callback(StreamEvent{Kind: KindDone, Usage: &u})
	}
	return result, nil
}

func (c *anthropicClient) GenerateJSON(ctx context.Context, model, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	// Anthropic has no strict json_schema response format; a single-tool
	// forced call gives the same guarantee.
	body := anthropicRequest{
		Model:  model,
		System: system,
		Messages: []anthropicMessage{
			{Role: RoleUser, Content: []anthropicContent{{Type: "text", Text: user}}},
		},
		Tools: []map[string]any{{
			"name":         schemaName,
			"description":  "Produce the structured answer.",
			"input_schema": schema,
		}},
		MaxTokens: 4096,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(struct {
		anthropicRequest
		ToolChoice map[string]any `json:"tool_choice"`
	}{body, map[string]any{"type": "tool", "name": schemaName}}); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("anthropic http %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Content []anthropicContent `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	for _, block := range out.Content {
		if block.Type == "tool_use" && block.Name == schemaName {
			var obj map[string]any
			if err := json.Unmarshal(block.Input, &obj); err != nil {
				return nil, fmt.Errorf("failed to parse model JSON: %w", err)
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("no structured output in response")
}
