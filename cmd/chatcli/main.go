// Command chatcli is a terminal client for the chat stream. It drives the
// same reconciler the web frontend uses: optimistic sends, tagged-line
// decoding, human approval of gated tool calls, and automatic follow-up
// turns once tool results land.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/yungbote/neuroagent-backend/internal/streamclient"
)

type cli struct {
	baseURL  string
	token    string
	threadID string
	client   *http.Client
	rec      *streamclient.Reconciler
	stdin    *bufio.Reader
}

func main() {
	baseURL := envOr("SERVER_URL", "http://localhost:8080")
	token := os.Getenv("TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "TOKEN is required")
		os.Exit(1)
	}

	c := &cli{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		rec:     streamclient.NewReconciler(),
		stdin:   bufio.NewReader(os.Stdin),
	}

	threadID := os.Getenv("THREAD_ID")
	if threadID == "" {
		id, err := c.createThread()
		if err != nil {
			fmt.Fprintf(os.Stderr, "create thread: %v\n", err)
			os.Exit(1)
		}
		threadID = id
		fmt.Printf("thread %s\n", threadID)
	}
	c.threadID = threadID

	if err := c.loadHistory(); err != nil {
		fmt.Fprintf(os.Stderr, "load history: %v\n", err)
		os.Exit(1)
	}
	c.render()

	for {
		fmt.Print("> ")
		line, err := c.stdin.ReadString('\n')
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "stdin: %v\n", err)
			return
		}
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		if content == "/quit" {
			return
		}
		c.rec.StartUserMessage(content)
		c.runTurn(content)
	}
}

// runTurn streams one chat request and then keeps following the
// reconciler's lead: approvals for pending calls, auto-continue turns.
func (c *cli) runTurn(content string) {
	for {
		if err := c.stream(content); err != nil {
			fmt.Fprintf(os.Stderr, "\nstream: %v\n", err)
			return
		}
		if wait := c.rec.RateLimitWait(); wait > 0 {
			fmt.Printf("\nrate limited, wait %s\n", wait)
			return
		}
		if msg := c.rec.LastError(); msg != "" {
			fmt.Printf("\nerror: %s (your message was not sent)\n", msg)
			return
		}

		c.resolvePending()

		if c.rec.NextAction() == streamclient.ActionContinue {
			// Empty follow-up turn: the model reacts to tool results.
			content = ""
			continue
		}
		fmt.Println()
		return
	}
}

func (c *cli) stream(content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	req, err := http.NewRequest("POST", c.baseURL+"/qa/chat_streamed/"+c.threadID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var envelope struct {
			Error      string `json:"error"`
			RetryAfter int64  `json:"retry_after"`
		}
		_ = json.Unmarshal(raw, &envelope)
		c.rec.ApplyStreamEvent(streamclient.StreamEvent{
			Kind: streamclient.KindError,
			Error: &streamclient.ErrorEvent{
				Error:      envelope.Error,
				StatusCode: resp.StatusCode,
				RetryAfter: envelope.RetryAfter,
			},
		})
		return nil
	}

	return streamclient.ParseStream(resp.Body, func(ev streamclient.StreamEvent) error {
		switch ev.Kind {
		case streamclient.KindText:
			fmt.Print(ev.Text.Content)
		case streamclient.KindReasoning:
			// Reasoning renders dimmed and inline; a real UI collapses it.
			fmt.Printf("\x1b[2m%s\x1b[0m", ev.Text.Content)
		case streamclient.KindToolCall:
			fmt.Printf("\n[tool %s %s]\n", ev.ToolCall.Name, ev.ToolCall.Validation)
		case streamclient.KindToolResult:
			fmt.Printf("[result %s: %s]\n", ev.ToolResult.Name, truncate(ev.ToolResult.Content, 120))
		}
		c.rec.ApplyStreamEvent(ev)
		return nil
	})
}

// resolvePending prompts for every tool call still awaiting approval.
func (c *cli) resolvePending() {
	for _, msg := range c.rec.Messages() {
		for _, tc := range msg.ToolCalls {
			if tc.Validation != streamclient.ValidationPending {
				continue
			}
			fmt.Printf("approve %s with input %s? [y/N] ", tc.Name, tc.Arguments)
			line, _ := c.stdin.ReadString('\n')
			approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")

			result, err := c.validate(tc.ID, approved)
			if err != nil {
				fmt.Fprintf(os.Stderr, "validate: %v\n", err)
				continue
			}
			c.rec.ResolveValidation(tc.ID, approved, result)
			fmt.Printf("[%s]\n", truncate(result, 120))
		}
	}
}

func (c *cli) validate(callID string, approved bool) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"tool_call_id": callID,
		"is_validated": approved,
	})
	req, err := http.NewRequest("POST", c.baseURL+"/qa/validate_tool", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

func (c *cli) createThread() (string, error) {
	req, err := http.NewRequest("POST", c.baseURL+"/threads", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *cli) loadHistory() error {
	req, err := http.NewRequest("GET", c.baseURL+"/threads/"+c.threadID+"/messages?limit=50", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Messages []struct {
			ID         string          `json:"id"`
			Entity     string          `json:"entity"`
			Content    json.RawMessage `json:"content"`
			IsComplete bool            `json:"is_complete"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}

	page := make([]streamclient.ViewMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		var payload struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		}
		_ = json.Unmarshal(m.Content, &payload)
		role := "assistant"
		if m.Entity == "user" {
			role = "user"
		} else if m.Entity == "tool" {
			continue
		}
		page = append(page, streamclient.ViewMessage{
			ID:         m.ID,
			Role:       role,
			Text:       payload.Content,
			Reasoning:  payload.Reasoning,
			IsComplete: m.IsComplete,
		})
	}
	c.rec.ApplyServerPage(page, streamclient.PageReplace)
	return nil
}

func (c *cli) render() {
	for _, m := range c.rec.Messages() {
		marker := "ai"
		if m.Role == "user" {
			marker = "you"
		}
		fmt.Printf("%s: %s\n", marker, m.Text)
	}
	if c.rec.Stopped() {
		fmt.Println("(last reply was interrupted)")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
