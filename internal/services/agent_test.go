package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/repos/testutil"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

// fakeTurn scripts one model turn of the fake client.
type fakeTurn struct {
	text      string
	toolCalls []llm.ToolCall
	err       error
	// before runs after deltas are emitted but before returning, used to
	// simulate a client abort mid-stream.
	before func()
}

type fakeLLM struct {
	turns    []fakeTurn
	turnIdx  int
	jsonOut  map[string]any
	jsonErr  error
	requests []llm.Request
}

func (f *fakeLLM) StreamChat(ctx context.Context, req llm.Request, callback llm.StreamCallback) (*llm.TurnResult, error) {
	f.requests = append(f.requests, req)
	if f.turnIdx >= len(f.turns) {
		return nil, errors.New("fake: no more scripted turns")
	}
	turn := f.turns[f.turnIdx]
	f.turnIdx++

	if turn.text != "" && callback != nil {
		callback(llm.StreamEvent{Kind: llm.KindTextDelta, TextDelta: turn.text})
	}
	for i := range turn.toolCalls {
		if callback != nil {
			callback(llm.StreamEvent{Kind: llm.KindToolCall, ToolCall: &turn.toolCalls[i]})
		}
	}
	if turn.before != nil {
		turn.before()
	}
	if turn.err != nil {
		return nil, turn.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.TurnResult{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.text,
			ToolCalls: turn.toolCalls,
		},
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, model, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	return f.jsonOut, nil
}

// slowTool returns its scripted content after a delay, so two calls in one
// turn complete out of order.
type slowTool struct {
	name    string
	hil     bool
	delay   time.Duration
	content string
	failErr error
}

func (s *slowTool) Name() string { return s.name }
func (s *slowTool) Metadata() tools.Metadata {
	return tools.Metadata{Name: s.name, NameFrontend: s.name, RequiresValidation: s.hil}
}
func (s *slowTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *slowTool) Execute(ctx context.Context, ec tools.ExecContext, args json.RawMessage) tools.Result {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failErr != nil {
		return tools.Result{Err: s.failErr}
	}
	return tools.Result{Content: s.content}
}

type agentFixture struct {
	db          *gorm.DB
	threads     repos.ThreadRepo
	messages    repos.MessageRepo
	toolCalls   repos.ToolCallRepo
	consumption repos.ConsumptionRepo
	registry    *tools.Registry
	thread      *types.Thread
	threadSvc   ThreadService
}

func newAgentFixture(t *testing.T, registry *tools.Registry) *agentFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	log := logger.NewNop()
	f := &agentFixture{
		db:          db,
		threads:     repos.NewThreadRepo(db, log),
		messages:    repos.NewMessageRepo(db, log),
		toolCalls:   repos.NewToolCallRepo(db, log),
		consumption: repos.NewConsumptionRepo(db, log),
		registry:    registry,
	}
	f.threadSvc = NewThreadService(log, f.threads, f.messages, f.toolCalls, nil, "")
	thread, err := f.threadSvc.Create(context.Background(), uuid.New(), nil, nil, "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	f.thread = thread
	return f
}

func (f *agentFixture) newAgent(client llm.Client, maxTurns int) AgentService {
	return NewAgentService(logger.NewNop(), client, f.registry, f.messages, f.toolCalls, f.consumption, f.threads, maxTurns, 5)
}

func (f *agentFixture) postUser(t *testing.T, content string) {
	t.Helper()
	if _, err := f.threadSvc.PersistUserMessage(context.Background(), f.thread, content); err != nil {
		t.Fatalf("persist user message: %v", err)
	}
}

func collectSink() (EventSink, *[]Event) {
	var events []Event
	return func(ev Event) { events = append(events, ev) }, &events
}

func TestAgentRunSimpleAnswer(t *testing.T) {
	f := newAgentFixture(t, tools.NewRegistry())
	f.postUser(t, "What is a neuron?")

	client := &fakeLLM{turns: []fakeTurn{{text: "A neuron is a cell."}}}
	agent := f.newAgent(client, 10)
	sink, events := collectSink()

	outcome, err := agent.Run(context.Background(), RunInput{Thread: f.thread, Model: "gpt-test"}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Aborted || outcome.PendingValidation {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	var sawText, sawFinish bool
	for _, ev := range *events {
		switch ev.Kind {
		case EventText:
			sawText = true
		case EventFinish:
			sawFinish = true
			if !ev.Finish.IsComplete {
				t.Fatalf("finish must report complete")
			}
		}
	}
	if !sawText || !sawFinish {
		t.Fatalf("missing events: text=%v finish=%v", sawText, sawFinish)
	}

	msgs, err := f.messages.ListByThread(context.Background(), nil, f.thread.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Entity != types.EntityAIMessage || !last.IsComplete {
		t.Fatalf("assistant message wrong: entity=%s complete=%v", last.Entity, last.IsComplete)
	}
	var payload types.AIContent
	if err := json.Unmarshal(last.Content, &payload); err != nil || payload.Content != "A neuron is a cell." {
		t.Fatalf("payload: %+v err=%v", payload, err)
	}
}

func TestAgentRunAbortPersistsPartial(t *testing.T) {
	f := newAgentFixture(t, tools.NewRegistry())
	f.postUser(t, "Tell me everything")

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeLLM{turns: []fakeTurn{{
		text:   "This is a partial ",
		before: cancel,
	}}}
	agent := f.newAgent(client, 10)
	sink, _ := collectSink()

	outcome, err := agent.Run(ctx, RunInput{Thread: f.thread, Model: "gpt-test"}, sink)
	if err != nil {
		t.Fatalf("aborted run must not error: %v", err)
	}
	if !outcome.Aborted {
		t.Fatalf("expected aborted outcome")
	}

	msgs, err := f.messages.ListByThread(context.Background(), nil, f.thread.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Entity != types.EntityAIMessage {
		t.Fatalf("expected assistant message, got %s", last.Entity)
	}
	if last.IsComplete {
		t.Fatalf("aborted message must be incomplete")
	}
	var payload types.AIContent
	if err := json.Unmarshal(last.Content, &payload); err != nil || payload.Content != "This is a partial " {
		t.Fatalf("partial text lost: %+v err=%v", payload, err)
	}
}

func TestAgentRunToolResultsMatchedByID(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&slowTool{name: "slow-tool", delay: 30 * time.Millisecond, content: "slow result"})
	registry.Register(&slowTool{name: "fast-tool", content: "fast result"})

	f := newAgentFixture(t, registry)
	f.postUser(t, "Use both tools")

	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{
			{ID: "call_slow", Name: "slow-tool", Arguments: json.RawMessage(`{}`)},
			{ID: "call_fast", Name: "fast-tool", Arguments: json.RawMessage(`{}`)},
		}},
		{text: "Both tools ran."},
	}}
	agent := f.newAgent(client, 10)
	sink, events := collectSink()

	if _, err := agent.Run(context.Background(), RunInput{
		Thread:    f.thread,
		Model:     "gpt-test",
		ToolNames: []string{"slow-tool", "fast-tool"},
	}, sink); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]string{"call_slow": "slow result", "call_fast": "fast result"}
	seen := map[string]string{}
	for _, ev := range *events {
		if ev.Kind == EventToolResult {
			seen[ev.ToolResult.ToolCallID] = ev.ToolResult.Content
		}
	}
	for id, content := range want {
		if seen[id] != content {
			t.Fatalf("result for %s = %q, want %q", id, seen[id], content)
		}
	}

	// Second model turn saw both results, matched by id.
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 model turns, got %d", len(client.requests))
	}
	second := client.requests[1].Messages
	byID := map[string]string{}
	for _, m := range second {
		if m.Role == llm.RoleTool {
			byID[m.ToolCallID] = m.Content
		}
	}
	for id, content := range want {
		if byID[id] != content {
			t.Fatalf("model fed %q for %s, want %q", byID[id], id, content)
		}
	}
}

func TestAgentRunHILSuspends(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&slowTool{name: "plot-generator", hil: true, content: "never runs"})

	f := newAgentFixture(t, registry)
	f.postUser(t, "Plot my data")

	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{
			{ID: "call_hil", Name: "plot-generator", Arguments: json.RawMessage(`{"kind":"scatter"}`)},
		}},
	}}
	agent := f.newAgent(client, 10)
	sink, events := collectSink()

	outcome, err := agent.Run(context.Background(), RunInput{
		Thread:    f.thread,
		Model:     "gpt-test",
		ToolNames: []string{"plot-generator"},
	}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.PendingValidation {
		t.Fatalf("expected pending validation outcome")
	}
	if len(client.requests) != 1 {
		t.Fatalf("loop must suspend after the HIL turn, made %d model calls", len(client.requests))
	}

	call, err := f.toolCalls.GetByID(context.Background(), nil, "call_hil")
	if err != nil || call == nil {
		t.Fatalf("tool call row missing: %v", err)
	}
	if call.Validated != nil {
		t.Fatalf("HIL call must persist with validated=null")
	}

	last := (*events)[len(*events)-1]
	if last.Kind != EventFinish || !last.Finish.PendingValidation {
		t.Fatalf("stream must finish flagged pending validation: %+v", last)
	}
}

func TestAgentRunMaxTurns(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&slowTool{name: "loop-tool", content: "again"})

	f := newAgentFixture(t, registry)
	f.postUser(t, "loop forever")

	// Every turn requests another tool call; the budget must cut it off.
	var turns []fakeTurn
	for i := 0; i < 10; i++ {
		turns = append(turns, fakeTurn{toolCalls: []llm.ToolCall{
			{ID: uuid.NewString(), Name: "loop-tool", Arguments: json.RawMessage(`{}`)},
		}})
	}
	client := &fakeLLM{turns: turns}
	agent := f.newAgent(client, 3)
	sink, events := collectSink()

	outcome, err := agent.Run(context.Background(), RunInput{
		Thread:    f.thread,
		Model:     "gpt-test",
		ToolNames: []string{"loop-tool"},
	}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Turns != 3 {
		t.Fatalf("expected exactly 3 turns, got %d", outcome.Turns)
	}
	if len(client.requests) != 3 {
		t.Fatalf("model called %d times, want 3", len(client.requests))
	}

	// The cutoff finish still points at the last persisted assistant
	// message and carries its usage.
	last := (*events)[len(*events)-1]
	if last.Kind != EventFinish {
		t.Fatalf("final event = %+v, want finish", last)
	}
	if last.Finish.MessageID == "" || last.Finish.Usage == nil {
		t.Fatalf("cutoff finish incomplete: %+v", last.Finish)
	}
	msgs, err := f.messages.ListByThread(context.Background(), nil, f.thread.ID, 50, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var lastAssistant string
	for _, m := range msgs {
		if m.Entity == types.EntityAIMessage {
			lastAssistant = m.ID.String()
		}
	}
	if last.Finish.MessageID != lastAssistant {
		t.Fatalf("finish message id = %s, want %s", last.Finish.MessageID, lastAssistant)
	}
}

func TestAgentRunToolFaultBecomesText(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&slowTool{name: "broken-tool", failErr: errors.New("upstream exploded")})

	f := newAgentFixture(t, registry)
	f.postUser(t, "break it")

	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{
			{ID: "call_broken", Name: "broken-tool", Arguments: json.RawMessage(`{}`)},
		}},
		{text: "The tool failed."},
	}}
	agent := f.newAgent(client, 10)
	sink, events := collectSink()

	if _, err := agent.Run(context.Background(), RunInput{
		Thread:    f.thread,
		Model:     "gpt-test",
		ToolNames: []string{"broken-tool"},
	}, sink); err != nil {
		t.Fatalf("a tool fault must not fail the run: %v", err)
	}

	var got string
	for _, ev := range *events {
		if ev.Kind == EventToolResult && ev.ToolResult.ToolCallID == "call_broken" {
			got = ev.ToolResult.Content
		}
	}
	if got != "Tool execution failed: upstream exploded" {
		t.Fatalf("fault text = %q", got)
	}
}
