package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

// RunInput configures one agent run over a thread.
type RunInput struct {
	Thread    *types.Thread
	Model     string
	Reasoning string
	// ToolNames is the filtered subset the model may call.
	ToolNames []string
	Exec      tools.ExecContext
}

// RunOutcome reports how the run ended.
type RunOutcome struct {
	// Aborted is set when the client cancelled mid-stream; partial text was
	// persisted with is_complete=false.
	Aborted bool
	// PendingValidation is set when the run suspended on a human-in-the-loop
	// tool call. The client resumes with a fresh request after resolution.
	PendingValidation bool
	Turns             int
}

type AgentService interface {
	// Run drives the multi-turn tool loop for the thread's current history,
	// emitting events to sink as they happen. The newest user message must
	// already be persisted.
	Run(ctx context.Context, in RunInput, sink EventSink) (*RunOutcome, error)
}

type agentService struct {
	log         *logger.Logger
	client      llm.Client
	registry    *tools.Registry
	messages    repos.MessageRepo
	toolCalls   repos.ToolCallRepo
	consumption repos.ConsumptionRepo
	threads     repos.ThreadRepo

	maxTurns    int
	maxParallel int
}

func NewAgentService(
	log *logger.Logger,
	client llm.Client,
	registry *tools.Registry,
	messages repos.MessageRepo,
	toolCalls repos.ToolCallRepo,
	consumption repos.ConsumptionRepo,
	threads repos.ThreadRepo,
	maxTurns, maxParallel int,
) AgentService {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &agentService{
		log:         log.With("service", "AgentService"),
		client:      client,
		registry:    registry,
		messages:    messages,
		toolCalls:   toolCalls,
		consumption: consumption,
		threads:     threads,
		maxTurns:    maxTurns,
		maxParallel: maxParallel,
	}
}

const systemPrompt = `You are a neuroscience research assistant with access to a curated knowledge graph of brain regions, neuron morphologies, electrophysiology recordings and scientific literature. Use the provided tools to ground answers in data; cite identifiers when you reference specific entities. Answer directly when no tool applies.`

func (s *agentService) Run(ctx context.Context, in RunInput, sink EventSink) (*RunOutcome, error) {
	history, err := s.loadHistory(ctx, in.Thread.ID)
	if err != nil {
		return nil, err
	}
	defs := s.toolDefs(in.ToolNames)

	outcome := &RunOutcome{}
	var lastMsgID string
	var lastUsage *llm.Usage
	for turn := 0; turn < s.maxTurns; turn++ {
		outcome.Turns = turn + 1

		turnState := &turnAccumulator{}
		result, streamErr := s.client.StreamChat(ctx, llm.Request{
			Model:     in.Model,
			Reasoning: in.Reasoning,
			System:    systemPrompt,
			Messages:  history,
			Tools:     defs,
		}, turnState.callback(sink, s.hilFlags(in.ToolNames)))

		if streamErr != nil {
			aborted := ctx.Err() != nil
			// Persist whatever partial text the model produced before the
			// stream died, flagged incomplete. The request context may
			// already be dead, so the write runs detached from it.
			if turnState.text.Len() > 0 || turnState.reasoning.Len() > 0 {
				pctx := context.WithoutCancel(ctx)
				if _, perr := s.persistAssistant(pctx, in.Thread, turnState.text.String(), turnState.reasoning.String(), false, nil, nil); perr != nil {
					s.log.Error("failed to persist partial assistant message", "error", perr)
				}
			}
			if aborted {
				outcome.Aborted = true
				return outcome, nil
			}
			return outcome, apperrors.Upstream("model stream failed", streamErr)
		}

		assistant := result.Message
		hil := s.hilFlags(in.ToolNames)
		var pending, auto []llm.ToolCall
		for _, call := range assistant.ToolCalls {
			if hil[call.Name] {
				pending = append(pending, call)
			} else {
				auto = append(auto, call)
			}
		}

		msg, err := s.persistAssistant(ctx, in.Thread, assistant.Content, assistant.Reasoning, true, assistant.ToolCalls, hil)
		if err != nil {
			return outcome, err
		}
		s.recordUsage(ctx, msg.ID, in.Model, result.Usage)
		lastMsgID = msg.ID.String()
		lastUsage = &result.Usage

		if len(assistant.ToolCalls) == 0 {
			sink(Event{Kind: EventFinish, Finish: &FinishPayload{
				MessageID:  msg.ID.String(),
				IsComplete: true,
				Usage:      &result.Usage,
			}})
			return outcome, nil
		}

		history = append(history, assistant)

		results, execErr := s.executeBatch(ctx, in.Exec, auto)
		if ctx.Err() != nil {
			// Told to abort while tools were running: completed results are
			// discarded, nothing more is fed back to the model.
			outcome.Aborted = true
			return outcome, nil
		}
		if execErr != nil {
			return outcome, execErr
		}

		// Results are matched to their requests by call id; arrival order
		// is irrelevant.
		for _, call := range auto {
			content := results[call.ID]
			if err := s.persistToolResult(ctx, in.Thread, call, content); err != nil {
				return outcome, err
			}
			sink(Event{Kind: EventToolResult, ToolResult: &ToolResultPayload{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    content,
			}})
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}

		if len(pending) > 0 {
			// Human-in-the-loop: the run suspends here. Validation happens
			// on a separate request and the client re-invokes the loop.
			sink(Event{Kind: EventFinish, Finish: &FinishPayload{
				MessageID:         msg.ID.String(),
				IsComplete:        true,
				PendingValidation: true,
				Usage:             &result.Usage,
			}})
			outcome.PendingValidation = true
			return outcome, nil
		}
	}

	// Turn budget exhausted: the loop stops and the last assistant message
	// stands as complete.
	s.log.Warn("agent run hit max turns", "thread_id", in.Thread.ID, "max_turns", s.maxTurns)
	sink(Event{Kind: EventFinish, Finish: &FinishPayload{
		MessageID:  lastMsgID,
		IsComplete: true,
		Usage:      lastUsage,
	}})
	return outcome, nil
}

// turnAccumulator keeps the partial text of an in-flight model turn so an
// aborted stream can still be persisted.
type turnAccumulator struct {
	text      strings.Builder
	reasoning strings.Builder
}

func (t *turnAccumulator) callback(sink EventSink, hil map[string]bool) llm.StreamCallback {
	return func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindTextDelta:
			t.text.WriteString(ev.TextDelta)
			sink(Event{Kind: EventText, Text: &TextPayload{Content: ev.TextDelta}})
		case llm.KindReasoningDelta:
			t.reasoning.WriteString(ev.ReasoningDelta)
			sink(Event{Kind: EventReasoning, Text: &TextPayload{Content: ev.ReasoningDelta}})
		case llm.KindToolCall:
			validation := types.ValidationNotRequired
			if hil[ev.ToolCall.Name] {
				validation = types.ValidationPending
			}
			sink(Event{Kind: EventToolCall, ToolCall: &ToolCallPayload{
				ToolCallID: ev.ToolCall.ID,
				Name:       ev.ToolCall.Name,
				Arguments:  string(ev.ToolCall.Arguments),
				Validation: validation,
			}})
		}
	}
}

func (s *agentService) hilFlags(toolNames []string) map[string]bool {
	out := map[string]bool{}
	for _, name := range toolNames {
		if t, ok := s.registry.Get(name); ok {
			out[name] = t.Metadata().RequiresValidation
		}
	}
	return out
}

func (s *agentService) toolDefs(names []string) []llm.ToolDef {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	defs := make([]llm.ToolDef, 0, len(sorted))
	for _, name := range sorted {
		t, ok := s.registry.Get(name)
		if !ok {
			s.log.Warn("filtered tool not in registry, skipping", "tool", name)
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Metadata().Description,
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// executeBatch runs the turn's automatic tool calls with bounded
// parallelism and a barrier: every result is collected before returning.
// Tool bodies are never cancelled mid-flight; an aborted request discards
// results at the call site instead.
func (s *agentService) executeBatch(ctx context.Context, ec tools.ExecContext, calls []llm.ToolCall) (map[string]string, error) {
	results := make(map[string]string, len(calls))
	if len(calls) == 0 {
		return results, nil
	}

	type outcome struct {
		id      string
		content string
	}
	outcomes := make(chan outcome, len(calls))
	execCtx := context.WithoutCancel(ctx)

	g := &errgroup.Group{}
	g.SetLimit(s.maxParallel)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			outcomes <- outcome{id: call.ID, content: s.executeOne(execCtx, ec, call)}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	for o := range outcomes {
		results[o.id] = o.content
	}
	return results, nil
}

func (s *agentService) executeOne(ctx context.Context, ec tools.ExecContext, call llm.ToolCall) string {
	t, ok := s.registry.Get(call.Name)
	if !ok {
		return "Tool execution failed: unknown tool " + call.Name
	}
	res := t.Execute(ctx, ec, call.Arguments)
	if res.Err != nil {
		s.log.Warn("tool execution failed", "tool", call.Name, "call_id", call.ID, "error", res.Err)
		return "Tool execution failed: " + res.Err.Error()
	}
	return res.Content
}

func (s *agentService) loadHistory(ctx context.Context, threadID uuid.UUID) ([]llm.Message, error) {
	rows, err := s.messages.ListByThread(ctx, nil, threadID, 200, nil)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		switch row.Entity {
		case types.EntityUser:
			var payload types.UserContent
			if err := json.Unmarshal(row.Content, &payload); err != nil {
				continue
			}
			out = append(out, llm.Message{Role: llm.RoleUser, Content: payload.Content})
		case types.EntityAIMessage:
			var payload types.AIContent
			if err := json.Unmarshal(row.Content, &payload); err != nil {
				continue
			}
			msg := llm.Message{Role: llm.RoleAssistant, Content: payload.Content}
			calls, err := s.toolCalls.ListByMessage(ctx, nil, row.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range calls {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        c.ID,
					Name:      c.Name,
					Arguments: json.RawMessage(c.Arguments),
				})
			}
			out = append(out, msg)
		case types.EntityTool:
			var payload types.ToolContent
			if err := json.Unmarshal(row.Content, &payload); err != nil {
				continue
			}
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				Content:    payload.Content,
				ToolCallID: payload.ToolCallID,
				Name:       payload.Name,
			})
		}
	}
	return out, nil
}

func (s *agentService) persistAssistant(ctx context.Context, thread *types.Thread, text, reasoning string, complete bool, calls []llm.ToolCall, hil map[string]bool) (*types.Message, error) {
	now := time.Now().UTC()
	payload, err := json.Marshal(types.AIContent{
		Role:      llm.RoleAssistant,
		Content:   text,
		Reasoning: reasoning,
	})
	if err != nil {
		return nil, err
	}
	msg := &types.Message{
		ID:         uuid.New(),
		ThreadID:   thread.ID,
		Entity:     types.EntityAIMessage,
		Content:    datatypes.JSON(payload),
		IsComplete: complete,
		CreatedAt:  now,
	}
	if _, err := s.messages.Create(ctx, nil, []*types.Message{msg}); err != nil {
		return nil, err
	}

	if len(calls) > 0 {
		rows := make([]*types.ToolCall, 0, len(calls))
		for _, call := range calls {
			row := &types.ToolCall{
				ID:        call.ID,
				MessageID: msg.ID,
				Name:      call.Name,
				Arguments: datatypes.JSON(call.Arguments),
				CreatedAt: now,
			}
			// Automatic tools are resolved by policy on creation; only
			// HIL-gated calls stay null awaiting a human.
			if !hil[call.Name] {
				approved := true
				row.Validated = &approved
			}
			rows = append(rows, row)
		}
		if _, err := s.toolCalls.Create(ctx, nil, rows); err != nil {
			return nil, err
		}
	}

	if err := repos.Touch(ctx, s.threads, nil, thread.ID, now); err != nil {
		s.log.Warn("failed to touch thread", "thread_id", thread.ID, "error", err)
	}
	return msg, nil
}

func (s *agentService) persistToolResult(ctx context.Context, thread *types.Thread, call llm.ToolCall, content string) error {
	payload, err := json.Marshal(types.ToolContent{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
	})
	if err != nil {
		return err
	}
	msg := &types.Message{
		ID:         uuid.New(),
		ThreadID:   thread.ID,
		Entity:     types.EntityTool,
		Content:    datatypes.JSON(payload),
		IsComplete: true,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.messages.Create(ctx, nil, []*types.Message{msg})
	return err
}

func (s *agentService) recordUsage(ctx context.Context, messageID uuid.UUID, model string, usage llm.Usage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	row := &types.TokenConsumption{
		ID:           uuid.New(),
		MessageID:    messageID,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.consumption.CreateTokenConsumption(ctx, nil, []*types.TokenConsumption{row}); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("failed to record token consumption", "error", err)
	}
}
