package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

type validationFixture struct {
	*agentFixture
	svc    ValidationService
	callID string
}

func newValidationFixture(t *testing.T, tool tools.Tool) *validationFixture {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(tool)
	f := newAgentFixture(t, registry)
	f.postUser(t, "Plot my data")

	// Seed the suspended state: an assistant message whose HIL call is
	// still pending.
	client := &fakeLLM{turns: []fakeTurn{
		{toolCalls: []llm.ToolCall{
			{ID: "call_pending", Name: tool.Name(), Arguments: json.RawMessage(`{"kind":"scatter"}`)},
		}},
	}}
	agent := f.newAgent(client, 10)
	sink, _ := collectSink()
	outcome, err := agent.Run(context.Background(), RunInput{
		Thread:    f.thread,
		Model:     "gpt-test",
		ToolNames: []string{tool.Name()},
	}, sink)
	if err != nil || !outcome.PendingValidation {
		t.Fatalf("seed run: outcome=%+v err=%v", outcome, err)
	}

	return &validationFixture{
		agentFixture: f,
		svc:          NewValidationService(logger.NewNop(), registry, f.messages, f.toolCalls, f.threads),
		callID:       "call_pending",
	}
}

// ownerRD is the request identity of the thread's owner.
func (f *validationFixture) ownerRD(groups ...string) *requestdata.RequestData {
	return &requestdata.RequestData{UserID: f.thread.UserID, Groups: groups}
}

func (f *validationFixture) lastToolMessage(t *testing.T) *types.ToolContent {
	t.Helper()
	msgs, err := f.messages.ListByThread(context.Background(), nil, f.thread.ID, 50, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Entity == types.EntityTool {
			var payload types.ToolContent
			if err := json.Unmarshal(msgs[i].Content, &payload); err != nil {
				t.Fatalf("tool payload: %v", err)
			}
			return &payload
		}
	}
	return nil
}

// scopeTool records the ExecContext it was executed with.
type scopeTool struct {
	slowTool
	got tools.ExecContext
}

func (s *scopeTool) Execute(ctx context.Context, ec tools.ExecContext, args json.RawMessage) tools.Result {
	s.got = ec
	return s.slowTool.Execute(ctx, ec, args)
}

func TestValidationReject(t *testing.T) {
	f := newValidationFixture(t, &slowTool{name: "plot-generator", hil: true, content: "must not run"})

	result, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, f.callID, nil, false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if result != "Tool execution rejected by user." {
		t.Fatalf("rejection text = %q", result)
	}

	call, _ := f.toolCalls.GetByID(context.Background(), nil, f.callID)
	if call.Validated == nil || *call.Validated != false {
		t.Fatalf("validated state = %v", call.Validated)
	}

	msg := f.lastToolMessage(t)
	if msg == nil || msg.Content != "Tool execution rejected by user." || msg.ToolCallID != f.callID {
		t.Fatalf("tool-result message wrong: %+v", msg)
	}
}

func TestValidationApproveExecutesOnce(t *testing.T) {
	tool := &slowTool{name: "plot-generator", hil: true, content: "plot ready"}
	f := newValidationFixture(t, tool)

	result, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, f.callID, json.RawMessage(`{"kind":"line"}`), true)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if result != "plot ready" {
		t.Fatalf("result = %q", result)
	}

	// Round trip: exactly one tool-result message carries the call id.
	msgs, _ := f.messages.ListByThread(context.Background(), nil, f.thread.ID, 50, nil)
	count := 0
	for _, m := range msgs {
		if m.Entity != types.EntityTool {
			continue
		}
		var payload types.ToolContent
		if err := json.Unmarshal(m.Content, &payload); err == nil && payload.ToolCallID == f.callID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one tool-result message, got %d", count)
	}

	// Edited input replaced the stored arguments.
	call, _ := f.toolCalls.GetByID(context.Background(), nil, f.callID)
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args["kind"] != "line" {
		t.Fatalf("edited arguments not stored: %s", string(call.Arguments))
	}

	// Resubmission conflicts and does not execute again.
	if _, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, f.callID, nil, true); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("resubmission: expected conflict, got %v", err)
	}
	msgs, _ = f.messages.ListByThread(context.Background(), nil, f.thread.ID, 50, nil)
	after := 0
	for _, m := range msgs {
		if m.Entity == types.EntityTool {
			after++
		}
	}
	if after != 1 {
		t.Fatalf("conflict must not add another result, got %d tool messages", after)
	}
}

func TestValidationUnknownCall(t *testing.T) {
	f := newValidationFixture(t, &slowTool{name: "plot-generator", hil: true})

	_, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, "call_nope", nil, true)
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidationForeignUserCannotResolve(t *testing.T) {
	f := newValidationFixture(t, &slowTool{name: "plot-generator", hil: true, content: "must not run"})

	stranger := &requestdata.RequestData{UserID: uuid.New(), Token: "stranger-token"}
	_, err := f.svc.SubmitValidation(context.Background(), stranger, tools.ExecContext{Token: stranger.Token}, f.callID, nil, true)
	if !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	// The call stays pending and nothing was executed or persisted.
	call, _ := f.toolCalls.GetByID(context.Background(), nil, f.callID)
	if call.Validated != nil {
		t.Fatalf("foreign submission must not resolve the call, validated=%v", call.Validated)
	}
	if msg := f.lastToolMessage(t); msg != nil {
		t.Fatalf("foreign submission must not persist a result: %+v", msg)
	}

	// The owner can still resolve it afterwards.
	if _, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, f.callID, nil, false); err != nil {
		t.Fatalf("owner resolve after foreign attempt: %v", err)
	}
}

func TestValidationApproveRunsUnderThreadScope(t *testing.T) {
	tool := &scopeTool{slowTool: slowTool{name: "plot-generator", hil: true, content: "scoped plot"}}
	f := newValidationFixture(t, tool)

	// Move the thread into a lab/project after seeding the pending call.
	if err := f.db.Model(&types.Thread{}).Where("id = ?", f.thread.ID).Updates(map[string]interface{}{
		"vlab_id":    "lab-1",
		"project_id": "proj-1",
	}).Error; err != nil {
		t.Fatalf("scope thread: %v", err)
	}

	rd := f.ownerRD("/vlab/lab-1", "/proj/lab-1/proj-1")
	result, err := f.svc.SubmitValidation(context.Background(), rd, tools.ExecContext{Token: "owner-token"}, f.callID, nil, true)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if result != "scoped plot" {
		t.Fatalf("result = %q", result)
	}
	if tool.got.VlabID != "lab-1" || tool.got.ProjectID != "proj-1" || tool.got.Token != "owner-token" {
		t.Fatalf("tool ran with wrong scope: %+v", tool.got)
	}

	// An owner without standing in the lab is refused before resolution.
	f2 := newValidationFixture(t, &slowTool{name: "plot-generator", hil: true})
	if err := f2.db.Model(&types.Thread{}).Where("id = ?", f2.thread.ID).Updates(map[string]interface{}{
		"vlab_id": "lab-1",
	}).Error; err != nil {
		t.Fatalf("scope thread: %v", err)
	}
	if _, err := f2.svc.SubmitValidation(context.Background(), f2.ownerRD(), tools.ExecContext{}, f2.callID, nil, true); !apperrors.IsKind(err, apperrors.KindAuthorization) {
		t.Fatalf("expected authorization error without lab membership, got %v", err)
	}
	if call, _ := f2.toolCalls.GetByID(context.Background(), nil, f2.callID); call.Validated != nil {
		t.Fatalf("unauthorized submission must not resolve the call")
	}
}

func TestValidationApproveFaultBecomesText(t *testing.T) {
	f := newValidationFixture(t, &slowTool{name: "plot-generator", hil: true, failErr: errors.New("plot backend down")})

	result, err := f.svc.SubmitValidation(context.Background(), f.ownerRD(), tools.ExecContext{}, f.callID, nil, true)
	if err != nil {
		t.Fatalf("fault must not propagate: %v", err)
	}
	if result != "Tool execution failed: plot backend down" {
		t.Fatalf("result = %q", result)
	}
	msg := f.lastToolMessage(t)
	if msg == nil || msg.Content != result {
		t.Fatalf("fault text not persisted: %+v", msg)
	}
}
