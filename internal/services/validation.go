package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

// RejectedResultContent is the fixed tool-result text written when a human
// rejects a pending call. Clients match on it verbatim.
const RejectedResultContent = "Tool execution rejected by user."

type ValidationService interface {
	// SubmitValidation resolves one pending human-in-the-loop tool call.
	// The call must belong to a thread the caller owns and may access;
	// approval executes the tool under the owning thread's lab/project
	// scope with the caller's credential. Rejection writes the fixed
	// rejection text. Either way exactly one tool-result message is
	// persisted, so the suspended turn always finds a result for the call
	// when the client resumes.
	SubmitValidation(ctx context.Context, rd *requestdata.RequestData, ec tools.ExecContext, callID string, validatedInputs json.RawMessage, isValidated bool) (string, error)
}

type validationService struct {
	log       *logger.Logger
	registry  *tools.Registry
	messages  repos.MessageRepo
	toolCalls repos.ToolCallRepo
	threads   repos.ThreadRepo
}

func NewValidationService(log *logger.Logger, registry *tools.Registry, messages repos.MessageRepo, toolCalls repos.ToolCallRepo, threads repos.ThreadRepo) ValidationService {
	return &validationService{
		log:       log.With("service", "ValidationService"),
		registry:  registry,
		messages:  messages,
		toolCalls: toolCalls,
		threads:   threads,
	}
}

func (s *validationService) SubmitValidation(ctx context.Context, rd *requestdata.RequestData, ec tools.ExecContext, callID string, validatedInputs json.RawMessage, isValidated bool) (string, error) {
	call, err := s.toolCalls.GetByID(ctx, nil, callID)
	if err != nil {
		return "", err
	}
	if call == nil {
		return "", apperrors.NotFound("tool call not found")
	}

	parent, err := s.messages.GetByID(ctx, nil, call.MessageID)
	if err != nil {
		return "", err
	}
	if parent == nil {
		return "", apperrors.NotFound("owning message not found")
	}
	thread, err := s.threads.GetByID(ctx, nil, parent.ThreadID)
	if err != nil {
		return "", err
	}
	if thread == nil {
		return "", apperrors.NotFound("owning thread not found")
	}

	// Only the thread's owner may resolve its pending calls, and only with
	// standing in the thread's lab/project.
	if thread.UserID != rd.UserID {
		return "", apperrors.Authorization("tool call belongs to another user's thread")
	}
	var vlabID, projectID string
	if thread.VlabID != nil {
		vlabID = *thread.VlabID
	}
	if thread.ProjectID != nil {
		projectID = *thread.ProjectID
	}
	if err := requestdata.AuthorizeProjectAccess(rd.Groups, vlabID, projectID); err != nil {
		return "", err
	}

	// The NULL→value transition is the concurrency guard: two racing
	// submissions cannot both pass it.
	if err := s.toolCalls.ResolveValidation(ctx, nil, callID, isValidated); err != nil {
		return "", err
	}

	result := RejectedResultContent
	if isValidated {
		// An approved tool runs under the owning thread's scope, exactly as
		// it would have inside the agent loop.
		ec.VlabID = vlabID
		ec.ProjectID = projectID

		args := validatedInputs
		if len(args) == 0 {
			args = json.RawMessage(call.Arguments)
		} else {
			// The human-edited input supersedes what the model asked for.
			if err := s.toolCalls.UpdateArguments(ctx, nil, callID, datatypes.JSON(args)); err != nil {
				s.log.Warn("failed to persist edited arguments", "call_id", callID, "error", err)
			}
		}
		result = s.execute(ctx, ec, call.Name, args)
	}

	if err := s.persistResult(ctx, thread.ID, call, result); err != nil {
		return "", err
	}
	return result, nil
}

func (s *validationService) execute(ctx context.Context, ec tools.ExecContext, name string, args json.RawMessage) string {
	t, ok := s.registry.Get(name)
	if !ok {
		return "Tool execution failed: unknown tool " + name
	}
	res := t.Execute(ctx, ec, args)
	if res.Err != nil {
		s.log.Warn("validated tool execution failed", "tool", name, "error", res.Err)
		return "Tool execution failed: " + res.Err.Error()
	}
	return res.Content
}

func (s *validationService) persistResult(ctx context.Context, threadID uuid.UUID, call *types.ToolCall, content string) error {
	payload, err := json.Marshal(types.ToolContent{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
	})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	msg := &types.Message{
		ID:         uuid.New(),
		ThreadID:   threadID,
		Entity:     types.EntityTool,
		Content:    datatypes.JSON(payload),
		IsComplete: true,
		CreatedAt:  now,
	}
	if _, err := s.messages.Create(ctx, nil, []*types.Message{msg}); err != nil {
		return err
	}
	if err := repos.Touch(ctx, s.threads, nil, threadID, now); err != nil {
		s.log.Warn("failed to touch thread", "thread_id", threadID, "error", err)
	}
	return nil
}
