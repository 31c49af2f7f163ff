package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

type ThreadService interface {
	Create(ctx context.Context, userID uuid.UUID, vlabID, projectID *string, title string) (*types.Thread, error)
	// GetOwned loads a thread and enforces ownership plus lab/project
	// membership of the caller.
	GetOwned(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID) (*types.Thread, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Thread, error)
	Rename(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID, title string) error
	Delete(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID) error
	ListMessages(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID, limit int, before *time.Time) ([]*types.Message, error)
	// PersistUserMessage writes the incoming user message before the agent
	// loop starts.
	PersistUserMessage(ctx context.Context, thread *types.Thread, content string) (*types.Message, error)
	// EnsureTitle generates a short thread title from the first user
	// message, best effort.
	EnsureTitle(ctx context.Context, thread *types.Thread, firstMessage string)
}

type threadService struct {
	log       *logger.Logger
	threads   repos.ThreadRepo
	messages  repos.MessageRepo
	toolCalls repos.ToolCallRepo
	aux       llm.Client
	auxModel  string
}

func NewThreadService(log *logger.Logger, threads repos.ThreadRepo, messages repos.MessageRepo, toolCalls repos.ToolCallRepo, aux llm.Client, auxModel string) ThreadService {
	return &threadService{
		log:       log.With("service", "ThreadService"),
		threads:   threads,
		messages:  messages,
		toolCalls: toolCalls,
		aux:       aux,
		auxModel:  auxModel,
	}
}

func (s *threadService) Create(ctx context.Context, userID uuid.UUID, vlabID, projectID *string, title string) (*types.Thread, error) {
	if strings.TrimSpace(title) == "" {
		title = "New chat"
	}
	now := time.Now().UTC()
	rows, err := s.threads.Create(ctx, nil, []*types.Thread{{
		ID:        uuid.New(),
		UserID:    userID,
		VlabID:    vlabID,
		ProjectID: projectID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *threadService) GetOwned(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID) (*types.Thread, error) {
	thread, err := s.threads.GetByID(ctx, nil, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, apperrors.NotFound("thread not found")
	}
	if thread.UserID != rd.UserID {
		return nil, apperrors.Authorization("thread belongs to another user")
	}
	var vlabID, projectID string
	if thread.VlabID != nil {
		vlabID = *thread.VlabID
	}
	if thread.ProjectID != nil {
		projectID = *thread.ProjectID
	}
	if err := requestdata.AuthorizeProjectAccess(rd.Groups, vlabID, projectID); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *threadService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Thread, error) {
	return s.threads.ListByUser(ctx, nil, userID, limit)
}

func (s *threadService) Rename(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID, title string) error {
	thread, err := s.GetOwned(ctx, rd, threadID)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.Validation("title must not be empty")
	}
	return s.threads.UpdateFields(ctx, nil, thread.ID, map[string]interface{}{
		"title":       title,
		"update_date": time.Now().UTC(),
	})
}

func (s *threadService) Delete(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID) error {
	thread, err := s.GetOwned(ctx, rd, threadID)
	if err != nil {
		return err
	}
	return s.threads.DeleteCascade(ctx, nil, thread.ID)
}

func (s *threadService) ListMessages(ctx context.Context, rd *requestdata.RequestData, threadID uuid.UUID, limit int, before *time.Time) ([]*types.Message, error) {
	thread, err := s.GetOwned(ctx, rd, threadID)
	if err != nil {
		return nil, err
	}
	return s.messages.ListByThread(ctx, nil, thread.ID, limit, before)
}

func (s *threadService) PersistUserMessage(ctx context.Context, thread *types.Thread, content string) (*types.Message, error) {
	payload, err := json.Marshal(types.UserContent{Role: llm.RoleUser, Content: content})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	msg := &types.Message{
		ID:         uuid.New(),
		ThreadID:   thread.ID,
		Entity:     types.EntityUser,
		Content:    datatypes.JSON(payload),
		IsComplete: true,
		CreatedAt:  now,
	}
	if _, err := s.messages.Create(ctx, nil, []*types.Message{msg}); err != nil {
		return nil, err
	}
	if err := repos.Touch(ctx, s.threads, nil, thread.ID, now); err != nil {
		s.log.Warn("failed to touch thread", "thread_id", thread.ID, "error", err)
	}
	return msg, nil
}

func (s *threadService) EnsureTitle(ctx context.Context, thread *types.Thread, firstMessage string) {
	if s.aux == nil || s.auxModel == "" {
		return
	}
	if thread.Title != "" && thread.Title != "New chat" {
		return
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "At most six words, no quotes.",
			},
		},
		"required":             []string{"title"},
		"additionalProperties": false,
	}
	out, err := s.aux.GenerateJSON(ctx, s.auxModel,
		"Produce a short title for a conversation that starts with the given message.",
		firstMessage, "thread_title", schema)
	if err != nil {
		s.log.Warn("title generation failed", "thread_id", thread.ID, "error", err)
		return
	}
	title, _ := out["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	if err := s.threads.UpdateFields(ctx, nil, thread.ID, map[string]interface{}{"title": title}); err != nil {
		s.log.Warn("failed to store generated title", "thread_id", thread.ID, "error", err)
	}
}
