package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos/testutil"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

func seedThread(t *testing.T, repo ThreadRepo, userID uuid.UUID) *types.Thread {
	t.Helper()
	now := time.Now().UTC()
	th := &types.Thread{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "New chat",
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := repo.Create(context.Background(), nil, []*types.Thread{th})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return created[0]
}

func newMessage(threadID uuid.UUID, entity string, at time.Time) *types.Message {
	return &types.Message{
		ID:         uuid.New(),
		ThreadID:   threadID,
		Entity:     entity,
		Content:    datatypes.JSON([]byte(`{"role":"user","content":"hi"}`)),
		IsComplete: true,
		CreatedAt:  at,
	}
}

func TestListByThreadOrdering(t *testing.T) {
	gdb := testutil.OpenDB(t)
	log := logger.NewNop()
	threads := NewThreadRepo(gdb, log)
	messages := NewMessageRepo(gdb, log)
	ctx := context.Background()

	th := seedThread(t, threads, uuid.New())

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		m := newMessage(th.ID, types.EntityUser, base.Add(time.Duration(i)*time.Minute))
		if _, err := messages.Create(ctx, nil, []*types.Message{m}); err != nil {
			t.Fatalf("create message: %v", err)
		}
		ids = append(ids, m.ID)
	}

	got, err := messages.ListByThread(ctx, nil, th.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("order broken at %d: got %s want %s", i, m.ID, ids[i])
		}
	}

	// Inserting one more preserves prior relative order.
	extra := newMessage(th.ID, types.EntityAIMessage, base.Add(10*time.Minute))
	if _, err := messages.Create(ctx, nil, []*types.Message{extra}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	again, err := messages.ListByThread(ctx, nil, th.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(again) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(again))
	}
	for i := range got {
		if again[i].ID != got[i].ID {
			t.Fatalf("relative order changed at %d", i)
		}
	}
	if again[5].ID != extra.ID {
		t.Fatalf("new message not last")
	}
}

func TestListByThreadBackwardPagination(t *testing.T) {
	gdb := testutil.OpenDB(t)
	log := logger.NewNop()
	threads := NewThreadRepo(gdb, log)
	messages := NewMessageRepo(gdb, log)
	ctx := context.Background()

	th := seedThread(t, threads, uuid.New())
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		m := newMessage(th.ID, types.EntityUser, base.Add(time.Duration(i)*time.Minute))
		if _, err := messages.Create(ctx, nil, []*types.Message{m}); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	page1, err := messages.ListByThread(ctx, nil, th.ID, 2, nil)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2, got %d", len(page1))
	}

	cursor := page1[0].CreatedAt
	page2, err := messages.ListByThread(ctx, nil, th.ID, 2, &cursor)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("expected 2, got %d", len(page2))
	}
	if !page2[1].CreatedAt.Before(page1[0].CreatedAt) {
		t.Fatalf("page2 should be strictly older than page1")
	}
}

func TestDeleteCascade(t *testing.T) {
	gdb := testutil.OpenDB(t)
	log := logger.NewNop()
	threads := NewThreadRepo(gdb, log)
	messages := NewMessageRepo(gdb, log)
	toolCalls := NewToolCallRepo(gdb, log)
	consumption := NewConsumptionRepo(gdb, log)
	ctx := context.Background()

	th := seedThread(t, threads, uuid.New())
	msg := newMessage(th.ID, types.EntityAIMessage, time.Now().UTC())
	if _, err := messages.Create(ctx, nil, []*types.Message{msg}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if _, err := toolCalls.Create(ctx, nil, []*types.ToolCall{{
		ID:        "call_abc",
		MessageID: msg.ID,
		Name:      "get-brain-region",
		Arguments: datatypes.JSON([]byte(`{}`)),
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("create tool call: %v", err)
	}
	if err := consumption.CreateTokenConsumption(ctx, nil, []*types.TokenConsumption{{
		ID:        uuid.New(),
		MessageID: msg.ID,
		Model:     "gpt-test",
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("create consumption: %v", err)
	}
	if err := consumption.CreateComplexityEstimation(ctx, nil, []*types.ComplexityEstimation{{
		ID:         uuid.New(),
		MessageID:  msg.ID,
		Model:      "gpt-test",
		Complexity: "low",
		CreatedAt:  time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("create complexity: %v", err)
	}

	if err := threads.DeleteCascade(ctx, nil, th.ID); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}

	if got, err := threads.GetByID(ctx, nil, th.ID); err != nil || got != nil {
		t.Fatalf("thread should be gone, got=%v err=%v", got, err)
	}
	if msgs, _ := messages.ListByThread(ctx, nil, th.ID, 10, nil); len(msgs) != 0 {
		t.Fatalf("messages should be gone, got %d", len(msgs))
	}
	if tc, _ := toolCalls.GetByID(ctx, nil, "call_abc"); tc != nil {
		t.Fatalf("tool call should be gone")
	}
	if rows, _ := consumption.ListTokenConsumptionByMessage(ctx, nil, msg.ID); len(rows) != 0 {
		t.Fatalf("consumption should be gone, got %d", len(rows))
	}
}

func TestResolveValidationSingleTransition(t *testing.T) {
	gdb := testutil.OpenDB(t)
	log := logger.NewNop()
	threads := NewThreadRepo(gdb, log)
	messages := NewMessageRepo(gdb, log)
	toolCalls := NewToolCallRepo(gdb, log)
	ctx := context.Background()

	th := seedThread(t, threads, uuid.New())
	msg := newMessage(th.ID, types.EntityAIMessage, time.Now().UTC())
	if _, err := messages.Create(ctx, nil, []*types.Message{msg}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if _, err := toolCalls.Create(ctx, nil, []*types.ToolCall{{
		ID:        "call_hil",
		MessageID: msg.ID,
		Name:      "plot-generator",
		Arguments: datatypes.JSON([]byte(`{"kind":"scatter"}`)),
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("create tool call: %v", err)
	}

	if err := toolCalls.ResolveValidation(ctx, nil, "call_hil", true); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	err := toolCalls.ResolveValidation(ctx, nil, "call_hil", false)
	if !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	err = toolCalls.ResolveValidation(ctx, nil, "call_missing", true)
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := toolCalls.GetByID(ctx, nil, "call_hil")
	if err != nil || got == nil || got.Validated == nil || *got.Validated != true {
		t.Fatalf("validated state corrupted: %+v err=%v", got, err)
	}
}
