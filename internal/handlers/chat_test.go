package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/config"
	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/middleware"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/repos/testutil"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/services"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

type scriptedLLM struct {
	text string
	err  error
}

func (s *scriptedLLM) StreamChat(ctx context.Context, req llm.Request, callback llm.StreamCallback) (*llm.TurnResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if callback != nil {
		callback(llm.StreamEvent{Kind: llm.KindTextDelta, TextDelta: s.text})
	}
	return &llm.TurnResult{
		Message: llm.Message{Role: llm.RoleAssistant, Content: s.text},
		Usage:   llm.Usage{InputTokens: 3, OutputTokens: 2},
	}, nil
}

func (s *scriptedLLM) GenerateJSON(ctx context.Context, model, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, errors.New("not configured")
}

type chatTestEnv struct {
	router   *gin.Engine
	threads  services.ThreadService
	messages repos.MessageRepo
	userID   uuid.UUID
	thread   *types.Thread
}

func newChatTestEnv(t *testing.T, client llm.Client) *chatTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	log := logger.NewNop()

	threadRepo := repos.NewThreadRepo(db, log)
	messageRepo := repos.NewMessageRepo(db, log)
	toolCallRepo := repos.NewToolCallRepo(db, log)
	consumptionRepo := repos.NewConsumptionRepo(db, log)
	registry := tools.NewRegistry()

	cfg := &config.Config{
		DefaultModel:      "gpt-test",
		MaxTurns:          5,
		MaxInputSize:      100,
		StreamMaxDuration: 30 * time.Second,
		RateLimits:        config.RateLimits{},
	}

	threadSvc := services.NewThreadService(log, threadRepo, messageRepo, toolCallRepo, nil, "")
	filtering := services.NewFilteringService(log, nil, "", cfg.DefaultModel, "none", 5, nil)
	agent := services.NewAgentService(log, client, registry, messageRepo, toolCallRepo, consumptionRepo, threadRepo, cfg.MaxTurns, 5)
	ratelimit := middleware.NewRateLimitMiddleware(log, middleware.NewMemoryCounterStore())
	handler := NewChatHandler(log, cfg, threadSvc, filtering, agent, ratelimit, nil, registry)

	userID := uuid.New()
	thread, err := threadSvc.Create(context.Background(), userID, nil, nil, "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
	})
	router.POST("/qa/chat_streamed/:thread_id", handler.ChatStreamed)

	return &chatTestEnv{
		router:   router,
		threads:  threadSvc,
		messages: messageRepo,
		userID:   userID,
		thread:   thread,
	}
}

func (e *chatTestEnv) post(threadID, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/qa/chat_streamed/"+threadID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)
	return w
}

func TestChatStreamedOversizedInput(t *testing.T) {
	env := newChatTestEnv(t, &scriptedLLM{text: "hi"})

	big := strings.Repeat("x", 101)
	w := env.post(env.thread.ID.String(), `{"content":"`+big+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}

	msgs, err := env.messages.ListByThread(context.Background(), nil, env.thread.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("oversized input must persist nothing, found %d messages", len(msgs))
	}
}

func TestChatStreamedUnknownThread(t *testing.T) {
	env := newChatTestEnv(t, &scriptedLLM{text: "hi"})

	w := env.post(uuid.NewString(), `{"content":"hello"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestChatStreamedForeignThread(t *testing.T) {
	env := newChatTestEnv(t, &scriptedLLM{text: "hi"})

	other, err := env.threads.Create(context.Background(), uuid.New(), nil, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := env.post(other.ID.String(), `{"content":"hello"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestChatStreamedTaggedLines(t *testing.T) {
	env := newChatTestEnv(t, &scriptedLLM{text: "A neuron is a cell."})

	w := env.post(env.thread.ID.String(), `{"content":"What is a neuron?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sawText, sawFinish bool
	for _, line := range strings.Split(strings.TrimSpace(w.Body.String()), "\n") {
		tag, _, ok := strings.Cut(line, ":")
		if !ok {
			t.Fatalf("untagged line: %q", line)
		}
		switch tag {
		case "text":
			sawText = true
		case "finish":
			sawFinish = true
		}
	}
	if !sawText || !sawFinish {
		t.Fatalf("stream missing events: text=%v finish=%v body=%q", sawText, sawFinish, w.Body.String())
	}

	msgs, err := env.messages.ListByThread(context.Background(), nil, env.thread.ID, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant persisted, got %d", len(msgs))
	}
}
