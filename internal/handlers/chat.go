package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/config"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/middleware"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/services"
	"github.com/yungbote/neuroagent-backend/internal/tools"
)

type ChatHandler struct {
	log       *logger.Logger
	cfg       *config.Config
	threads   services.ThreadService
	filtering services.FilteringService
	agent     services.AgentService
	ratelimit *middleware.RateLimitMiddleware
	ecClient  *tools.EntityCoreClient
	registry  *tools.Registry
}

func NewChatHandler(
	log *logger.Logger,
	cfg *config.Config,
	threads services.ThreadService,
	filtering services.FilteringService,
	agent services.AgentService,
	ratelimit *middleware.RateLimitMiddleware,
	ecClient *tools.EntityCoreClient,
	registry *tools.Registry,
) *ChatHandler {
	return &ChatHandler{
		log:       log.With("handler", "ChatHandler"),
		cfg:       cfg,
		threads:   threads,
		filtering: filtering,
		agent:     agent,
		ratelimit: ratelimit,
		ecClient:  ecClient,
		registry:  registry,
	}
}

type chatRequest struct {
	// Content may be empty: an empty body is the client's "continue" turn
	// after tool validation, and persists no user message.
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// ChatStreamed handles POST /qa/chat_streamed/:thread_id. The response is a
// tagged-line event stream; rate-limit headers are set before the first
// byte of the body.
func (h *ChatHandler) ChatStreamed(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	threadID, err := uuid.Parse(c.Param("thread_id"))
	if err != nil {
		RespondError(c, apperrors.Validation("invalid thread id"))
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apperrors.Validation("invalid request body"))
		return
	}
	// Size gate comes before any persistence or model call.
	if len(req.Content) > h.cfg.MaxInputSize {
		RespondError(c, apperrors.TooLarge("message exceeds maximum input size"))
		return
	}

	var limit middleware.RateLimitResult
	if rl, ok := h.cfg.RateLimits["chat"]; ok {
		limit = h.ratelimit.Check(c, "chat", rl.Limit, rl.Window())
		limit.SetHeaders(c)
		if limit.Limited {
			RespondError(c, apperrors.RateLimited(limit.RetryAfter()))
			return
		}
	}

	thread, err := h.threads.GetOwned(c.Request.Context(), rd, threadID)
	if err != nil {
		RespondError(c, err)
		return
	}

	history, err := h.threads.ListMessages(c.Request.Context(), rd, thread.ID, 20, nil)
	if err != nil {
		RespondError(c, err)
		return
	}

	var userMessageID uuid.UUID
	if req.Content != "" {
		msg, err := h.threads.PersistUserMessage(c.Request.Context(), thread, req.Content)
		if err != nil {
			RespondError(c, err)
			return
		}
		userMessageID = msg.ID
		if len(history) == 0 {
			// First message of a fresh thread; title generation runs off
			// the request path.
			go h.threads.EnsureTitle(context.WithoutCancel(c.Request.Context()), thread, req.Content)
		}
	}

	recent := services.RecentConversation(history, 6)
	filtered := h.filtering.Select(c.Request.Context(), h.registry, recent, req.Model, userMessageID)

	ec := tools.ExecContext{Token: rd.Token, Client: h.ecClient}
	if thread.VlabID != nil {
		ec.VlabID = *thread.VlabID
	}
	if thread.ProjectID != nil {
		ec.ProjectID = *thread.ProjectID
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.StreamMaxDuration)
	defer cancel()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writer := newStreamWriter(c)
	outcome, err := h.agent.Run(ctx, services.RunInput{
		Thread:    thread,
		Model:     filtered.Model,
		Reasoning: filtered.Reasoning,
		ToolNames: filtered.ToolNames,
		Exec:      ec,
	}, writer.sink)
	if err != nil {
		h.log.Error("agent run failed", "thread_id", thread.ID, "error", err)
		writer.writeError(err)
		return
	}
	if outcome.Aborted {
		h.log.Info("chat stream aborted by client", "thread_id", thread.ID, "turns", outcome.Turns)
	}
}

// streamWriter encodes agent events as tagged lines, one event per line,
// flushed immediately.
type streamWriter struct {
	c *gin.Context
}

func newStreamWriter(c *gin.Context) *streamWriter {
	return &streamWriter{c: c}
}

func (w *streamWriter) sink(ev services.Event) {
	payload := ev.Payload()
	if payload == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.writeLine(ev.Kind, raw)
}

func (w *streamWriter) writeError(err error) {
	raw, merr := json.Marshal(ErrorEnvelope{
		Error:      err.Error(),
		StatusCode: apperrors.HTTPStatus(err),
		RetryAfter: int64(apperrors.RetryAfterOf(err) / time.Second),
	})
	if merr != nil {
		return
	}
	w.writeLine("error", raw)
}

func (w *streamWriter) writeLine(tag string, payload []byte) {
	if w.c.Request.Context().Err() != nil {
		return
	}
	if _, err := w.c.Writer.WriteString(tag + ":" + string(payload) + "\n"); err != nil {
		return
	}
	w.c.Writer.Flush()
}
