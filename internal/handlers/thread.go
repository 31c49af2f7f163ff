package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/services"
)

type ThreadHandler struct {
	log     *logger.Logger
	threads services.ThreadService
}

func NewThreadHandler(log *logger.Logger, threads services.ThreadService) *ThreadHandler {
	return &ThreadHandler{
		log:     log.With("handler", "ThreadHandler"),
		threads: threads,
	}
}

type createThreadRequest struct {
	Title     string  `json:"title,omitempty"`
	VlabID    *string `json:"vlab_id,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
}

func (h *ThreadHandler) CreateThread(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())

	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apperrors.Validation("invalid request body"))
		return
	}
	var vlab, project string
	if req.VlabID != nil {
		vlab = *req.VlabID
	}
	if req.ProjectID != nil {
		project = *req.ProjectID
	}
	if err := requestdata.AuthorizeProjectAccess(rd.Groups, vlab, project); err != nil {
		RespondError(c, err)
		return
	}

	thread, err := h.threads.Create(c.Request.Context(), rd.UserID, req.VlabID, req.ProjectID, req.Title)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, thread)
}

func (h *ThreadHandler) ListThreads(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	threads, err := h.threads.ListByUser(c.Request.Context(), rd.UserID, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, threads)
}

// ListMessages handles GET /threads/:thread_id/messages with backward
// cursor pagination: pass before=<RFC3339 timestamp> to fetch older pages.
func (h *ThreadHandler) ListMessages(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	threadID, err := uuid.Parse(c.Param("thread_id"))
	if err != nil {
		RespondError(c, apperrors.Validation("invalid thread id"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			RespondError(c, apperrors.Validation("invalid before cursor"))
			return
		}
		before = &ts
	}

	msgs, err := h.threads.ListMessages(c.Request.Context(), rd, threadID, limit, before)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"messages": msgs,
		"has_more": len(msgs) == limit,
	})
}

type renameThreadRequest struct {
	Title string `json:"title"`
}

func (h *ThreadHandler) RenameThread(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	threadID, err := uuid.Parse(c.Param("thread_id"))
	if err != nil {
		RespondError(c, apperrors.Validation("invalid thread id"))
		return
	}
	var req renameThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apperrors.Validation("invalid request body"))
		return
	}
	if err := h.threads.Rename(c.Request.Context(), rd, threadID, req.Title); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *ThreadHandler) DeleteThread(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	threadID, err := uuid.Parse(c.Param("thread_id"))
	if err != nil {
		RespondError(c, apperrors.Validation("invalid thread id"))
		return
	}
	if err := h.threads.Delete(c.Request.Context(), rd, threadID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
