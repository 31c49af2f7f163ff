package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/tools"
)

type ToolsHandler struct {
	log      *logger.Logger
	registry *tools.Registry
}

func NewToolsHandler(log *logger.Logger, registry *tools.Registry) *ToolsHandler {
	return &ToolsHandler{
		log:      log.With("handler", "ToolsHandler"),
		registry: registry,
	}
}

type toolSummary struct {
	Name         string `json:"name"`
	NameFrontend string `json:"name_frontend"`
}

// ListTools handles GET /tools. The list view exposes names only; schemas
// and descriptions stay behind the detail route.
func (h *ToolsHandler) ListTools(c *gin.Context) {
	metas := h.registry.List()
	out := make([]toolSummary, 0, len(metas))
	for _, m := range metas {
		out = append(out, toolSummary{Name: m.Name, NameFrontend: m.NameFrontend})
	}
	RespondOK(c, out)
}

type toolDetail struct {
	Name               string         `json:"name"`
	NameFrontend       string         `json:"name_frontend"`
	Description        string         `json:"description"`
	RequiresValidation bool           `json:"requires_validation"`
	InputSchema        map[string]any `json:"input_schema"`
	Online             bool           `json:"online"`
}

// GetTool handles GET /tools/:name.
func (h *ToolsHandler) GetTool(c *gin.Context) {
	name := c.Param("name")
	tool, ok := h.registry.Get(name)
	if !ok {
		RespondError(c, apperrors.NotFound("tool not found"))
		return
	}

	meta := tool.Metadata()
	detail := toolDetail{
		Name:               meta.Name,
		NameFrontend:       meta.NameFrontend,
		Description:        meta.Description,
		RequiresValidation: meta.RequiresValidation,
		InputSchema:        tool.InputSchema(),
		Online:             true,
	}
	if hc, ok := tool.(tools.HealthChecker); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := hc.CheckHealth(ctx); err != nil {
			h.log.Debug("tool health check failed", "tool", name, "error", err)
			detail.Online = false
		}
	}
	RespondOK(c, detail)
}
