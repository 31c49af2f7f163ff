package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/services"
	"github.com/yungbote/neuroagent-backend/internal/tools"
)

type ValidationHandler struct {
	log        *logger.Logger
	validation services.ValidationService
	ecClient   *tools.EntityCoreClient
}

func NewValidationHandler(log *logger.Logger, validation services.ValidationService, ecClient *tools.EntityCoreClient) *ValidationHandler {
	return &ValidationHandler{
		log:        log.With("handler", "ValidationHandler"),
		validation: validation,
		ecClient:   ecClient,
	}
}

type validateToolRequest struct {
	ToolCallID      string          `json:"tool_call_id"`
	ValidatedInputs json.RawMessage `json:"validated_inputs,omitempty"`
	IsValidated     bool            `json:"is_validated"`
}

type validateToolResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// ValidateTool handles POST /qa/validate_tool.
func (h *ValidationHandler) ValidateTool(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())

	var req validateToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apperrors.Validation("invalid request body"))
		return
	}
	if req.ToolCallID == "" {
		RespondError(c, apperrors.Validation("tool_call_id is required"))
		return
	}

	ec := tools.ExecContext{Token: rd.Token, Client: h.ecClient}
	result, err := h.validation.SubmitValidation(c.Request.Context(), rd, ec, req.ToolCallID, req.ValidatedInputs, req.IsValidated)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, validateToolResponse{Success: true, Result: result})
}
