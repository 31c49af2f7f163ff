package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

// FilterResult is the outcome of the tool-filtering / model-selection step.
type FilterResult struct {
	ToolNames []string
	Model     string
	Reasoning string
}

type FilteringService interface {
	// Select asks the auxiliary model which tools and which main model fit
	// the conversation. Degrades to the full tool set and the default
	// model when no auxiliary model is configured or the call fails; it
	// never returns an error for those cases.
	Select(ctx context.Context, registry *tools.Registry, recent []llm.Message, modelOverride string, userMessageID uuid.UUID) FilterResult
}

type filteringService struct {
	log         *logger.Logger
	aux         llm.Client
	auxModel    string
	consumption repos.ConsumptionRepo

	defaultModel     string
	defaultReasoning string
	minSelection     int
}

// NewFilteringService wires the auxiliary client. aux may be nil (no
// credential configured), which disables filtering entirely.
func NewFilteringService(log *logger.Logger, aux llm.Client, auxModel, defaultModel, defaultReasoning string, minSelection int, consumption repos.ConsumptionRepo) FilteringService {
	return &filteringService{
		log:              log.With("service", "FilteringService"),
		aux:              aux,
		auxModel:         auxModel,
		consumption:      consumption,
		defaultModel:     defaultModel,
		defaultReasoning: defaultReasoning,
		minSelection:     minSelection,
	}
}

// RecentConversation flattens the newest stored messages into plain
// role/content pairs for the filtering prompt. Tool payloads are skipped;
// they are noise for intent detection.
func RecentConversation(rows []*types.Message, max int) []llm.Message {
	start := 0
	if len(rows) > max {
		start = len(rows) - max
	}
	out := make([]llm.Message, 0, max)
	for _, row := range rows[start:] {
		switch row.Entity {
		case types.EntityUser:
			var payload types.UserContent
			if err := json.Unmarshal(row.Content, &payload); err == nil && payload.Content != "" {
				out = append(out, llm.Message{Role: llm.RoleUser, Content: payload.Content})
			}
		case types.EntityAIMessage:
			var payload types.AIContent
			if err := json.Unmarshal(row.Content, &payload); err == nil && payload.Content != "" {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: payload.Content})
			}
		}
	}
	return out
}

const filteringSystem = `You route a neuroscience research conversation. Given the available tools and the recent conversation, select the tools plausibly needed for the next assistant turn, pick the model to answer with, a reasoning effort, and rate the query complexity.`

func (s *filteringService) Select(ctx context.Context, registry *tools.Registry, recent []llm.Message, modelOverride string, userMessageID uuid.UUID) FilterResult {
	full := FilterResult{
		ToolNames: registry.Names(),
		Model:     s.defaultModel,
		Reasoning: s.defaultReasoning,
	}
	if modelOverride != "" {
		full.Model = modelOverride
	}
	if s.aux == nil || s.auxModel == "" {
		return full
	}

	names := registry.Names()
	var capabilities strings.Builder
	for _, m := range registry.List() {
		fmt.Fprintf(&capabilities, "- %s: %s\n", m.Name, m.Description)
	}
	var convo strings.Builder
	for _, m := range recent {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool_names": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": names},
			},
			"model": map[string]any{"type": "string"},
			"reasoning": map[string]any{
				"type": "string",
				"enum": []string{"none", "minimal", "low", "medium", "high"},
			},
			"complexity": map[string]any{
				"type": "string",
				"enum": []string{"low", "medium", "high"},
			},
		},
		"required":             []string{"tool_names", "model", "reasoning", "complexity"},
		"additionalProperties": false,
	}
	user := fmt.Sprintf("Available tools:\n%s\nConversation:\n%s", capabilities.String(), convo.String())

	out, err := s.aux.GenerateJSON(ctx, s.auxModel, filteringSystem, user, "tool_selection", schema)
	if err != nil {
		s.log.Warn("tool filtering failed, using full tool set", "error", err)
		return full
	}

	res := full
	if raw, ok := out["tool_names"].([]any); ok && len(raw) > 0 {
		selected := make([]string, 0, len(raw))
		valid := map[string]bool{}
		for _, n := range names {
			valid[n] = true
		}
		for _, v := range raw {
			if name, ok := v.(string); ok && valid[name] {
				selected = append(selected, name)
			}
		}
		// Pad back up to the floor with unselected tools, stable order.
		if len(selected) > 0 {
			chosen := map[string]bool{}
			for _, n := range selected {
				chosen[n] = true
			}
			for _, n := range names {
				if len(selected) >= s.minSelection {
					break
				}
				if !chosen[n] {
					selected = append(selected, n)
					chosen[n] = true
				}
			}
			res.ToolNames = selected
		}
	}
	if modelOverride == "" {
		if model, ok := out["model"].(string); ok && strings.TrimSpace(model) != "" {
			res.Model = model
		}
	}
	if reasoning, ok := out["reasoning"].(string); ok {
		if llm.ValidReasoning(reasoning) {
			res.Reasoning = reasoning
		} else {
			res.Reasoning = ""
		}
	}

	if complexity, ok := out["complexity"].(string); ok && complexity != "" && s.consumption != nil && userMessageID != uuid.Nil {
		row := &types.ComplexityEstimation{
			ID:         uuid.New(),
			MessageID:  userMessageID,
			Model:      s.auxModel,
			Complexity: complexity,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.consumption.CreateComplexityEstimation(ctx, nil, []*types.ComplexityEstimation{row}); err != nil {
			s.log.Warn("failed to record complexity estimation", "error", err)
		}
	}
	return res
}
