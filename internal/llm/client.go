package llm

import "context"

// Client is the contract the orchestration core depends on. Two providers are
// configured (OpenAI-compatible and Anthropic); the Router dispatches between
// them by model identifier.
type Client interface {
	// StreamChat runs one model turn. Deltas and tool-call requests are
	// delivered through callback as they arrive; the assembled turn is
	// returned once the provider closes the stream.
	StreamChat(ctx context.Context, req Request, callback StreamCallback) (*TurnResult, error)

	// GenerateJSON issues a non-streaming structured-output call and
	// returns the decoded object. Used by the tool-filtering step.
	GenerateJSON(ctx context.Context, model, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}
