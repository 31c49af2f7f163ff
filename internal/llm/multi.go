package llm

import (
	"context"
	"fmt"
	"strings"
)

// MultiClient routes each request to a provider based on the model name.
// Only two providers are configured; anything that is not a Claude model
// goes to the OpenAI-compatible fallback.
type MultiClient struct {
	clients  map[string]Client
	fallback Client
}

func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		fallback: fallback,
	}
}

func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

func providerFor(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return ""
}

func (m *MultiClient) clientFor(model string) Client {
	if client, ok := m.clients[providerFor(model)]; ok {
		return client
	}
	return m.fallback
}

func (m *MultiClient) StreamChat(ctx context.Context, req Request, callback StreamCallback) (*TurnResult, error) {
	client := m.clientFor(req.Model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return client.StreamChat(ctx, req, callback)
}

func (m *MultiClient) GenerateJSON(ctx context.Context, model, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.GenerateJSON(ctx, model, system, user, schemaName, schema)
}
