// Package tools holds the process-wide tool catalog the agent loop draws
// from: each tool declares a name, an input schema for the model, and an
// Execute that runs against the knowledge-graph API.
package tools

import (
	"context"
	"encoding/json"
)

// Metadata is the human-facing description of a tool.
type Metadata struct {
	Name         string `json:"name"`
	NameFrontend string `json:"name_frontend"`
	Description  string `json:"description"`
	// RequiresValidation marks the tool as gated on human approval before
	// it may run.
	RequiresValidation bool `json:"requires_validation"`
}

// Result is the outcome of one tool execution. Execution faults travel as
// data in Err so a failed tool still yields a result for its call; the
// caller converts Err into failure text.
type Result struct {
	Content string
	Err     error
}

// ExecContext scopes a tool execution to the calling request: lab/project
// the thread belongs to, and the caller's forwarded credential.
type ExecContext struct {
	VlabID    string
	ProjectID string
	Token     string
	Client    *EntityCoreClient
}

type Tool interface {
	Name() string
	Metadata() Metadata
	// InputSchema is the JSON-schema object handed to the model.
	InputSchema() map[string]any
	Execute(ctx context.Context, ec ExecContext, args json.RawMessage) Result
}

// HealthChecker is an optional capability: tools backed by an upstream API
// report whether that API currently answers.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
