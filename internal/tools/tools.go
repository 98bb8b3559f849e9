// Package tools implements the tool registry, contextual gating, and the
// invoker that validates, dispatches, and normalizes tool calls for the
// agent runtime.
package tools

import (
	"context"
	"encoding/json"

	"github.com/modelexchange/mxf/pkg/models"
)

// Tool is an internal tool executable in-process.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool does.
	// This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// RemoteExecutor dispatches a call to a tool hosted outside the process,
// typically over the gateway to an MCP server.
type RemoteExecutor interface {
	ExecuteRemote(ctx context.Context, serverID, name string, params json.RawMessage) (json.RawMessage, error)
}

// Lister fetches the authoritative remote tool set from the server.
type Lister interface {
	ListTools(ctx context.Context) ([]models.ToolSpec, error)
}

// Publisher is the envelope sink used by tools that emit events.
type Publisher interface {
	Publish(event string, env *models.Envelope)
}
