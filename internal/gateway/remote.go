package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelexchange/mxf/pkg/models"
)

// The client doubles as the invoker's remote executor and the
// registry's authoritative tool lister.

// ExecuteRemote runs a server-side tool and returns its raw result for
// normalization by the caller.
func (c *Client) ExecuteRemote(ctx context.Context, serverID, name string, params json.RawMessage) (json.RawMessage, error) {
	resp, err := c.request(ctx, "tools.execute", executeParams{
		ServerID: serverID,
		Tool:     name,
		Input:    params,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// ListTools fetches the authoritative tool set for this agent.
func (c *Client) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	resp, err := c.request(ctx, "tools.list", listToolsParams{AgentID: c.cfg.AgentID})
	if err != nil {
		return nil, err
	}
	var specs []models.ToolSpec
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &specs); err != nil {
			return nil, fmt.Errorf("tools.list payload: %w", err)
		}
	}
	for i := range specs {
		if specs[i].Source == "" {
			specs[i].Source = models.ToolSourceRemote
		}
	}
	return specs, nil
}
