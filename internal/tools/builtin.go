package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelexchange/mxf/pkg/models"
)

// EmptyFileMarker prefixes the result of reading a file that exists but
// has no content, so callers can tell "empty" from "missing".
const EmptyFileMarker = "[empty file]"

// funcTool adapts a function into a Tool.
type funcTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, params json.RawMessage) (*Result, error)
}

func (t *funcTool) Name() string            { return t.name }
func (t *funcTool) Description() string     { return t.description }
func (t *funcTool) Schema() json.RawMessage { return t.schema }
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	return t.fn(ctx, params)
}

// NewFuncTool builds a tool from a function. The schema must be a valid
// JSON Schema document.
func NewFuncTool(name, description string, schema json.RawMessage, fn func(ctx context.Context, params json.RawMessage) (*Result, error)) Tool {
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}

// NewReadFileTool reads files under root. Paths are resolved relative to
// root and may not escape it.
func NewReadFileTool(root string) Tool {
	return NewFuncTool(
		"read_file",
		"Read the contents of a file by path.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace root."}
			},
			"required": ["path"]
		}`),
		func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("parse params: %w", err)
			}
			resolved := filepath.Join(root, filepath.Clean("/"+args.Path))
			data, err := os.ReadFile(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					return ErrorResult(fmt.Sprintf("file not found: %s", args.Path)), nil
				}
				return nil, fmt.Errorf("read %s: %w", args.Path, err)
			}
			if len(data) == 0 {
				return TextResult(fmt.Sprintf("%s %s exists but contains no data", EmptyFileMarker, args.Path)), nil
			}
			return TextResult(string(data)), nil
		},
	)
}

// NewListFilesTool lists directory entries under root.
func NewListFilesTool(root string) Tool {
	return NewFuncTool(
		"list_files",
		"List the entries of a directory by path.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory path relative to the workspace root."}
			}
		}`),
		func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				Path string `json:"path"`
			}
			if len(params) > 0 {
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, fmt.Errorf("parse params: %w", err)
				}
			}
			resolved := filepath.Join(root, filepath.Clean("/"+args.Path))
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return ErrorResult(fmt.Sprintf("list %s: %v", args.Path, err)), nil
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			return TextResult(strings.Join(names, "\n")), nil
		},
	)
}

// NewTaskCompleteTool signals explicit task completion. The callback
// receives the completion summary; the reasoning loop treats a
// successful call as the end of the task.
func NewTaskCompleteTool(onComplete func(ctx context.Context, summary string) error) Tool {
	return NewFuncTool(
		"task_complete",
		"Mark the current task as complete with a summary of the outcome.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "What was accomplished."}
			},
			"required": ["summary"]
		}`),
		func(ctx context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("parse params: %w", err)
			}
			if onComplete != nil {
				if err := onComplete(ctx, args.Summary); err != nil {
					return ErrorResult(fmt.Sprintf("completion rejected: %v", err)), nil
				}
			}
			return TextResult("Task marked complete."), nil
		},
	)
}

// NewToolSearchTool recommends tools matching a query against the
// registry.
func NewToolSearchTool(registry *Registry) Tool {
	return NewFuncTool(
		"tool_search",
		"Search the available tools by keyword and get their descriptions.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Keyword to match against tool names and descriptions."}
			},
			"required": ["query"]
		}`),
		func(ctx context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("parse params: %w", err)
			}
			matches, err := registry.Search(ctx, args.Query)
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return TextResult(fmt.Sprintf("no tools match %q", args.Query)), nil
			}
			var b strings.Builder
			for _, spec := range matches {
				fmt.Fprintf(&b, "%s: %s\n", spec.Name, spec.Description)
			}
			return TextResult(b.String()), nil
		},
	)
}

// NewChannelSendTool posts a message to the agent's channel through the
// event bus.
func NewChannelSendTool(pub Publisher, agentID, channelID string) Tool {
	return NewFuncTool(
		"channel_send",
		"Send a message to the channel, visible to all participants.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "Message text to send."}
			},
			"required": ["content"]
		}`),
		func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("parse params: %w", err)
			}
			if strings.TrimSpace(args.Content) == "" {
				return ErrorResult("message content is empty"), nil
			}
			env := models.NewEnvelope(models.EventChannelMessage, agentID, channelID, map[string]any{
				"content":  args.Content,
				"senderId": agentID,
			})
			pub.Publish(models.EventChannelMessage, env)
			return TextResult("Message sent to channel."), nil
		},
	)
}

// NewAgentSendTool sends a direct message to another agent.
func NewAgentSendTool(pub Publisher, agentID, channelID string) Tool {
	return NewFuncTool(
		"agent_send",
		"Send a direct message to a specific agent in the channel.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"targetAgentId": {"type": "string", "description": "Recipient agent id."},
				"content": {"type": "string", "description": "Message text to send."}
			},
			"required": ["targetAgentId", "content"]
		}`),
		func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args struct {
				TargetAgentID string `json:"targetAgentId"`
				Content       string `json:"content"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("parse params: %w", err)
			}
			if args.TargetAgentID == "" || strings.TrimSpace(args.Content) == "" {
				return ErrorResult("targetAgentId and content are required"), nil
			}
			env := models.NewEnvelope(models.EventAgentMessage, agentID, channelID, map[string]any{
				"content":  args.Content,
				"senderId": agentID,
				"targetId": args.TargetAgentID,
			})
			pub.Publish(models.EventAgentMessage, env)
			return TextResult(fmt.Sprintf("Message sent to %s.", args.TargetAgentID)), nil
		},
	)
}

// PhaseRecorder receives the structured payloads of the control-loop
// phase tools.
type PhaseRecorder interface {
	RecordObservation(ctx context.Context, content string) (string, error)
	RecordReasoning(ctx context.Context, conclusion string, observationIDs []string) (string, error)
	RecordPlan(ctx context.Context, actions []string, reasoningID string) (string, error)
	RecordActProgress(ctx context.Context, actionID, status, note string) error
	RecordReflection(ctx context.Context, assessment string, planID string) (string, error)
}

// PhaseTools returns the five control-loop tools bound to a recorder.
func PhaseTools(rec PhaseRecorder) []Tool {
	return []Tool{
		NewFuncTool("orpar_observe",
			"Record an observation about the current situation.",
			json.RawMessage(`{
				"type": "object",
				"properties": {"content": {"type": "string"}},
				"required": ["content"]
			}`),
			func(ctx context.Context, params json.RawMessage) (*Result, error) {
				var args struct {
					Content string `json:"content"`
				}
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, err
				}
				id, err := rec.RecordObservation(ctx, args.Content)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				return TextResult(fmt.Sprintf("Observation recorded (%s).", id)), nil
			}),
		NewFuncTool("orpar_reason",
			"Record a reasoning conclusion linked to prior observations.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"conclusion": {"type": "string"},
					"observationIds": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["conclusion"]
			}`),
			func(ctx context.Context, params json.RawMessage) (*Result, error) {
				var args struct {
					Conclusion     string   `json:"conclusion"`
					ObservationIDs []string `json:"observationIds"`
				}
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, err
				}
				id, err := rec.RecordReasoning(ctx, args.Conclusion, args.ObservationIDs)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				return TextResult(fmt.Sprintf("Reasoning recorded (%s).", id)), nil
			}),
		NewFuncTool("orpar_plan",
			"Record a plan of concrete actions derived from reasoning.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"actions": {"type": "array", "items": {"type": "string"}, "minItems": 1},
					"reasoningId": {"type": "string"}
				},
				"required": ["actions"]
			}`),
			func(ctx context.Context, params json.RawMessage) (*Result, error) {
				var args struct {
					Actions     []string `json:"actions"`
					ReasoningID string   `json:"reasoningId"`
				}
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, err
				}
				id, err := rec.RecordPlan(ctx, args.Actions, args.ReasoningID)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				return TextResult(fmt.Sprintf("Plan recorded (%s).", id)), nil
			}),
		NewFuncTool("orpar_act",
			"Report progress on a plan action.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"actionId": {"type": "string"},
					"status": {"type": "string", "enum": ["in_progress", "completed", "failed"]},
					"note": {"type": "string"}
				},
				"required": ["actionId", "status"]
			}`),
			func(ctx context.Context, params json.RawMessage) (*Result, error) {
				var args struct {
					ActionID string `json:"actionId"`
					Status   string `json:"status"`
					Note     string `json:"note"`
				}
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, err
				}
				if err := rec.RecordActProgress(ctx, args.ActionID, args.Status, args.Note); err != nil {
					return ErrorResult(err.Error()), nil
				}
				return TextResult("Action progress recorded."), nil
			}),
		NewFuncTool("orpar_reflect",
			"Record a reflection on how the plan went.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"assessment": {"type": "string"},
					"planId": {"type": "string"}
				},
				"required": ["assessment"]
			}`),
			func(ctx context.Context, params json.RawMessage) (*Result, error) {
				var args struct {
					Assessment string `json:"assessment"`
					PlanID     string `json:"planId"`
				}
				if err := json.Unmarshal(params, &args); err != nil {
					return nil, err
				}
				id, err := rec.RecordReflection(ctx, args.Assessment, args.PlanID)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				return TextResult(fmt.Sprintf("Reflection recorded (%s).", id)), nil
			}),
	}
}
