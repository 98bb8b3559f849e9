package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in an agent's append-only conversation log.
// Messages are immutable once appended.
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`   // assistant only
	ToolCallID string         `json:"tool_call_id,omitempty"` // tool only
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. Exactly one result
// is produced for every submitted call, real or synthetic.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolSpec describes a tool visible to the LLM: its name, a human
// description, and a JSON-schema input contract.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Source      ToolSource      `json:"source"`
	ServerID    string          `json:"server_id,omitempty"`
}

// ToolSource distinguishes locally registered tools from tools served by a
// remote MCP server.
type ToolSource string

const (
	ToolSourceInternal ToolSource = "internal"
	ToolSourceRemote   ToolSource = "remote"
)

// IsToolAck reports whether the message is a tool acknowledgement: a user
// message recording tool feedback rather than fresh input.
func (m *Message) IsToolAck() bool {
	if m.Role != RoleUser || m.Metadata == nil {
		return false
	}
	ack, _ := m.Metadata["tool_ack"].(bool)
	return ack
}

// IsToolResultMessage reports whether the message carries a tool result.
func (m *Message) IsToolResultMessage() bool {
	return m.Role == RoleTool && m.ToolCallID != ""
}
