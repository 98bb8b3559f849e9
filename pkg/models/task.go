package models

import "time"

// TaskStatus tracks a task through its lifecycle:
// pending → assigned → in_progress → {completed, failed, cancelled}.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// CoordinationMode describes how assigned agents divide a task.
type CoordinationMode string

const (
	CoordinationSolo          CoordinationMode = "solo"
	CoordinationCollaborative CoordinationMode = "collaborative"
	CoordinationDelegated     CoordinationMode = "delegated"
)

// Task is a unit of work assigned to one or more agents on a channel.
type Task struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Status            TaskStatus       `json:"status"`
	AssignedAgents    []string         `json:"assigned_agents"`
	LeadAgentID       string           `json:"lead_agent_id,omitempty"`
	CompletionAgentID string           `json:"completion_agent_id,omitempty"`
	CoordinationMode  CoordinationMode `json:"coordination_mode,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// MayComplete decides whether the given agent is entitled to auto-complete
// the task. Precedence: designated completion agent, sole assignee, lead
// agent of a collaborative task. An explicit task_complete tool call
// bypasses this check.
func (t *Task) MayComplete(agentID string) bool {
	if t.CompletionAgentID != "" {
		return t.CompletionAgentID == agentID
	}
	if len(t.AssignedAgents) == 1 && t.AssignedAgents[0] == agentID {
		return true
	}
	if t.CoordinationMode == CoordinationCollaborative && t.LeadAgentID == agentID {
		return true
	}
	return false
}
