package models

import "time"

// Phase is a state of the Observe-Reason-Plan-Act-Reflect cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseObserving  Phase = "observing"
	PhaseReasoning  Phase = "reasoning"
	PhasePlanning   Phase = "planning"
	PhaseActing     Phase = "acting"
	PhaseReflecting Phase = "reflecting"
	PhaseStopped    Phase = "stopped"
	PhaseError      Phase = "error"
)

// Observation is a unit of input collected during the observing phase.
// Task-type observations are injected by the coordinator when a task
// arrives.
type Observation struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // task, message, event, manual
	Content   string         `json:"content"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Reasoning records the conclusions drawn from a set of observations.
type Reasoning struct {
	ID             string    `json:"id"`
	ObservationIDs []string  `json:"observation_ids"`
	Analysis       string    `json:"analysis"`
	Conclusion     string    `json:"conclusion"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlanActionStatus tracks a single planned action.
type PlanActionStatus string

const (
	ActionPending   PlanActionStatus = "pending"
	ActionRunning   PlanActionStatus = "running"
	ActionDone      PlanActionStatus = "done"
	ActionFailed    PlanActionStatus = "failed"
	ActionSkipped   PlanActionStatus = "skipped"
)

// PlanAction is one step of a plan.
type PlanAction struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Tool        string           `json:"tool,omitempty"`
	Status      PlanActionStatus `json:"status"`
}

// Plan is an ordered list of actions derived from a reasoning.
type Plan struct {
	ID          string       `json:"id"`
	ReasoningID string       `json:"reasoning_id"`
	Goal        string       `json:"goal"`
	Actions     []PlanAction `json:"actions"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitzero"`
}

// Completed reports whether every action reached a terminal status.
func (p *Plan) Completed() bool {
	for _, a := range p.Actions {
		switch a.Status {
		case ActionDone, ActionFailed, ActionSkipped:
		default:
			return false
		}
	}
	return len(p.Actions) > 0
}

// Reflection captures the retrospective produced after a plan completes.
type Reflection struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"plan_id"`
	Summary   string    `json:"summary"`
	Learnings []string  `json:"learnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
