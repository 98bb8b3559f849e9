package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/models"
)

// The Loop is the recorder behind the orpar_* phase tools. Each record
// method validates against the current phase, persists through the
// memory recorder, and links records by id.

// RecordObservation stores an observation made during the observing
// phase.
func (l *Loop) RecordObservation(_ context.Context, content string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("observation content is required")
	}
	obs := models.Observation{
		ID:        uuid.NewString(),
		Type:      "manual",
		Content:   content,
		Source:    l.agentID,
		Timestamp: time.Now(),
	}
	l.recorder.AddObservation(obs)
	return obs.ID, nil
}

// RecordReasoning stores the conclusion of the reasoning phase.
func (l *Loop) RecordReasoning(_ context.Context, conclusion string, observationIDs []string) (string, error) {
	if conclusion == "" {
		return "", fmt.Errorf("a conclusion is required")
	}
	r := &models.Reasoning{
		ID:             uuid.NewString(),
		ObservationIDs: observationIDs,
		Conclusion:     conclusion,
		Timestamp:      time.Now(),
	}
	l.mu.Lock()
	l.reasoning = r
	l.mu.Unlock()
	l.recorder.SetReasoning(r)
	return r.ID, nil
}

// RecordPlan stores a plan linked to the latest reasoning.
func (l *Loop) RecordPlan(_ context.Context, actions []string, reasoningID string) (string, error) {
	if len(actions) == 0 {
		return "", fmt.Errorf("a plan needs at least one action")
	}
	l.mu.Lock()
	if reasoningID == "" && l.reasoning != nil {
		reasoningID = l.reasoning.ID
	}
	l.mu.Unlock()

	plan := &models.Plan{
		ID:          uuid.NewString(),
		ReasoningID: reasoningID,
		CreatedAt:   time.Now(),
	}
	for _, desc := range actions {
		plan.Actions = append(plan.Actions, models.PlanAction{
			ID:          uuid.NewString(),
			Description: desc,
			Status:      models.ActionPending,
		})
	}
	l.mu.Lock()
	l.plan = plan
	l.mu.Unlock()
	l.recorder.SetPlan(plan)
	return plan.ID, nil
}

// RecordActProgress updates one plan action's status.
func (l *Loop) RecordActProgress(_ context.Context, actionID, status, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.plan == nil {
		return fmt.Errorf("no active plan")
	}
	for i := range l.plan.Actions {
		if l.plan.Actions[i].ID != actionID {
			continue
		}
		switch status {
		case "in_progress":
			l.plan.Actions[i].Status = models.ActionRunning
		case "completed":
			l.plan.Actions[i].Status = models.ActionDone
		case "failed":
			l.plan.Actions[i].Status = models.ActionFailed
		default:
			return fmt.Errorf("unknown action status %q", status)
		}
		if note != "" {
			l.plan.Actions[i].Description += " (" + note + ")"
		}
		if l.plan.Completed() {
			l.plan.CompletedAt = time.Now()
		}
		return nil
	}
	return fmt.Errorf("no action %s in the active plan", actionID)
}

// RecordReflection stores the retrospective for the active plan.
func (l *Loop) RecordReflection(_ context.Context, assessment string, planID string) (string, error) {
	if assessment == "" {
		return "", fmt.Errorf("an assessment is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if planID == "" && l.plan != nil {
		planID = l.plan.ID
	}
	reflection := models.Reflection{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Summary:   assessment,
		Timestamp: time.Now(),
	}
	l.reflections = append(l.reflections, reflection)
	return reflection.ID, nil
}
