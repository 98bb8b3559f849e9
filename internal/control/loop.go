// Package control implements the task coordinator and the
// Observe-Reason-Plan-Act-Reflect control loop that drives autonomous
// agents between direct user interactions.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/pkg/models"
)

// DefaultCycleInterval is the pause between autonomous cycles.
const DefaultCycleInterval = 30 * time.Second

// Runner is the agent surface the loop drives.
type Runner interface {
	SetPhase(models.Phase)
	UpdateAllowedTools(ctx context.Context, names []string) error
	ProcessMessage(ctx context.Context, inbound ...models.Message) (string, error)
}

// Recorder is where phase records land; the memory store implements it.
type Recorder interface {
	AddObservation(obs models.Observation)
	SetReasoning(r *models.Reasoning)
	SetPlan(p *models.Plan)
}

// phaseGates maps each phase to its allowed-tool list. An empty list
// widens the gate to the full contextually-filtered set.
var phaseGates = map[models.Phase][]string{
	models.PhaseObserving:  {"orpar_observe", "task_complete"},
	models.PhaseReasoning:  {"orpar_reason", "task_complete"},
	models.PhasePlanning:   {"orpar_plan", "task_complete"},
	models.PhaseActing:     nil,
	models.PhaseReflecting: {"orpar_reflect", "task_complete"},
}

// phasePrompts nudge the model into the work of each phase.
var phasePrompts = map[models.Phase]string{
	models.PhaseObserving:  "Observe: review the pending observations and record what is relevant with orpar_observe.",
	models.PhaseReasoning:  "Reason: analyze your observations and record your conclusion with orpar_reason.",
	models.PhasePlanning:   "Plan: turn your conclusion into concrete actions with orpar_plan.",
	models.PhaseActing:     "Act: carry out the plan using the tools now available, reporting progress with orpar_act.",
	models.PhaseReflecting: "Reflect: assess how the plan went with orpar_reflect.",
}

// phaseOrder is the cycle sequence.
var phaseOrder = []models.Phase{
	models.PhaseObserving,
	models.PhaseReasoning,
	models.PhasePlanning,
	models.PhaseActing,
	models.PhaseReflecting,
}

// Loop is the ORPAR phase machine for one agent.
type Loop struct {
	agentID   string
	channelID string
	runner    Runner
	recorder  Recorder
	bus       *bus.Bus
	interval  time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	phase       models.Phase
	queue       []models.Observation
	reasoning   *models.Reasoning
	plan        *models.Plan
	reflections []models.Reflection
	running     bool
	stop        chan struct{}
}

// NewLoop builds a loop; interval <= 0 selects the default.
func NewLoop(agentID, channelID string, runner Runner, recorder Recorder, b *bus.Bus, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		agentID:   agentID,
		channelID: channelID,
		runner:    runner,
		recorder:  recorder,
		bus:       b,
		interval:  interval,
		logger:    logger.With("component", "controlloop", "agent_id", agentID),
		phase:     models.PhaseIdle,
	}
}

// Phase returns the current phase.
func (l *Loop) Phase() models.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// SubmitObservation queues an observation for the next cycle and
// announces it.
func (l *Loop) SubmitObservation(obs models.Observation) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	l.mu.Lock()
	l.queue = append(l.queue, obs)
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(models.EventControlLoopObservation, models.NewEnvelope(
			models.EventControlLoopObservation, l.agentID, l.channelID, map[string]any{
				"observationId": obs.ID,
				"type":          obs.Type,
			}))
	}
}

// Start launches the cycle ticker. Idempotent while running.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	l.publish(models.EventControlLoopStart, map[string]any{})
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				l.Stop()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := l.Cycle(ctx); err != nil {
					l.logger.Error("cycle failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the ticker and parks the loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	l.phase = models.PhaseStopped
	l.mu.Unlock()
	l.publish(models.EventControlLoopStop, map[string]any{})
}

// Cycle runs one full pass through the phases. With an empty
// observation queue the cycle is skipped.
func (l *Loop) Cycle(ctx context.Context) error {
	l.mu.Lock()
	pending := len(l.queue)
	l.mu.Unlock()
	if pending == 0 {
		return nil
	}

	for _, phase := range phaseOrder {
		if err := l.enterPhase(ctx, phase); err != nil {
			l.setPhase(models.PhaseError)
			return err
		}
	}
	l.setPhase(models.PhaseIdle)
	return nil
}

// enterPhase installs the phase gate and lets the agent do the phase's
// work.
func (l *Loop) enterPhase(ctx context.Context, phase models.Phase) error {
	l.setPhase(phase)
	l.runner.SetPhase(phase)
	if err := l.runner.UpdateAllowedTools(ctx, phaseGates[phase]); err != nil {
		return fmt.Errorf("gate %s phase: %w", phase, err)
	}

	prompt := models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: l.phaseContent(phase),
		Metadata: map[string]any{
			"control_loop": true,
			"phase":        string(phase),
		},
	}
	if _, err := l.runner.ProcessMessage(ctx, prompt); err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}

	if phase == models.PhaseReflecting {
		l.finishReflection()
	}
	return nil
}

// phaseContent renders the phase prompt, draining the observation queue
// into the observing prompt.
func (l *Loop) phaseContent(phase models.Phase) string {
	prompt := phasePrompts[phase]
	if phase != models.PhaseObserving {
		return prompt
	}

	l.mu.Lock()
	drained := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, obs := range drained {
		prompt += fmt.Sprintf("\n- [%s] %s", obs.Type, obs.Content)
	}
	return prompt
}

// finishReflection closes out a completed plan, records the reflection,
// and emits the reflection event.
func (l *Loop) finishReflection() {
	l.mu.Lock()
	plan := l.plan
	var latest *models.Reflection
	if n := len(l.reflections); n > 0 {
		latest = &l.reflections[n-1]
	}
	l.mu.Unlock()

	if plan == nil || latest == nil {
		return
	}
	l.publish(models.EventControlLoopReflection, map[string]any{
		"reflectionId": latest.ID,
		"planId":       latest.PlanID,
		"summary":      latest.Summary,
	})
}

func (l *Loop) setPhase(phase models.Phase) {
	l.mu.Lock()
	l.phase = phase
	l.mu.Unlock()
}

func (l *Loop) publish(event string, data map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(event, models.NewEnvelope(event, l.agentID, l.channelID, data))
}
