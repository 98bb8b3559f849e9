// Package agent implements the iterative tool-using reasoning loop that
// drives one LLM-backed agent: context assembly, provider calls,
// embedded tool-intent extraction, batched tool execution under the
// circuit breaker, and completion analysis.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/internal/breaker"
	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/internal/memory"
	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/internal/tools"
	"github.com/modelexchange/mxf/pkg/models"
)

// Role shapes how assertively the agent acts on its own conclusions.
type Role string

const (
	RoleAutonomous Role = "autonomous"
	RoleReactive   Role = "reactive"
	RolePassive    Role = "passive"
)

// DefaultMaxIterations bounds one reasoning run.
const DefaultMaxIterations = 10

// Config configures one agent.
type Config struct {
	AgentID       string  `yaml:"agentId"`
	ChannelID     string  `yaml:"channelId"`
	Role          Role    `yaml:"role"`
	Persona       string  `yaml:"persona"`
	MaxIterations int     `yaml:"maxIterations"`
	Options       Options `yaml:"options"`
}

// Agent drives the reasoning loop for one LLM-backed agent. All
// mutation happens on the goroutine that calls ProcessMessage; the
// mutex covers the task and phase fields read by other components.
type Agent struct {
	cfg      Config
	provider Provider
	memory   *memory.Store
	registry *tools.Registry
	invoker  *tools.Invoker
	breaker  *breaker.Breaker
	bus      *bus.Bus
	metrics  *observability.Metrics
	logger   *slog.Logger

	analyzer *completionAnalyzer

	mu         sync.Mutex
	task       *models.Task
	taskEpoch  int
	taskDone   bool
	phase      models.Phase
	phaseGated bool
}

// New wires an agent. The provider is required; everything else falls
// back to inert defaults so tests can construct partial agents.
func New(cfg Config, provider Provider, mem *memory.Store, registry *tools.Registry, invoker *tools.Invoker, brk *breaker.Breaker, b *bus.Bus, metrics *observability.Metrics, logger *slog.Logger) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Options.MaxTokens == 0 {
		cfg.Options = DefaultOptions()
	}
	if cfg.Role == "" {
		cfg.Role = RoleAutonomous
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		provider: provider,
		memory:   mem,
		registry: registry,
		invoker:  invoker,
		breaker:  brk,
		bus:      b,
		metrics:  metrics,
		logger:   logger.With("agent_id", cfg.AgentID, "channel_id", cfg.ChannelID),
		analyzer: newCompletionAnalyzer(),
		phase:    models.PhaseIdle,
	}
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.cfg.AgentID }

// AssignTask installs a task, clears the completed latch, and resets the
// breaker streak counters.
func (a *Agent) AssignTask(task *models.Task) {
	a.mu.Lock()
	a.task = task
	a.taskEpoch++
	a.taskDone = false
	a.mu.Unlock()
	if a.breaker != nil {
		a.breaker.ResetStreaks()
	}
	a.analyzer.reset()
	a.metrics.ActiveTasks.Inc()
	a.logger.Info("task assigned", "task_id", task.ID, "title", task.Title)
}

// CancelTask clears the current task. Tool invocations already
// scheduled are not aborted; their results are discarded when they
// arrive after the cancellation marker.
func (a *Agent) CancelTask() {
	a.mu.Lock()
	had := a.task != nil
	a.task = nil
	a.taskEpoch++
	a.mu.Unlock()
	if had {
		a.metrics.ActiveTasks.Dec()
		a.logger.Info("task cancelled")
	}
}

// CurrentTask returns the installed task, if any.
func (a *Agent) CurrentTask() *models.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.task
}

// SetPhase installs the control-loop phase and marks tool selection as
// phase-gated when the phase is active.
func (a *Agent) SetPhase(phase models.Phase) {
	a.mu.Lock()
	a.phase = phase
	a.phaseGated = phase != models.PhaseIdle && phase != models.PhaseStopped && phase != ""
	a.mu.Unlock()
}

// UpdateAllowedTools atomically swaps the allow-list, announces the
// change, force-refreshes the tool cache, and leaves the system prompt
// to be regenerated on the next context assembly.
func (a *Agent) UpdateAllowedTools(ctx context.Context, names []string) error {
	a.invoker.SetAllowed(names)
	if a.bus != nil {
		a.bus.Publish(models.EventAgentAllowedToolsUpdate, models.NewCriticalEnvelope(
			models.EventAgentAllowedToolsUpdate, a.cfg.AgentID, a.cfg.ChannelID, map[string]any{
				"allowedTools": names,
			}))
	}
	a.registry.Invalidate()
	if err := a.registry.Refresh(ctx, true); err != nil {
		return fmt.Errorf("refresh tools after allow-list update: %w", err)
	}
	return nil
}

// ProcessMessage appends the inbound messages and runs the bounded
// reasoning loop. The return value is the text of the last assistant
// message. Once a task has completed, the loop stays idle until a new
// task is assigned.
func (a *Agent) ProcessMessage(ctx context.Context, inbound ...models.Message) (string, error) {
	a.mu.Lock()
	if a.taskDone {
		a.mu.Unlock()
		a.logger.Debug("task already completed, skipping reasoning run")
		return "", nil
	}
	startEpoch := a.taskEpoch
	a.mu.Unlock()

	for _, msg := range inbound {
		a.memory.Append(msg)
	}
	a.analyzer.markInput()

	lastText := ""
	var pendingCorrection *models.Message

	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return lastText, err
		}
		if a.cancelled(startEpoch) {
			a.logger.Debug("task cancelled, exiting loop", "iteration", iteration)
			return lastText, nil
		}

		if pendingCorrection != nil {
			a.memory.Append(*pendingCorrection)
			pendingCorrection = nil
		}

		toolSet, err := a.selectTools(ctx)
		if err != nil {
			return lastText, err
		}

		agentCtx := a.buildContext(toolSet)
		resp, err := a.provider.Complete(ctx, agentCtx.request(a.cfg.Options))
		if err != nil {
			return lastText, fmt.Errorf("llm call failed: %w", err)
		}
		a.metrics.LLMIterations.WithLabelValues(a.provider.Name()).Inc()
		lastText = resp.Text

		calls := resp.ToolCalls
		known := func(name string) bool {
			_, _, ok := a.registry.Lookup(name)
			return ok
		}

		if len(calls) == 0 && resp.Reasoning != "" && a.cfg.Options.EnableReasoning {
			a.publishReasoning(resp.Reasoning)
			reasoned, _ := ScanToolIntents(resp.Reasoning, known)
			calls = append(calls, reasoned...)
		}

		embedded, malformed := ScanToolIntents(resp.Text, known)
		calls = append(calls, embedded...)
		if len(malformed) > 0 {
			correction := CorrectionMessage(malformed)
			pendingCorrection = &correction
		}

		calls = EnhanceIntents(calls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}

		assistant := models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: calls,
		}
		a.memory.Append(assistant)

		if len(calls) > 0 {
			done := a.runToolBatch(ctx, calls, iteration, startEpoch)
			if done {
				return lastText, nil
			}
			continue
		}

		score := a.analyzer.analyze(resp.Text, false)
		if score >= endThreshold {
			if score >= autoCompleteThreshold && a.cfg.Role != RoleReactive && a.cfg.Role != RolePassive {
				a.mu.Lock()
				entitled := a.task != nil && a.task.MayComplete(a.cfg.AgentID)
				a.mu.Unlock()
				if entitled {
					a.completeTask("completion heuristic", resp.Text)
				}
			}
			a.logger.Debug("completion heuristic ended loop", "score", score, "iteration", iteration)
			return lastText, nil
		}
	}

	a.logger.Debug("iteration cap reached", "max_iterations", a.cfg.MaxIterations)
	return lastText, nil
}

// runToolBatch executes one batch of calls and appends results in call
// order, deferred feedback after. Returns true when the batch completed
// the task.
func (a *Agent) runToolBatch(ctx context.Context, calls []models.ToolCall, iteration, startEpoch int) bool {
	msgs := a.invoker.ExecuteBatch(ctx, calls, iteration)

	if a.cancelled(startEpoch) {
		// Late results after cancellation: keep the log paired with
		// synthetic placeholders, drop the real payloads.
		for _, call := range calls {
			a.memory.Append(models.Message{
				ID:         uuid.NewString(),
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    "task was cancelled before this result arrived",
				Metadata:   map[string]any{"tool_name": call.Name, "is_error": true, "discarded": true},
			})
		}
		return true
	}

	for _, msg := range msgs {
		a.memory.Append(msg)
	}

	for _, call := range calls {
		if call.Name == "task_complete" {
			a.completeTask("explicit tool call", "")
			return true
		}
	}
	return false
}

// selectTools picks the tool set for this iteration per the gating
// precedence, with the minimal set when the previous message is a tool
// acknowledgement.
func (a *Agent) selectTools(ctx context.Context) ([]models.ToolSpec, error) {
	a.mu.Lock()
	gated := a.phaseGated
	a.mu.Unlock()

	if gated {
		if err := a.registry.Refresh(ctx, true); err != nil {
			return nil, err
		}
	}
	specs, err := a.registry.Specs(ctx)
	if err != nil {
		return nil, err
	}

	history := a.memory.History()
	if n := len(history); n > 0 && history[n-1].IsToolAck() {
		return tools.MinimalSet(specs), nil
	}
	return tools.Gate(specs, a.invoker.Allowed(), history), nil
}

// completeTask marks the task completed, announces it, and latches the
// loop idle until a new task arrives.
func (a *Agent) completeTask(reason, summary string) {
	a.mu.Lock()
	task := a.task
	a.task = nil
	a.taskEpoch++
	a.taskDone = true
	a.mu.Unlock()

	if task == nil {
		return
	}
	a.metrics.ActiveTasks.Dec()
	a.logger.Info("task completed", "task_id", task.ID, "reason", reason)
	if a.bus != nil {
		a.bus.Publish(models.EventTaskCompleted, models.NewCriticalEnvelope(
			models.EventTaskCompleted, a.cfg.AgentID, a.cfg.ChannelID, map[string]any{
				"taskId":  task.ID,
				"agentId": a.cfg.AgentID,
				"summary": summary,
				"reason":  reason,
			}))
	}
}

func (a *Agent) cancelled(startEpoch int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.taskEpoch != startEpoch
}

func (a *Agent) publishReasoning(text string) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(models.EventAgentStatusChange, models.NewEnvelope(
		models.EventAgentStatusChange, a.cfg.AgentID, a.cfg.ChannelID, map[string]any{
			"kind":      "reasoning",
			"reasoning": text,
		}))
}
