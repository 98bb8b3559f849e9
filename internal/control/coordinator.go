package control

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/pkg/models"
)

// Agent is the surface the coordinator drives.
type Agent interface {
	ID() string
	AssignTask(task *models.Task)
	CancelTask()
	CurrentTask() *models.Task
	ProcessMessage(ctx context.Context, inbound ...models.Message) (string, error)
}

// Config configures a coordinator.
type Config struct {
	AgentID   string
	ChannelID string

	// Orchestrate starts the control loop on first task arrival.
	Orchestrate bool

	// DisableTasks leaves task lifecycle events unhandled; the agent
	// only reacts to messages.
	DisableTasks bool

	// Aggregate folds bursts of queued messages into one reasoning run.
	Aggregate bool

	// InboxSize bounds the buffered inbound event queue.
	InboxSize int
}

// Coordinator connects the event bus to one agent: it installs assigned
// tasks before any user-visible processing, funnels channel messages
// into reasoning runs (aggregating bursts into one batch), and owns the
// optional control loop.
type Coordinator struct {
	cfg     Config
	agent   Agent
	loop    *Loop
	bus     *bus.Bus
	metrics *observability.Metrics
	logger  *slog.Logger

	inbox chan *models.Envelope
	subs  []*bus.Subscription

	mu          sync.Mutex
	loopStarted bool

	done chan struct{}
}

// NewCoordinator wires a coordinator. loop may be nil when the channel
// does not orchestrate.
func NewCoordinator(cfg Config, agent Agent, loop *Loop, b *bus.Bus, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		agent:   agent,
		loop:    loop,
		bus:     b,
		metrics: metrics,
		logger:  logger.With("component", "coordinator", "agent_id", cfg.AgentID),
		inbox:   make(chan *models.Envelope, cfg.InboxSize),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the bus and launches the processing goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	forMe := func(env *models.Envelope) bool {
		if env.ChannelID != "" && env.ChannelID != c.cfg.ChannelID {
			return false
		}
		target, ok := env.Data["targetId"].(string)
		return !ok || target == "" || target == c.cfg.AgentID
	}

	events := []string{
		models.EventChannelMessage,
		models.EventAgentMessage,
	}
	if !c.cfg.DisableTasks {
		events = append(events, models.EventTaskAssigned, models.EventTaskCancelled)
	}
	for _, event := range events {
		c.subs = append(c.subs, c.bus.Subscribe(event, forMe, func(env *models.Envelope) {
			select {
			case c.inbox <- env:
			default:
				c.logger.Warn("inbox full, dropping event", "event", env.EventType)
			}
		}))
	}

	go c.run(ctx)
}

// Stop unsubscribes and stops the processing goroutine and loop.
func (c *Coordinator) Stop() {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	close(c.done)
	if c.loop != nil {
		c.loop.Stop()
	}
}

// run is the owning goroutine: it serializes all agent mutations.
func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case env := <-c.inbox:
			c.handle(ctx, env)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, env *models.Envelope) {
	switch env.EventType {
	case models.EventTaskAssigned:
		c.handleTaskAssigned(ctx, env)
	case models.EventTaskCancelled:
		c.handleTaskCancelled(env)
	case models.EventChannelMessage, models.EventAgentMessage:
		c.handleMessages(ctx, env)
	}
}

// handleTaskAssigned installs the task before anything user-visible
// runs, then injects it into the control loop as a task observation.
func (c *Coordinator) handleTaskAssigned(ctx context.Context, env *models.Envelope) {
	task := taskFromEnvelope(env)
	if task == nil {
		c.logger.Warn("task:assigned with no usable task payload")
		return
	}
	if !assignedTo(task, c.cfg.AgentID) {
		return
	}

	c.agent.AssignTask(task)
	c.bus.Publish(models.EventTaskStarted, models.NewCriticalEnvelope(
		models.EventTaskStarted, c.cfg.AgentID, c.cfg.ChannelID, map[string]any{
			"taskId":  task.ID,
			"agentId": c.cfg.AgentID,
		}))

	if c.cfg.Orchestrate && c.loop != nil {
		c.mu.Lock()
		first := !c.loopStarted
		c.loopStarted = true
		c.mu.Unlock()
		if first {
			c.bus.Publish(models.EventControlLoopInitialize, models.NewEnvelope(
				models.EventControlLoopInitialize, c.cfg.AgentID, c.cfg.ChannelID, map[string]any{
					"taskId": task.ID,
				}))
			c.loop.Start(ctx)
		}
		c.loop.SubmitObservation(models.Observation{
			Type:    "task",
			Content: task.Title + ": " + task.Description,
			Source:  "coordinator",
		})
	}
}

func (c *Coordinator) handleTaskCancelled(env *models.Envelope) {
	taskID, _ := env.Data["taskId"].(string)
	current := c.agent.CurrentTask()
	if current == nil || (taskID != "" && current.ID != taskID) {
		return
	}
	c.agent.CancelTask()
}

// handleMessages drains any burst of queued message events into one
// aggregated batch and runs the reasoning loop once.
func (c *Coordinator) handleMessages(ctx context.Context, env *models.Envelope) {
	batch := []models.Message{messageFromEnvelope(env)}
	if c.cfg.Aggregate {
	drain:
		for {
			select {
			case next := <-c.inbox:
				if next.EventType == models.EventChannelMessage || next.EventType == models.EventAgentMessage {
					batch = append(batch, messageFromEnvelope(next))
					continue
				}
				// Not a message: handle it and stop aggregating.
				c.handle(ctx, next)
				break drain
			default:
				break drain
			}
		}
	}

	if _, err := c.agent.ProcessMessage(ctx, batch...); err != nil {
		c.logger.Error("reasoning run failed", "error", err)
	}
}

func messageFromEnvelope(env *models.Envelope) models.Message {
	content, _ := env.Data["content"].(string)
	sender, _ := env.Data["senderId"].(string)
	return models.Message{
		Role:    models.RoleUser,
		Content: content,
		Metadata: map[string]any{
			"sender_id": sender,
			"event_id":  env.EventID,
		},
	}
}

func taskFromEnvelope(env *models.Envelope) *models.Task {
	raw, ok := env.Data["task"].(map[string]any)
	if !ok {
		return nil
	}
	task := &models.Task{Status: models.TaskAssigned}
	task.ID, _ = raw["id"].(string)
	task.Title, _ = raw["title"].(string)
	task.Description, _ = raw["description"].(string)
	task.LeadAgentID, _ = raw["leadAgentId"].(string)
	task.CompletionAgentID, _ = raw["completionAgentId"].(string)
	if mode, ok := raw["coordinationMode"].(string); ok {
		task.CoordinationMode = models.CoordinationMode(mode)
	}
	if assigned, ok := raw["assignedAgents"].([]any); ok {
		for _, a := range assigned {
			if id, ok := a.(string); ok {
				task.AssignedAgents = append(task.AssignedAgents, id)
			}
		}
	}
	if task.ID == "" {
		return nil
	}
	return task
}

func assignedTo(task *models.Task, agentID string) bool {
	if len(task.AssignedAgents) == 0 {
		return true
	}
	for _, id := range task.AssignedAgents {
		if id == agentID {
			return true
		}
	}
	return false
}
