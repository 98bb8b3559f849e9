package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/pkg/models"
)

type fakeAgent struct {
	mu        sync.Mutex
	task      *models.Task
	batches   [][]models.Message
	processed chan int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{processed: make(chan int, 16)}
}

func (f *fakeAgent) ID() string { return "a1" }

func (f *fakeAgent) AssignTask(task *models.Task) {
	f.mu.Lock()
	f.task = task
	f.mu.Unlock()
}

func (f *fakeAgent) CancelTask() {
	f.mu.Lock()
	f.task = nil
	f.mu.Unlock()
}

func (f *fakeAgent) CurrentTask() *models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.task
}

func (f *fakeAgent) ProcessMessage(_ context.Context, inbound ...models.Message) (string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, inbound)
	f.mu.Unlock()
	f.processed <- len(inbound)
	return "", nil
}

func taskEnvelope(taskID string, assigned ...string) *models.Envelope {
	agents := make([]any, 0, len(assigned))
	for _, a := range assigned {
		agents = append(agents, a)
	}
	return models.NewCriticalEnvelope(models.EventTaskAssigned, "", "c1", map[string]any{
		"task": map[string]any{
			"id":             taskID,
			"title":          "review",
			"description":    "review the report",
			"assignedAgents": agents,
		},
	})
}

func TestTaskAssignedInstallsBeforeProcessing(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	started := 0
	b.Subscribe(models.EventTaskStarted, nil, func(env *models.Envelope) { started++ })

	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1"}, agent, nil, b, nil, nil)
	c.handle(context.Background(), taskEnvelope("t1", "a1"))

	if agent.CurrentTask() == nil || agent.CurrentTask().ID != "t1" {
		t.Fatalf("task not installed")
	}
	if started != 1 {
		t.Fatalf("expected task:started, got %d", started)
	}
}

func TestTaskForOtherAgentIgnored(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1"}, agent, nil, b, nil, nil)

	c.handle(context.Background(), taskEnvelope("t1", "someone_else"))
	if agent.CurrentTask() != nil {
		t.Fatalf("task assigned to another agent must not install")
	}
}

func TestTaskCancelledClearsCurrentTask(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1"}, agent, nil, b, nil, nil)

	c.handle(context.Background(), taskEnvelope("t1", "a1"))
	c.handle(context.Background(), models.NewEnvelope(models.EventTaskCancelled, "", "c1", map[string]any{
		"taskId": "t1",
	}))
	if agent.CurrentTask() != nil {
		t.Fatalf("cancellation must clear the task")
	}

	// Cancelling an unrelated task is a no-op.
	c.handle(context.Background(), taskEnvelope("t2", "a1"))
	c.handle(context.Background(), models.NewEnvelope(models.EventTaskCancelled, "", "c1", map[string]any{
		"taskId": "other",
	}))
	if agent.CurrentTask() == nil {
		t.Fatalf("unrelated cancellation must not clear the task")
	}
}

func TestOrchestrationInitializesLoopOnce(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	loop := NewLoop("a1", "c1", &fakeRunner{}, &fakeRecorder{}, b, time.Hour, nil)

	initialized := 0
	b.Subscribe(models.EventControlLoopInitialize, nil, func(env *models.Envelope) { initialized++ })
	observations := 0
	b.Subscribe(models.EventControlLoopObservation, nil, func(env *models.Envelope) { observations++ })

	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1", Orchestrate: true}, agent, loop, b, nil, nil)
	defer c.Stop()

	ctx := context.Background()
	c.handle(ctx, taskEnvelope("t1", "a1"))
	c.handle(ctx, taskEnvelope("t2", "a1"))

	if initialized != 1 {
		t.Fatalf("loop initializes on first task only, got %d", initialized)
	}
	if observations != 2 {
		t.Fatalf("every task injects an observation, got %d", observations)
	}
}

func TestMessageBurstAggregatesIntoOneBatch(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1", Aggregate: true}, agent, nil, b, nil, nil)

	msg := func(content string) *models.Envelope {
		return models.NewEnvelope(models.EventChannelMessage, "", "c1", map[string]any{
			"content":  content,
			"senderId": "user1",
		})
	}
	// Two more messages already queued when the first is handled.
	c.inbox <- msg("second")
	c.inbox <- msg("third")
	c.handleMessages(context.Background(), msg("first"))

	if len(agent.batches) != 1 {
		t.Fatalf("burst must aggregate into one run, got %d", len(agent.batches))
	}
	if got := len(agent.batches[0]); got != 3 {
		t.Fatalf("expected 3 aggregated messages, got %d", got)
	}
	if agent.batches[0][0].Content != "first" || agent.batches[0][2].Content != "third" {
		t.Fatalf("aggregation must preserve order: %v", agent.batches[0])
	}
}

func TestStartRoutesBusEventsToAgent(t *testing.T) {
	b := bus.New(nil)
	agent := newFakeAgent()
	c := NewCoordinator(Config{AgentID: "a1", ChannelID: "c1"}, agent, nil, b, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	b.Publish(models.EventChannelMessage, models.NewEnvelope(
		models.EventChannelMessage, "", "c1", map[string]any{
			"content": "hello", "senderId": "user1",
		}))

	select {
	case n := <-agent.processed:
		if n != 1 {
			t.Fatalf("expected 1 message, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the agent")
	}

	// A message targeted at another agent is filtered out.
	b.Publish(models.EventAgentMessage, models.NewEnvelope(
		models.EventAgentMessage, "", "c1", map[string]any{
			"content": "private", "senderId": "user1", "targetId": "someone_else",
		}))
	select {
	case <-agent.processed:
		t.Fatal("targeted message for another agent must be filtered")
	case <-time.After(100 * time.Millisecond):
	}
}
