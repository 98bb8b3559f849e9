package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/modelexchange/mxf/internal/breaker"
	"github.com/modelexchange/mxf/internal/observability"
	"github.com/modelexchange/mxf/pkg/models"
)

// Outcome is the full product of one tool call: the result message for
// the conversation log, and optionally a deferred user-role feedback
// message to append after the batch completes.
type Outcome struct {
	Result   models.Message
	Feedback *models.Message
	Blocked  bool
}

// Invoker validates and dispatches tool calls. The circuit breaker is
// consulted before every dispatch; a tripped breaker produces a
// synthetic blocked result instead of running the tool.
type Invoker struct {
	registry *Registry
	breaker  *breaker.Breaker
	remote   RemoteExecutor
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	allowed  []string
	inflight map[string]inflightCall
	schemas  map[string]*jsonschema.Schema
}

type inflightCall struct {
	tool  string
	since time.Time
}

// NewInvoker wires an invoker. remote may be nil when no gateway is
// attached; remote tool calls then fail with a tool error.
func NewInvoker(registry *Registry, brk *breaker.Breaker, remote RemoteExecutor, metrics *observability.Metrics, logger *slog.Logger) *Invoker {
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry,
		breaker:  brk,
		remote:   remote,
		metrics:  metrics,
		logger:   logger,
		inflight: make(map[string]inflightCall),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// SetAllowed swaps the allow-list. An empty list disables allow-list
// enforcement and restores contextual gating.
func (inv *Invoker) SetAllowed(names []string) {
	inv.mu.Lock()
	inv.allowed = append([]string(nil), names...)
	inv.mu.Unlock()
}

// Allowed returns a copy of the current allow-list.
func (inv *Invoker) Allowed() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]string(nil), inv.allowed...)
}

// InFlight reports how many calls are currently executing.
func (inv *Invoker) InFlight() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.inflight)
}

// Execute runs one tool call and returns its outcome. Errors surface as
// error-results in the conversation, never as bare errors, so the
// pairing contract holds for every submitted call.
func (inv *Invoker) Execute(ctx context.Context, call models.ToolCall, iteration int) Outcome {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	if inv.breaker != nil {
		digest := breaker.Digest(call.Input)
		if iv := inv.breaker.Allow(call.Name, digest, iteration); iv != nil {
			inv.metrics.ToolInvocations.WithLabelValues(call.Name, "blocked").Inc()
			inv.logger.Warn("tool call blocked",
				"tool", call.Name, "rule", iv.Rule, "iteration", iteration)
			return Outcome{
				Result: resultMessage(call, fmt.Sprintf("Tool call blocked: %s", iv.Guidance), true),
				Feedback: &models.Message{
					ID:      uuid.NewString(),
					Role:    models.RoleUser,
					Content: iv.Guidance,
					Metadata: map[string]any{
						"circuit_breaker": true,
						"rule":            string(iv.Rule),
					},
				},
				Blocked: true,
			}
		}
	}

	if out, ok := inv.checkAllowed(call); !ok {
		return out
	}

	tool, spec, found := inv.registry.Lookup(call.Name)
	if !found {
		inv.metrics.ToolInvocations.WithLabelValues(call.Name, "error").Inc()
		return Outcome{Result: resultMessage(call, fmt.Sprintf("unknown tool: %s", call.Name), true)}
	}

	var schema json.RawMessage
	if tool != nil {
		schema = tool.Schema()
	} else {
		schema = spec.InputSchema
	}
	if err := inv.validateInput(call.Name, schema, call.Input); err != nil {
		inv.metrics.ToolInvocations.WithLabelValues(call.Name, "error").Inc()
		return Outcome{Result: resultMessage(call, fmt.Sprintf("invalid input: %v", err), true)}
	}

	inv.track(call)
	defer inv.untrack(call.ID)

	start := time.Now()
	var result *Result
	if tool != nil {
		res, err := tool.Execute(ctx, call.Input)
		if err != nil {
			result = ErrorResult(err.Error())
		} else {
			result = res
		}
	} else {
		result = inv.executeRemote(ctx, spec, call)
	}
	inv.metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	status := "success"
	if result.IsError {
		status = "error"
	}
	inv.metrics.ToolInvocations.WithLabelValues(call.Name, status).Inc()

	return Outcome{Result: resultMessage(call, result.DisplayText(), result.IsError)}
}

// ExecuteBatch runs the calls concurrently and returns the messages to
// append: one result per call, in submission order, then any deferred
// feedback after the final result. Ordering comes from the indexed
// collection, not from execution order.
func (inv *Invoker) ExecuteBatch(ctx context.Context, calls []models.ToolCall, iteration int) []models.Message {
	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			outcomes[i] = inv.Execute(ctx, call, iteration)
		}(i, call)
	}
	wg.Wait()

	results := make([]models.Message, 0, len(calls))
	var feedback []models.Message
	for _, out := range outcomes {
		results = append(results, out.Result)
		if out.Feedback != nil {
			feedback = append(feedback, *out.Feedback)
		}
	}
	return append(results, feedback...)
}

func (inv *Invoker) checkAllowed(call models.ToolCall) (Outcome, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.allowed) == 0 {
		return Outcome{}, true
	}
	for _, name := range inv.allowed {
		if name == call.Name {
			return Outcome{}, true
		}
	}
	inv.metrics.ToolInvocations.WithLabelValues(call.Name, "error").Inc()
	msg := fmt.Sprintf("tool %s is not in the allowed set for the current phase", call.Name)
	return Outcome{Result: resultMessage(call, msg, true)}, false
}

func (inv *Invoker) validateInput(name string, schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := inv.compiledSchema(name, schema)
	if err != nil {
		// A broken schema must not make the tool uncallable.
		inv.logger.Warn("tool schema failed to compile", "tool", name, "error", err)
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	return compiled.Validate(value)
}

func (inv *Invoker) compiledSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if compiled, ok := inv.schemas[name]; ok {
		return compiled, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "mxf://tools/" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	inv.schemas[name] = compiled
	return compiled, nil
}

func (inv *Invoker) executeRemote(ctx context.Context, spec *models.ToolSpec, call models.ToolCall) *Result {
	if inv.remote == nil {
		return ErrorResult(fmt.Sprintf("remote tool %s has no transport", call.Name))
	}
	raw, err := inv.remote.ExecuteRemote(ctx, spec.ServerID, call.Name, call.Input)
	if err != nil {
		return ErrorResult((&models.ToolError{Tool: call.Name, Err: err}).Error())
	}
	return Normalize(raw)
}

func (inv *Invoker) track(call models.ToolCall) {
	inv.mu.Lock()
	inv.inflight[call.ID] = inflightCall{tool: call.Name, since: time.Now()}
	inv.mu.Unlock()
}

func (inv *Invoker) untrack(id string) {
	inv.mu.Lock()
	delete(inv.inflight, id)
	inv.mu.Unlock()
}

func resultMessage(call models.ToolCall, content string, isError bool) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		ToolCallID: call.ID,
		Content:    content,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"tool_name": call.Name,
			"is_error":  isError,
		},
	}
}
