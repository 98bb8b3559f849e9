package agent

import (
	"fmt"
	"strings"

	"github.com/modelexchange/mxf/pkg/models"
)

// recentActionsCap bounds the recent-actions digest in the assembled
// context.
const recentActionsCap = 10

// Context is the assembled input for one LLM call.
type Context struct {
	SystemPrompt  string
	AgentID       string
	TaskSummary   string
	History       []models.Message
	RecentActions []string
	Phase         models.Phase
	Tools         []models.ToolSpec
}

// buildContext assembles the per-iteration context: dynamic system
// prompt, identity, task summary, dialogue history stripped of system
// messages, a capped recent-actions digest, the current phase, and the
// selected tool set.
func (a *Agent) buildContext(toolSet []models.ToolSpec) *Context {
	history := a.memory.History()
	dialogue := make([]models.Message, 0, len(history))
	var actions []string
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		dialogue = append(dialogue, msg)
		if msg.Role == models.RoleAssistant {
			for _, call := range msg.ToolCalls {
				actions = append(actions, call.Name)
			}
		}
	}
	if len(actions) > recentActionsCap {
		actions = actions[len(actions)-recentActionsCap:]
	}

	a.mu.Lock()
	task := a.task
	phase := a.phase
	a.mu.Unlock()

	taskSummary := ""
	if task != nil {
		taskSummary = task.Title
		if task.Description != "" {
			taskSummary += ": " + task.Description
		}
	}

	return &Context{
		SystemPrompt:  a.systemPrompt(toolSet, taskSummary, phase),
		AgentID:       a.cfg.AgentID,
		TaskSummary:   taskSummary,
		History:       dialogue,
		RecentActions: actions,
		Phase:         phase,
		Tools:         toolSet,
	}
}

// systemPrompt renders the dynamic system prompt reflecting the current
// tool set, task, and phase.
func (a *Agent) systemPrompt(toolSet []models.ToolSpec, taskSummary string, phase models.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", a.cfg.AgentID)
	if a.cfg.Persona != "" {
		fmt.Fprintf(&b, ", %s", a.cfg.Persona)
	}
	fmt.Fprintf(&b, ", operating in channel %s.\n", a.cfg.ChannelID)

	if taskSummary != "" {
		fmt.Fprintf(&b, "\nCurrent task: %s\n", taskSummary)
	}
	if phase != "" && phase != models.PhaseIdle {
		fmt.Fprintf(&b, "\nYou are in the %s phase of your control loop. Use the tools available for this phase.\n", phase)
	}

	if len(toolSet) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, spec := range toolSet {
			fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		}
		b.WriteString("\nCall tools through the structured tool interface. When a task is finished, call task_complete with a summary.\n")
	}

	return b.String()
}

// request converts the context into a provider request.
func (c *Context) request(opts Options) *Request {
	return &Request{
		System:   c.SystemPrompt,
		Messages: c.History,
		Tools:    c.Tools,
		Options:  opts,
	}
}
