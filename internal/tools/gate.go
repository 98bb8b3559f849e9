package tools

import (
	"strings"

	"github.com/modelexchange/mxf/pkg/models"
)

// recentWindow is how many trailing conversation messages the contextual
// filter inspects.
const recentWindow = 5

// alwaysKeep are tools the contextual filter never removes: channel
// communication, task completion, and the tool recommender.
var alwaysKeep = map[string]struct{}{
	"channel_send":  {},
	"agent_send":    {},
	"task_complete": {},
	"tool_search":   {},
}

// lexicalCues maps conversation keywords to tool-name substrings. A cue
// appearing in recent conversation keeps tools whose names match it.
var lexicalCues = map[string]string{
	"file":   "file",
	"shell":  "shell",
	"memory": "memory",
	"time":   "time",
}

// Gate applies the gating precedence to a tool snapshot. A non-empty
// allow-list is authoritative and skips all contextual filtering.
func Gate(specs []models.ToolSpec, allowed []string, recent []models.Message) []models.ToolSpec {
	if len(allowed) > 0 {
		permit := make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			permit[name] = struct{}{}
		}
		out := make([]models.ToolSpec, 0, len(allowed))
		for _, spec := range specs {
			if _, ok := permit[spec.Name]; ok {
				out = append(out, spec)
			}
		}
		return out
	}
	return contextualFilter(specs, recent)
}

func contextualFilter(specs []models.ToolSpec, recent []models.Message) []models.ToolSpec {
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}

	var ackText, convText strings.Builder
	for _, msg := range recent {
		convText.WriteString(strings.ToLower(msg.Content))
		convText.WriteByte('\n')
		if msg.IsToolAck() || msg.Role == models.RoleTool {
			ackText.WriteString(strings.ToLower(msg.Content))
			ackText.WriteByte('\n')
		}
	}
	acks := ackText.String()
	conv := convText.String()

	cued := func(name string) bool {
		lower := strings.ToLower(name)
		for cue, fragment := range lexicalCues {
			if strings.Contains(conv, cue) && strings.Contains(lower, fragment) {
				return true
			}
		}
		return false
	}

	seen := make(map[string]struct{}, len(specs))
	out := make([]models.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		if _, dup := seen[spec.Name]; dup {
			continue
		}
		seen[spec.Name] = struct{}{}

		if _, keep := alwaysKeep[spec.Name]; keep {
			out = append(out, spec)
			continue
		}
		if cued(spec.Name) {
			out = append(out, spec)
			continue
		}
		// Recently acknowledged tools are withheld to stop reflexive reuse.
		if acks != "" && strings.Contains(acks, strings.ToLower(spec.Name)) {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// MinimalSet reduces a snapshot to completion and discovery tools. Used
// when the immediately preceding message is a tool acknowledgement, so
// the model is nudged to finish rather than message further.
func MinimalSet(specs []models.ToolSpec) []models.ToolSpec {
	out := make([]models.ToolSpec, 0, 2)
	for _, spec := range specs {
		if spec.Name == "task_complete" || spec.Name == "tool_search" {
			out = append(out, spec)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
