package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/models"
)

// toolIntent is the superset of JSON forms the scanner accepts: either
// {"tool": ..., "input": ...} or the wire form
// {"type":"tool_use","name": ..., "input": ...} or
// {"name": ..., "arguments": ...}.
type toolIntent struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Arguments json.RawMessage `json:"arguments"`
	Params    json.RawMessage `json:"params"`
}

func (ti *toolIntent) toolName() string {
	if ti.Tool != "" {
		return ti.Tool
	}
	return ti.Name
}

func (ti *toolIntent) input() json.RawMessage {
	switch {
	case len(ti.Input) > 0:
		return ti.Input
	case len(ti.Arguments) > 0:
		return ti.Arguments
	case len(ti.Params) > 0:
		return ti.Params
	default:
		return json.RawMessage(`{}`)
	}
}

// ScanToolIntents finds balanced JSON objects embedded in assistant
// text and converts those declaring a known tool into calls. The walk
// tracks string and escape state so braces inside quoted values do not
// unbalance the scan. Candidates that look like tool intents but fail
// to parse are returned as malformed snippets.
func ScanToolIntents(text string, known func(name string) bool) ([]models.ToolCall, []string) {
	var (
		calls     []models.ToolCall
		malformed []string
	)

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				start = -1
				call, ok, broken := parseIntent(candidate, known)
				if ok {
					calls = append(calls, call)
				} else if broken {
					malformed = append(malformed, candidate)
				}
			}
		}
	}

	// An unclosed object that names a tool is a malformed attempt, not
	// prose.
	if depth > 0 && start >= 0 {
		tail := text[start:]
		if looksLikeIntent(tail) {
			malformed = append(malformed, tail)
		}
	}

	return calls, malformed
}

func parseIntent(candidate string, known func(string) bool) (models.ToolCall, bool, bool) {
	var intent toolIntent
	if err := json.Unmarshal([]byte(candidate), &intent); err != nil {
		return models.ToolCall{}, false, looksLikeIntent(candidate)
	}
	name := intent.toolName()
	if name == "" || (known != nil && !known(name)) {
		return models.ToolCall{}, false, false
	}
	if intent.Type != "" && intent.Type != "tool_use" {
		return models.ToolCall{}, false, false
	}
	return models.ToolCall{
		ID:    uuid.NewString(),
		Name:  name,
		Input: intent.input(),
	}, true, false
}

func looksLikeIntent(candidate string) bool {
	return strings.Contains(candidate, `"tool"`) ||
		(strings.Contains(candidate, `"name"`) && (strings.Contains(candidate, `"input"`) || strings.Contains(candidate, `"arguments"`)))
}

// CorrectionMessage builds the user-role message telling the agent its
// embedded tool JSON could not be parsed.
func CorrectionMessage(snippets []string) models.Message {
	var b strings.Builder
	b.WriteString("Your previous response contained tool-call JSON that could not be parsed:\n")
	for _, snippet := range snippets {
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		fmt.Fprintf(&b, "  %s\n", snippet)
	}
	b.WriteString("Resend the call as a single valid JSON object with \"tool\" and \"input\" fields.")
	return models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: b.String(),
		Metadata: map[string]any{
			"correction": true,
		},
	}
}

// discoveryTools take a free-text intent field that benefits from a
// consistent formulation.
var discoveryTools = map[string]struct{}{
	"tool_search": {},
}

// EnhanceIntents rewrites the intent field of discovery-tool calls with
// a deterministic formulation.
func EnhanceIntents(calls []models.ToolCall) []models.ToolCall {
	for i, call := range calls {
		if _, ok := discoveryTools[call.Name]; !ok {
			continue
		}
		var input map[string]any
		if err := json.Unmarshal(call.Input, &input); err != nil {
			continue
		}
		intent, ok := input["intent"].(string)
		if !ok || intent == "" {
			continue
		}
		input["intent"] = formulateIntent(intent)
		if encoded, err := json.Marshal(input); err == nil {
			calls[i].Input = encoded
		}
	}
	return calls
}

// formulateIntent normalizes whitespace and casing and phrases the
// intent as a capability search. Identical inputs always yield
// identical outputs.
func formulateIntent(intent string) string {
	cleaned := strings.Join(strings.Fields(intent), " ")
	cleaned = strings.TrimRight(cleaned, ".!?")
	cleaned = strings.ToLower(cleaned)
	for _, prefix := range []string{"find a tool to ", "find tools to ", "i want to ", "i need to ", "help me "} {
		cleaned = strings.TrimPrefix(cleaned, prefix)
	}
	if cleaned == "" {
		return "find a relevant tool"
	}
	return "find a tool to " + cleaned
}
