package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelexchange/mxf/pkg/models"
)

func intentCalls(name string, input json.RawMessage) []models.ToolCall {
	return []models.ToolCall{{ID: "c1", Name: name, Input: input}}
}

func knownSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return func(name string) bool { return set[name] }
}

func TestScanExtractsEmbeddedToolCall(t *testing.T) {
	text := `I'll read the config now. {"tool": "read_file", "input": {"path": "config.yaml"}} Then I'll report back.`
	calls, malformed := ScanToolIntents(text, knownSet("read_file"))
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed snippets: %v", malformed)
	}
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("expected one read_file call, got %v", calls)
	}
	var input map[string]string
	if err := json.Unmarshal(calls[0].Input, &input); err != nil || input["path"] != "config.yaml" {
		t.Fatalf("input lost: %s", calls[0].Input)
	}
}

func TestScanHandlesBracesInsideStrings(t *testing.T) {
	text := `{"tool": "channel_send", "input": {"content": "use {curly} braces and a \" quote"}}`
	calls, malformed := ScanToolIntents(text, knownSet("channel_send"))
	if len(calls) != 1 || len(malformed) != 0 {
		t.Fatalf("quoted braces broke the scan: calls=%v malformed=%v", calls, malformed)
	}
}

func TestScanIgnoresUnknownTools(t *testing.T) {
	text := `{"tool": "no_such_tool", "input": {}}`
	calls, malformed := ScanToolIntents(text, knownSet("read_file"))
	if len(calls) != 0 || len(malformed) != 0 {
		t.Fatalf("unknown tool must be ignored silently, got calls=%v malformed=%v", calls, malformed)
	}
}

func TestScanIgnoresProseBraces(t *testing.T) {
	text := `The set {a, b, c} has three members and {x} one.`
	calls, malformed := ScanToolIntents(text, knownSet("read_file"))
	if len(calls) != 0 || len(malformed) != 0 {
		t.Fatalf("prose braces are not tool intents: calls=%v malformed=%v", calls, malformed)
	}
}

func TestScanReportsMalformedIntent(t *testing.T) {
	text := `{"tool": "read_file", "input": }`
	calls, malformed := ScanToolIntents(text, knownSet("read_file"))
	if len(calls) != 0 {
		t.Fatalf("malformed JSON must not become a call")
	}
	if len(malformed) != 1 {
		t.Fatalf("expected one malformed snippet, got %v", malformed)
	}

	correction := CorrectionMessage(malformed)
	if correction.Role != "user" || correction.Metadata["correction"] != true {
		t.Fatalf("correction must be a user-role message: %+v", correction)
	}
	if !strings.Contains(correction.Content, "could not be parsed") {
		t.Fatalf("correction should describe the failure: %q", correction.Content)
	}
}

func TestScanAcceptsWireForm(t *testing.T) {
	text := `{"type": "tool_use", "name": "web_search", "input": {"query": "weather"}}`
	calls, _ := ScanToolIntents(text, knownSet("web_search"))
	if len(calls) != 1 || calls[0].Name != "web_search" {
		t.Fatalf("wire form not accepted: %v", calls)
	}
}

func TestEnhanceIntentsIsDeterministic(t *testing.T) {
	raw := json.RawMessage(`{"intent": "  I want to   Search The Logs!  "}`)
	calls := EnhanceIntents(intentCalls("tool_search", raw))
	var input map[string]string
	if err := json.Unmarshal(calls[0].Input, &input); err != nil {
		t.Fatal(err)
	}
	want := "find a tool to search the logs"
	if input["intent"] != want {
		t.Fatalf("got %q, want %q", input["intent"], want)
	}

	// A second pass yields the same formulation.
	again := EnhanceIntents(calls)
	_ = json.Unmarshal(again[0].Input, &input)
	if input["intent"] != want {
		t.Fatalf("enhancement must be stable, got %q", input["intent"])
	}
}

func TestEnhanceLeavesOtherToolsAlone(t *testing.T) {
	raw := json.RawMessage(`{"intent": "whatever"}`)
	calls := EnhanceIntents(intentCalls("read_file", raw))
	if string(calls[0].Input) != string(raw) {
		t.Fatalf("non-discovery tools must keep their input")
	}
}
