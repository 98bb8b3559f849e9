package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelexchange/mxf/internal/breaker"
	"github.com/modelexchange/mxf/pkg/models"
)

func newTestInvoker(t *testing.T, tools ...Tool) *Invoker {
	t.Helper()
	reg := NewRegistry(nil, nil)
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return NewInvoker(reg, breaker.New(nil, nil), nil, nil, nil)
}

func call(name, input string) models.ToolCall {
	return models.ToolCall{ID: "call-" + name, Name: name, Input: json.RawMessage(input)}
}

func TestExecuteReturnsNormalizedResult(t *testing.T) {
	inv := newTestInvoker(t, echoTool("write_note"))
	out := inv.Execute(context.Background(), call("write_note", `{"text":"hi"}`), 1)

	if out.Blocked || out.Feedback != nil {
		t.Fatalf("plain call should not be blocked")
	}
	if out.Result.Role != models.RoleTool || out.Result.ToolCallID != "call-write_note" {
		t.Fatalf("result must pair with its call: %+v", out.Result)
	}
	if out.Result.Metadata["is_error"] != false {
		t.Fatalf("expected success classification")
	}
}

func TestExecuteUnknownToolYieldsErrorResult(t *testing.T) {
	inv := newTestInvoker(t)
	out := inv.Execute(context.Background(), call("nope", `{}`), 1)
	if out.Result.Metadata["is_error"] != true {
		t.Fatalf("unknown tool must produce an error result, not drop the call")
	}
	if out.Result.ToolCallID != "call-nope" {
		t.Fatalf("even failures must pair with the call id")
	}
}

func TestExecuteValidatesInputSchema(t *testing.T) {
	tool := NewFuncTool("strict", "needs a name", json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`), func(_ context.Context, _ json.RawMessage) (*Result, error) {
		t.Fatal("tool must not run on invalid input")
		return nil, nil
	})
	inv := newTestInvoker(t, tool)

	out := inv.Execute(context.Background(), call("strict", `{"wrong":1}`), 1)
	if out.Result.Metadata["is_error"] != true {
		t.Fatalf("schema violation must classify as error")
	}
	if !strings.Contains(out.Result.Content, "invalid input") {
		t.Fatalf("error text should say the input was invalid: %q", out.Result.Content)
	}
}

func TestAllowListBlocksOutsideCalls(t *testing.T) {
	inv := newTestInvoker(t, echoTool("write_note"), echoTool("other_tool"))
	inv.SetAllowed([]string{"other_tool"})

	out := inv.Execute(context.Background(), call("write_note", `{}`), 1)
	if out.Result.Metadata["is_error"] != true {
		t.Fatalf("call outside the allow-list must not leave the invoker")
	}

	inv.SetAllowed(nil)
	out = inv.Execute(context.Background(), call("write_note", `{}`), 1)
	if out.Result.Metadata["is_error"] != false {
		t.Fatalf("clearing the allow-list restores the call")
	}
}

func TestBreakerBlocksRepeatedIdenticalCalls(t *testing.T) {
	executed := 0
	tool := NewFuncTool("write_note", "writes", json.RawMessage(`{"type":"object"}`),
		func(_ context.Context, _ json.RawMessage) (*Result, error) {
			executed++
			return TextResult("ok"), nil
		})
	inv := newTestInvoker(t, tool)

	var blocked *Outcome
	for i := 1; i <= 3; i++ {
		out := inv.Execute(context.Background(), call("write_note", `{"text":"same"}`), i)
		if out.Blocked {
			blocked = &out
			break
		}
	}
	if blocked == nil {
		t.Fatalf("three identical calls must trip the breaker")
	}
	if executed != 2 {
		t.Fatalf("blocked call must not execute, ran %d times", executed)
	}
	if blocked.Feedback == nil || blocked.Feedback.Role != models.RoleUser {
		t.Fatalf("blocked call must schedule user-role feedback")
	}
	if !strings.Contains(blocked.Result.Content, "blocked") {
		t.Fatalf("synthetic result should say it was blocked: %q", blocked.Result.Content)
	}
}

func TestExecuteBatchOrdersFeedbackAfterResults(t *testing.T) {
	inv := newTestInvoker(t, echoTool("write_note"), echoTool("other_tool"))

	// Trip the breaker on write_note, then run a batch containing the
	// blocked call followed by a healthy one.
	inv.Execute(context.Background(), call("write_note", `{"a":1}`), 1)
	inv.Execute(context.Background(), call("write_note", `{"a":1}`), 2)

	msgs := inv.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_note", Input: json.RawMessage(`{"a":1}`)},
		{ID: "c2", Name: "other_tool", Input: json.RawMessage(`{}`)},
	}, 3)

	if len(msgs) != 3 {
		t.Fatalf("expected 2 results + 1 feedback, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleTool || msgs[0].ToolCallID != "c1" {
		t.Fatalf("first message must be the result for c1")
	}
	if msgs[1].Role != models.RoleTool || msgs[1].ToolCallID != "c2" {
		t.Fatalf("second message must be the result for c2")
	}
	if msgs[2].Role != models.RoleUser {
		t.Fatalf("deferred feedback must follow the final tool result")
	}
}

func TestExecuteBatchRunsCallsConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	slow := func(name string) Tool {
		return NewFuncTool(name, "sleeps then answers", json.RawMessage(`{"type":"object"}`),
			func(_ context.Context, _ json.RawMessage) (*Result, error) {
				time.Sleep(delay)
				return TextResult(name), nil
			})
	}
	inv := newTestInvoker(t, slow("write_note"), slow("other_tool"))

	start := time.Now()
	msgs := inv.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "write_note", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "other_tool", Input: json.RawMessage(`{}`)},
	}, 1)
	elapsed := time.Since(start)

	// Two sequential runs would take at least 2*delay.
	if elapsed >= 2*delay {
		t.Fatalf("batch took %v, calls did not overlap", elapsed)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(msgs))
	}
	if msgs[0].ToolCallID != "c1" || msgs[1].ToolCallID != "c2" {
		t.Fatalf("results must keep submission order: %s, %s", msgs[0].ToolCallID, msgs[1].ToolCallID)
	}
}

func TestReadFileEmptyMarker(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	inv := newTestInvoker(t, NewReadFileTool(dir))

	out := inv.Execute(context.Background(), call("read_file", `{"path":"empty.txt"}`), 1)
	if out.Result.Metadata["is_error"] != false {
		t.Fatalf("empty file is not an error")
	}
	if !strings.HasPrefix(out.Result.Content, EmptyFileMarker) {
		t.Fatalf("result must begin with the empty-file marker: %q", out.Result.Content)
	}

	out = inv.Execute(context.Background(), call("read_file", `{"path":"missing.txt"}`), 1)
	if out.Result.Metadata["is_error"] != true {
		t.Fatalf("missing file must be an error result")
	}
}
