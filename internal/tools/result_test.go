package tools

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalizeLegacyObject(t *testing.T) {
	r := Normalize(json.RawMessage(`{"status":"ok","rows":3}`))
	if r.Shape != ShapeLegacy {
		t.Fatalf("expected legacy shape, got %s", r.Shape)
	}
	if !strings.Contains(r.DisplayText(), `"rows":3`) {
		t.Fatalf("legacy display should carry the raw object, got %q", r.DisplayText())
	}
}

func TestNormalizeStandardText(t *testing.T) {
	r := Normalize(json.RawMessage(`{"content":{"type":"text","text":"hello"}}`))
	if r.Shape != ShapeStandardText || r.DisplayText() != "hello" {
		t.Fatalf("got shape %s text %q", r.Shape, r.DisplayText())
	}
}

func TestNormalizeStandardData(t *testing.T) {
	r := Normalize(json.RawMessage(`{"content":{"type":"data","data":{"count":7}}}`))
	if r.Shape != ShapeStandardData {
		t.Fatalf("expected standard data, got %s", r.Shape)
	}
	if !strings.Contains(r.DisplayText(), `"count":7`) {
		t.Fatalf("data display lost payload: %q", r.DisplayText())
	}
}

func TestNormalizeMultiContent(t *testing.T) {
	r := Normalize(json.RawMessage(`{"content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}`))
	if r.Shape != ShapeMultiContent || len(r.Items) != 2 {
		t.Fatalf("got shape %s items %d", r.Shape, len(r.Items))
	}
	if r.DisplayText() != "part one\npart two" {
		t.Fatalf("multi display wrong: %q", r.DisplayText())
	}
}

func TestNormalizeBinary(t *testing.T) {
	r := Normalize(json.RawMessage(`{"content":{"type":"binary","mimeType":"image/png","data":"aGVsbG8="}}`))
	if r.Shape != ShapeBinary {
		t.Fatalf("expected binary, got %s", r.Shape)
	}
	if !strings.Contains(r.DisplayText(), "image/png") {
		t.Fatalf("binary display should name the mime type: %q", r.DisplayText())
	}
}

func TestNormalizeErrorFlag(t *testing.T) {
	r := Normalize(json.RawMessage(`{"isError":true,"content":{"type":"text","text":"boom"}}`))
	if !r.IsError || r.DisplayText() != "boom" {
		t.Fatalf("error flag lost: %+v", r)
	}

	r = Normalize(json.RawMessage(`{"error":"no such host"}`))
	if !r.IsError {
		t.Fatalf("bare error field should classify as failure")
	}
}

func TestNormalizeBareString(t *testing.T) {
	r := Normalize(json.RawMessage(`"just text"`))
	if r.Shape != ShapeStandardText || r.Text != "just text" {
		t.Fatalf("got %+v", r)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	r := Normalize(nil)
	if r.DisplayText() != "" || r.IsError {
		t.Fatalf("empty input should normalize to empty success text")
	}
}
