package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape classifies the wire form of a tool result.
type Shape string

const (
	// ShapeLegacy is a bare JSON object with no content envelope.
	ShapeLegacy Shape = "legacy"
	// ShapeStandardText is {content:{type:"text",text:...}}.
	ShapeStandardText Shape = "standard_text"
	// ShapeStandardData is {content:{type:"data",data:...}}.
	ShapeStandardData Shape = "standard_data"
	// ShapeMultiContent is a sequence of content items.
	ShapeMultiContent Shape = "multi_content"
	// ShapeBinary carries a mime type and opaque payload.
	ShapeBinary Shape = "binary"
)

// ContentItem is one element of a multi-content result.
type ContentItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
}

// Result is a normalized tool result. Exactly one shape field is
// populated according to Shape.
type Result struct {
	Shape   Shape
	Text    string
	Data    json.RawMessage
	Items   []ContentItem
	Mime    string
	Size    int
	IsError bool
}

// TextResult wraps plain text in a standard text result.
func TextResult(text string) *Result {
	return &Result{Shape: ShapeStandardText, Text: text}
}

// ErrorResult wraps an error message in a failed text result.
func ErrorResult(text string) *Result {
	return &Result{Shape: ShapeStandardText, Text: text, IsError: true}
}

// DataResult wraps structured data in a standard data result.
func DataResult(data json.RawMessage) *Result {
	return &Result{Shape: ShapeStandardData, Data: data}
}

// envelope is the superset of result encodings seen on the wire.
type envelope struct {
	Content json.RawMessage `json:"content"`
	IsError *bool           `json:"isError"`
	Error   string          `json:"error"`
}

type contentObject struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Data     json.RawMessage `json:"data"`
	MimeType string          `json:"mimeType"`
}

// Normalize parses a raw result payload into its shape. It is total:
// any input yields a usable Result, falling back to legacy.
func Normalize(raw json.RawMessage) *Result {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return &Result{Shape: ShapeStandardText, Text: ""}
	}

	// A top-level array is a content-item sequence.
	if strings.HasPrefix(trimmed, "[") {
		var items []ContentItem
		if err := json.Unmarshal(raw, &items); err == nil {
			return &Result{Shape: ShapeMultiContent, Items: items}
		}
		return &Result{Shape: ShapeLegacy, Text: trimmed}
	}

	if !strings.HasPrefix(trimmed, "{") {
		// Bare string or number.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return &Result{Shape: ShapeStandardText, Text: s}
		}
		return &Result{Shape: ShapeStandardText, Text: trimmed}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Result{Shape: ShapeLegacy, Text: trimmed}
	}

	isError := env.IsError != nil && *env.IsError
	if env.Error != "" {
		isError = true
	}

	if len(env.Content) == 0 {
		// No content envelope at all: legacy bare object.
		r := &Result{Shape: ShapeLegacy, Text: trimmed, IsError: isError}
		if env.Error != "" {
			r.Text = env.Error
			r.Shape = ShapeStandardText
		}
		return r
	}

	inner := strings.TrimSpace(string(env.Content))
	if strings.HasPrefix(inner, "[") {
		var items []ContentItem
		if err := json.Unmarshal(env.Content, &items); err == nil {
			return &Result{Shape: ShapeMultiContent, Items: items, IsError: isError}
		}
	}
	if strings.HasPrefix(inner, "\"") {
		var s string
		if err := json.Unmarshal(env.Content, &s); err == nil {
			return &Result{Shape: ShapeStandardText, Text: s, IsError: isError}
		}
	}

	var obj contentObject
	if err := json.Unmarshal(env.Content, &obj); err != nil {
		return &Result{Shape: ShapeLegacy, Text: trimmed, IsError: isError}
	}
	switch obj.Type {
	case "text":
		return &Result{Shape: ShapeStandardText, Text: obj.Text, IsError: isError}
	case "binary", "image", "audio":
		return &Result{Shape: ShapeBinary, Mime: obj.MimeType, Size: len(obj.Data), IsError: isError}
	case "data", "json", "":
		if len(obj.Data) > 0 {
			return &Result{Shape: ShapeStandardData, Data: obj.Data, IsError: isError}
		}
		if obj.Text != "" {
			return &Result{Shape: ShapeStandardText, Text: obj.Text, IsError: isError}
		}
		return &Result{Shape: ShapeStandardData, Data: env.Content, IsError: isError}
	default:
		return &Result{Shape: ShapeStandardData, Data: env.Content, IsError: isError}
	}
}

// DisplayText renders the result as a single text payload for the
// conversation log. Total over all shapes.
func (r *Result) DisplayText() string {
	switch r.Shape {
	case ShapeStandardText:
		return r.Text
	case ShapeStandardData:
		return string(r.Data)
	case ShapeMultiContent:
		parts := make([]string, 0, len(r.Items))
		for _, item := range r.Items {
			switch {
			case item.Text != "":
				parts = append(parts, item.Text)
			case len(item.Data) > 0:
				parts = append(parts, string(item.Data))
			case item.MimeType != "":
				parts = append(parts, fmt.Sprintf("[binary content: %s]", item.MimeType))
			}
		}
		return strings.Join(parts, "\n")
	case ShapeBinary:
		return fmt.Sprintf("[binary content: %s, %d bytes]", r.Mime, r.Size)
	default: // ShapeLegacy
		return r.Text
	}
}
