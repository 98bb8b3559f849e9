package agent

import (
	"context"

	"github.com/modelexchange/mxf/pkg/models"
)

// Options carries provider tuning knobs.
type Options struct {
	Model           string  `yaml:"model" json:"model"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxTokens       int     `yaml:"maxTokens" json:"maxTokens"`
	EnableReasoning bool    `yaml:"enableReasoning" json:"enableReasoning"`
}

// DefaultOptions returns the default provider options.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   8000,
	}
}

// Request is one completion request to an LLM provider.
type Request struct {
	System   string
	Messages []models.Message
	Tools    []models.ToolSpec
	Options  Options
}

// Response is the provider's reply: assistant text, optional opaque
// reasoning text, and any structured tool calls.
type Response struct {
	Text      string
	Reasoning string
	ToolCalls []models.ToolCall
}

// Provider abstracts an LLM backend.
type Provider interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// Complete runs one completion. Implementations honor ctx
	// cancellation and return transport failures as errors.
	Complete(ctx context.Context, req *Request) (*Response, error)
}
