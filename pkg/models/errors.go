package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the runtime. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can classify failures with
// errors.Is.
var (
	// ErrAuth indicates the handshake was rejected or the domain key is
	// invalid. Unrecoverable for the session.
	ErrAuth = errors.New("authentication rejected")

	// ErrInitTimeout indicates registration did not produce both
	// registered and connected within the handshake budget.
	ErrInitTimeout = errors.New("registration timed out")

	// ErrTransport indicates a lost connection or frame failure.
	// Triggers reconnection with backoff.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout indicates an operation exceeded its budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrBreakerTripped indicates the circuit breaker blocked a tool
	// call. Surfaced as a synthetic tool result, never propagated raw.
	ErrBreakerTripped = errors.New("circuit breaker tripped")

	// ErrQuota indicates a durable document would exceed the safety
	// ceiling. The memory store truncates and continues.
	ErrQuota = errors.New("durable document quota exceeded")

	// ErrIndex indicates a secondary-index write failed. Never fatal.
	ErrIndex = errors.New("index write failed")
)

// ConfigError reports missing or invalid required configuration. Raised at
// construction so misconfigured agents fail fast.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ProtocolError reports a tool-call/result pairing violation: a missing,
// duplicate, or out-of-order result. The runtime repairs these by
// synthesizing minimal results; the error records what was repaired.
type ProtocolError struct {
	ToolCallID string
	Reason     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: tool call %s: %s", e.ToolCallID, e.Reason)
}

// ToolError reports a failed tool invocation. The content of the resulting
// tool message begins with a failure marker followed by the provider text.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
