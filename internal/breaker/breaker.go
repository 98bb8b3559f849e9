// Package breaker guards the reasoning loop against stuck tool-call
// behavior: identical repeated calls, long same-tool streaks, and bursts
// of the same call within a short window.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/modelexchange/mxf/internal/observability"
)

// Trip rule thresholds.
const (
	// SameParamsThreshold blocks after this many consecutive calls with
	// identical (name, digest).
	SameParamsThreshold = 3

	// SameParamsExemptThreshold is the relaxed streak bound for tools
	// known to legitimately repeat.
	SameParamsExemptThreshold = 10

	// SameToolThreshold blocks after this many consecutive calls to the
	// same tool with varying params.
	SameToolThreshold = 15

	// SameToolExemptThreshold is the relaxed same-tool bound for exempt
	// tools.
	SameToolExemptThreshold = 50

	// WindowDuration is the rolling window for the frequency rule.
	WindowDuration = 30 * time.Second

	// WindowThreshold blocks when the same (name, digest) occurs this
	// many times inside the window.
	WindowThreshold = 3

	// historySize bounds the ring of recent calls.
	historySize = 64
)

// Rule identifies which tripping rule fired.
type Rule string

const (
	RuleSameParams      Rule = "same_params"
	RuleSameTool        Rule = "same_tool"
	RuleWindowFrequency Rule = "window_frequency"
)

// DefaultExemptTools lists tools known to legitimately repeat: web
// lookups, filesystem reads, task creation, messaging, and the ORPAR
// phase tools.
func DefaultExemptTools() []string {
	return []string{
		"web_search",
		"web_fetch",
		"read_file",
		"list_files",
		"task_create",
		"channel_send",
		"agent_send",
		"orpar_observe",
		"orpar_reason",
		"orpar_plan",
		"orpar_act",
		"orpar_reflect",
	}
}

// call is one entry in the recent-call ring.
type call struct {
	tool      string
	digest    string
	at        time.Time
	iteration int
}

// Intervention describes a trip: the offending tool, the rule that fired,
// and guidance text addressed to the agent.
type Intervention struct {
	Tool     string
	Digest   string
	Rule     Rule
	Guidance string
}

// Breaker tracks one agent's tool-call stream. Single-writer: the owning
// agent goroutine records and checks; the mutex covers snapshot readers.
type Breaker struct {
	mu sync.Mutex

	recent  []call
	exempt  map[string]struct{}
	metrics *observability.Metrics

	consecutiveSameTool   int
	consecutiveSameParams int
	lastToolName          string
	lastParamsDigest      string
	stuckDetections       int

	// now is swappable for tests.
	now func() time.Time
}

// New creates a breaker. extraExempt is merged with the default exempt
// set. A nil metrics falls back to an unregistered set.
func New(extraExempt []string, metrics *observability.Metrics) *Breaker {
	if metrics == nil {
		metrics = observability.Nop()
	}
	exempt := make(map[string]struct{})
	for _, name := range DefaultExemptTools() {
		exempt[name] = struct{}{}
	}
	for _, name := range extraExempt {
		if name != "" {
			exempt[name] = struct{}{}
		}
	}
	return &Breaker{
		exempt:  exempt,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow records a call and decides whether it may proceed. A non-nil
// Intervention means the call is blocked and a synthetic result must be
// produced in its place.
func (b *Breaker) Allow(tool, digest string, iteration int) *Intervention {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	_, isExempt := b.exempt[tool]

	if tool == b.lastToolName {
		b.consecutiveSameTool++
		if digest == b.lastParamsDigest {
			b.consecutiveSameParams++
		} else {
			b.consecutiveSameParams = 1
		}
	} else {
		b.consecutiveSameTool = 1
		b.consecutiveSameParams = 1
	}
	b.lastToolName = tool
	b.lastParamsDigest = digest

	b.recent = append(b.recent, call{tool: tool, digest: digest, at: now, iteration: iteration})
	if len(b.recent) > historySize {
		b.recent = b.recent[len(b.recent)-historySize:]
	}

	if rule, ok := b.evaluate(tool, digest, isExempt, now); ok {
		b.stuckDetections++
		b.metrics.BreakerTrips.WithLabelValues(string(rule)).Inc()
		return &Intervention{
			Tool:     tool,
			Digest:   digest,
			Rule:     rule,
			Guidance: guidance(tool, rule),
		}
	}
	return nil
}

func (b *Breaker) evaluate(tool, digest string, isExempt bool, now time.Time) (Rule, bool) {
	paramsLimit := SameParamsThreshold
	toolLimit := SameToolThreshold
	if isExempt {
		paramsLimit = SameParamsExemptThreshold
		toolLimit = SameToolExemptThreshold
	}

	if b.consecutiveSameParams >= paramsLimit {
		return RuleSameParams, true
	}
	if b.consecutiveSameTool >= toolLimit {
		return RuleSameTool, true
	}
	if !isExempt {
		cutoff := now.Add(-WindowDuration)
		count := 0
		for _, c := range b.recent {
			if c.tool == tool && c.digest == digest && c.at.After(cutoff) {
				count++
			}
		}
		if count >= WindowThreshold {
			return RuleWindowFrequency, true
		}
	}
	return "", false
}

// ResetStreaks clears the streak counters and call ring on new task
// assignment. stuckDetections is monotone and survives resets.
func (b *Breaker) ResetStreaks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = nil
	b.consecutiveSameTool = 0
	b.consecutiveSameParams = 0
	b.lastToolName = ""
	b.lastParamsDigest = ""
}

// StuckDetections returns the monotone trip count.
func (b *Breaker) StuckDetections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stuckDetections
}

// Streaks returns the current consecutive counters, for observability.
func (b *Breaker) Streaks() (sameTool, sameParams int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveSameTool, b.consecutiveSameParams
}

func guidance(tool string, rule Rule) string {
	switch rule {
	case RuleSameParams:
		return fmt.Sprintf("The tool %q has been called repeatedly with identical input and has been blocked. Stop calling it with this input: try an alternative approach, use a different tool, or complete the task with what you already know.", tool)
	case RuleSameTool:
		return fmt.Sprintf("The tool %q has been called many times in a row and has been blocked. Step back, reconsider the approach, and either use a different tool or complete the task.", tool)
	default:
		return fmt.Sprintf("The tool %q was invoked with the same input several times within a short window and has been blocked. Vary the input meaningfully, try a different tool, or complete the task.", tool)
	}
}
