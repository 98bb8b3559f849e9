package breaker

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func newTestBreaker() *Breaker {
	b := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	// Advance one second per call so window-rule tests see distinct but
	// close timestamps.
	b.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return b
}

func TestSameParamsStreakTrips(t *testing.T) {
	b := newTestBreaker()
	digest := Digest(json.RawMessage(`{"q":"golang"}`))

	if iv := b.Allow("db_query", digest, 1); iv != nil {
		t.Fatalf("first call should pass, got %v", iv.Rule)
	}
	if iv := b.Allow("db_query", digest, 2); iv != nil {
		t.Fatalf("second call should pass, got %v", iv.Rule)
	}
	iv := b.Allow("db_query", digest, 3)
	if iv == nil {
		t.Fatalf("third identical call should trip")
	}
	if iv.Rule != RuleSameParams {
		t.Fatalf("expected same_params rule, got %v", iv.Rule)
	}
	if b.StuckDetections() != 1 {
		t.Fatalf("expected 1 stuck detection, got %d", b.StuckDetections())
	}
}

func TestExemptToolRelaxedThresholds(t *testing.T) {
	b := newTestBreaker()

	// 20 consecutive orpar_observe calls with differing params must all
	// pass: the exempt same-tool bound is 50.
	for i := 0; i < 20; i++ {
		input := json.RawMessage(fmt.Sprintf(`{"step":%d}`, i))
		if iv := b.Allow("orpar_observe", Digest(input), i); iv != nil {
			t.Fatalf("call %d blocked unexpectedly: %v", i, iv.Rule)
		}
	}
	sameTool, _ := b.Streaks()
	if sameTool != 20 {
		t.Fatalf("expected streak 20, got %d", sameTool)
	}
}

func TestExemptSameParamsUsesRelaxedBound(t *testing.T) {
	b := newTestBreaker()
	digest := Digest(json.RawMessage(`{"path":"notes.txt"}`))

	for i := 1; i <= 9; i++ {
		if iv := b.Allow("read_file", digest, i); iv != nil {
			t.Fatalf("call %d blocked before exempt bound: %v", i, iv.Rule)
		}
	}
	if iv := b.Allow("read_file", digest, 10); iv == nil || iv.Rule != RuleSameParams {
		t.Fatalf("10th identical exempt call should trip same_params, got %v", iv)
	}
}

func TestSameToolVaryingParamsTrips(t *testing.T) {
	b := newTestBreaker()

	var tripped *Intervention
	for i := 0; i < 15; i++ {
		input := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
		tripped = b.Allow("db_query", Digest(input), i)
		if tripped != nil {
			if i != 14 {
				t.Fatalf("tripped early at call %d", i)
			}
		}
	}
	if tripped == nil || tripped.Rule != RuleSameTool {
		t.Fatalf("expected same_tool trip on 15th call, got %v", tripped)
	}
}

func TestWindowFrequencyExcludesExempt(t *testing.T) {
	b := newTestBreaker()
	digest := Digest(json.RawMessage(`{"q":"x"}`))

	// Interleave another tool so streak rules never fire.
	other := 0
	allow := func(name, d string) *Intervention {
		other++
		b.Allow("channel_send", Digest(json.RawMessage(fmt.Sprintf(`{"i":%d}`, other))), other)
		return b.Allow(name, d, other)
	}

	if iv := allow("db_query", digest); iv != nil {
		t.Fatalf("first windowed call blocked: %v", iv.Rule)
	}
	if iv := allow("db_query", digest); iv != nil {
		t.Fatalf("second windowed call blocked: %v", iv.Rule)
	}
	iv := allow("db_query", digest)
	if iv == nil || iv.Rule != RuleWindowFrequency {
		t.Fatalf("third occurrence within window should trip, got %v", iv)
	}
}

func TestResetStreaksPreservesStuckDetections(t *testing.T) {
	b := newTestBreaker()
	digest := Digest(json.RawMessage(`{}`))
	b.Allow("db_query", digest, 1)
	b.Allow("db_query", digest, 2)
	if iv := b.Allow("db_query", digest, 3); iv == nil {
		t.Fatalf("expected trip")
	}

	before := b.StuckDetections()
	b.ResetStreaks()

	if b.StuckDetections() != before {
		t.Fatalf("stuckDetections must survive reset")
	}
	sameTool, sameParams := b.Streaks()
	if sameTool != 0 || sameParams != 0 {
		t.Fatalf("streaks should reset, got %d/%d", sameTool, sameParams)
	}
}

func TestDigestStableUnderKeyOrderAndWhitespace(t *testing.T) {
	a := Digest(json.RawMessage(`{"b": 2, "a": "x"}`))
	b := Digest(json.RawMessage(`{"a":"x","b":2}`))
	if a != b {
		t.Fatalf("digests differ for equivalent JSON")
	}

	c := Digest(json.RawMessage(`{"a":"x","b":3}`))
	if a == c {
		t.Fatalf("digests collide for different JSON")
	}
}

func TestDigestNested(t *testing.T) {
	a := Digest(json.RawMessage(`{"outer":{"y":1,"x":[1,2,{"k":"v"}]}}`))
	b := Digest(json.RawMessage(`{"outer": {"x": [1, 2, {"k": "v"}], "y": 1}}`))
	if a != b {
		t.Fatalf("nested digests differ for equivalent JSON")
	}
}
