package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delayWithRand(tt.attempt, 0); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayClampsToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 5 * time.Second, Factor: 2}
	if got := p.delayWithRand(10, 0); got != 5*time.Second {
		t.Fatalf("got %v, want clamp to 5s", got)
	}
}

func TestDelayAppliesJitter(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.5}
	// attempt 1, random 1.0: 1s + 1s*0.5 = 1.5s
	if got := p.delayWithRand(1, 1.0); got != 1500*time.Millisecond {
		t.Fatalf("got %v, want 1.5s", got)
	}
}

func TestExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	if p.Exhausted(3) {
		t.Fatalf("attempt 3 of 3 should not be exhausted")
	}
	if !p.Exhausted(4) {
		t.Fatalf("attempt 4 of 3 should be exhausted")
	}
	unlimited := Policy{}
	if unlimited.Exhausted(100) {
		t.Fatalf("zero MaxAttempts means unlimited")
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if p.Sleep(ctx, 1) {
		t.Fatalf("cancelled context should abort sleep")
	}
}
