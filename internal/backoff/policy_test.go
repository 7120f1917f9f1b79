package backoff

import (
	"testing"
	"time"
)

func TestDelay_StrictlyIncreasingBeforeCap(t *testing.T) {
	p := NewPolicy(2*time.Second, 5*time.Minute, 500*time.Millisecond, 5)

	prev := time.Duration(0)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Delay(attempt)
		if d <= prev {
			t.Fatalf("attempt %d: delay %v not greater than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestNewPolicy_SmallBaseKeepsJitterBelowBase(t *testing.T) {
	// An oversized jitter bound paired with a small base must be clamped,
	// not replaced by a fixed fallback that itself exceeds the base.
	p := NewPolicy(100*time.Millisecond, 5*time.Minute, 600*time.Millisecond, 5)

	if p.JitterBound >= p.BaseDelay {
		t.Fatalf("jitter bound %v not below base %v", p.JitterBound, p.BaseDelay)
	}

	for trial := 0; trial < 100; trial++ {
		prev := time.Duration(0)
		for attempt := 0; attempt < 5; attempt++ {
			d := p.Delay(attempt)
			if d <= prev {
				t.Fatalf("trial %d attempt %d: delay %v not greater than previous %v", trial, attempt, d, prev)
			}
			prev = d
		}
	}
}

func TestDelay_Bounds(t *testing.T) {
	p := NewPolicy(2*time.Second, 5*time.Minute, 500*time.Millisecond, 5)

	for attempt := 0; attempt < 12; attempt++ {
		d := p.Delay(attempt)
		floor := 2 * time.Second << uint(attempt)
		if floor > 5*time.Minute {
			floor = 5 * time.Minute
		}
		if d < floor {
			t.Errorf("attempt %d: delay %v below exponential floor %v", attempt, d, floor)
		}
		if d > 5*time.Minute {
			t.Errorf("attempt %d: delay %v exceeds cap", attempt, d)
		}
	}
}

func TestDelay_CapReached(t *testing.T) {
	p := NewPolicy(2*time.Second, 30*time.Second, 500*time.Millisecond, 5)

	// 2^10 * 2s is far past the cap
	if d := p.Delay(10); d != 30*time.Second {
		t.Errorf("expected capped delay 30s, got %v", d)
	}
}

func TestNextEligibleAt_IncreasesWithAttempts(t *testing.T) {
	p := NewPolicy(2*time.Second, 5*time.Minute, 500*time.Millisecond, 5)
	now := time.Now()

	prev := now
	for attempt := 1; attempt <= 3; attempt++ {
		next := p.NextEligibleAt(now, attempt)
		if !next.After(prev) {
			t.Fatalf("attempt %d: next eligible %v not after %v", attempt, next, prev)
		}
		prev = next
	}
}

func TestExhausted(t *testing.T) {
	p := NewPolicy(2*time.Second, 5*time.Minute, 500*time.Millisecond, 3)

	for attempt := 0; attempt < 3; attempt++ {
		if p.Exhausted(attempt) {
			t.Errorf("attempt %d should not be exhausted", attempt)
		}
	}
	if !p.Exhausted(3) {
		t.Error("attempt at max should be exhausted")
	}
	if !p.Exhausted(7) {
		t.Error("attempt beyond max should be exhausted")
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := DefaultPolicy()
	if p.BaseDelay != 2*time.Second || p.MaxDelay != 5*time.Minute || p.MaxAttempts != 5 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.JitterBound >= p.BaseDelay {
		t.Error("jitter bound must stay below base delay")
	}
}
