// Package backoff computes retry delays for failed queue messages:
// exponential backoff with uniform jitter and a hard cap.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Policy holds retry configuration. The zero value is not usable; construct
// with NewPolicy or DefaultPolicy.
type Policy struct {
	BaseDelay   time.Duration // delay for attempt 0
	MaxDelay    time.Duration // cap on the computed delay
	JitterBound time.Duration // uniform jitter in [0, JitterBound)
	MaxAttempts int           // attempts at or beyond this are dead-lettered

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy creates a retry policy, substituting defaults for non-positive
// fields. JitterBound must stay below BaseDelay so delays remain strictly
// increasing across attempts; an out-of-range bound is clamped to a quarter
// of the base delay.
func NewPolicy(base, max, jitter time.Duration, maxAttempts int) *Policy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	if jitter <= 0 || jitter >= base {
		jitter = base / 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Policy{
		BaseDelay:   base,
		MaxDelay:    max,
		JitterBound: jitter,
		MaxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DefaultPolicy returns the standard reconciliation policy:
// 2s base, 5m cap, 500ms jitter, 5 attempts.
func DefaultPolicy() *Policy {
	return NewPolicy(0, 0, 0, 0)
}

// Delay computes the wait before the next attempt:
// min(base * 2^attempt + jitter, max).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	d += p.jitter()
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// NextEligibleAt returns when a message that has now failed its
// attempt-numbered try becomes eligible again.
func (p *Policy) NextEligibleAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

// Exhausted reports whether a message with the given attempt count has used
// up its retry budget and must be dead-lettered.
func (p *Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

func (p *Policy) jitter() time.Duration {
	if p.JitterBound <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(p.JitterBound)))
}
