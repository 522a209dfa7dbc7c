// Package retry implements the full-jitter exponential backoff policy shared
// by every component that talks to an unreliable external system (C1's HTTP
// fetcher today; C8 destination writers could reuse it for transient
// connection errors). It is lifted from the teacher's httpds.Client retry
// loop and generalized into a standalone, injectable-clock policy so it can
// be unit tested without real sleeps.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff with full jitter.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Sleep is overridable for tests; defaults to a context-aware
	// time.Sleep when nil.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand is overridable for deterministic tests; defaults to
	// math/rand's package-level source.
	Rand func() float64
}

// Delay returns the jittered delay before attempt number i (0-based: the
// delay that precedes the (i+1)th retry), per the spec's formula
//
//	d_i = min(maxDelay, initialDelay * 2^i) * rand(0.5, 1.5)
func (p Policy) Delay(i int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(2, float64(i))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}
	r := p.randFloat()
	jittered := base * (0.5 + r)
	return time.Duration(jittered)
}

func (p Policy) randFloat() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

// sleep waits for d, or returns ctx.Err() if ctx is canceled first.
func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times (attempt 0 plus MaxAttempts-1 retries),
// sleeping between attempts per Delay, and retrying only while shouldRetry
// returns true for the error fn produced. It returns the last error seen,
// or nil on the first success.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
