// Package humanize provides human-like interaction patterns for browser
// automation: randomized delays, eased feed scrolling, and Bezier-curve
// mouse movement. Scraping traffic that ticks like a metronome gets flagged;
// everything here exists to break that rhythm.
package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrElementNotVisible is returned when an element cannot be found or has
// no visible bounds.
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// RandomDuration returns a random duration between min and max milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// RandomBetween returns a random duration in [min, max].
func RandomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// SleepWithContext sleeps for the duration or until the context is
// canceled. Returns true if the sleep completed normally.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepBetween sleeps for a random duration in [min, max], respecting
// context cancellation.
func SleepBetween(ctx context.Context, min, max time.Duration) bool {
	return SleepWithContext(ctx, RandomBetween(min, max))
}

// SleepWithJitter sleeps for base +/- jitterPercent. For example a 20%%
// jitter on one second sleeps 0.8s-1.2s.
func SleepWithJitter(ctx context.Context, base time.Duration, jitterPercent float64) bool {
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 1 {
		jitterPercent = 1
	}

	jitterRange := float64(base) * jitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange

	duration := time.Duration(float64(base) + jitter)
	if duration < 0 {
		duration = 0
	}
	return SleepWithContext(ctx, duration)
}
