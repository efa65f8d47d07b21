package scheduler

import (
	"math/rand/v2"
	"time"
)

const (
	baseDelay     = 2 * time.Second
	maxDelay      = 30 * time.Second
	jitterPercent = 30 // ±30% jitter
)

// DefaultRetryDelay returns the re-admission delay for attempt n (0-indexed):
// exponential growth from 2s capped at 30s, with jitter so synchronized
// failures do not retry in lockstep.
func DefaultRetryDelay(attempt int) time.Duration {
	delay := baseDelay
	for range attempt {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	// Add jitter: ±jitterPercent%
	jitter := time.Duration(rand.IntN(int(delay)*jitterPercent*2/100)) - time.Duration(int(delay)*jitterPercent/100)
	return delay + jitter
}
