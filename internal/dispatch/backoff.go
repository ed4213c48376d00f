package dispatch

import (
	"math/rand"
	"time"
)

// Backoff assigns a base delay from an ordered schedule plus uniform
// jitter. The schedule is validated as non-decreasing at config load, so
// base delays never shrink between attempts; jitter only widens them.
type Backoff struct {
	schedule  []time.Duration
	jitterMax time.Duration
}

func NewBackoff(schedule []time.Duration, jitterMax time.Duration) *Backoff {
	return &Backoff{schedule: schedule, jitterMax: jitterMax}
}

// NextDelay returns the delay before the next attempt, given the number of
// attempts already made. Attempts beyond the schedule reuse its last entry.
func (b *Backoff) NextDelay(attemptCount int) time.Duration {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}

	delay := b.schedule[idx]
	if b.jitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(b.jitterMax) + 1))
	}
	return delay
}
