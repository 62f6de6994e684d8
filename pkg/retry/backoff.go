package retry

import "time"

// Backoff computes capped exponential delays without jitter
type Backoff struct {
	min time.Duration
	max time.Duration
}

// NewBackoff creates a backoff from a policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{min: policy.DelayMin, max: policy.DelayMax}
}

// Calculate returns min(DelayMin * 2^(attempt-1), DelayMax) for attempt >= 1
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.min
	for i := 1; i < attempt; i++ {
		if delay >= b.max || delay > b.max/2 {
			return b.max
		}
		delay *= 2
	}
	if delay > b.max {
		return b.max
	}
	return delay
}
