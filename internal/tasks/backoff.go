package tasks

import "time"

// BackoffPolicy computes the delay before a failed task is redelivered.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the exponential backoff for the given completed retry count:
// base * 2^retries, capped at MaxDelay.
func (p BackoffPolicy) Delay(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	delay := p.BaseDelay
	for i := 0; i < retries; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
