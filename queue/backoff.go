package queue

import "time"

// Backoff is the retry schedule for failed items: exponential growth from
// Base, capped at Max, with a hard ceiling on attempts after which an item
// is parked as Failed.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff doubles from 30 seconds up to an hour, with five attempts
// before an item is parked.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        30 * time.Second,
		Max:         time.Hour,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given attempt number (1-based) may run
// again. Delay(1) == Base, each further attempt doubles, capped at Max.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether an item that has now made the given number of
// attempts must be parked as Failed.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
