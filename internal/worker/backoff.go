package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt. Attempt numbers
// start at 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// Max. With Jitter enabled the delay is spread over an extra random
// quarter in each direction so retrying workers do not hit the upstream
// in lockstep.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultBackoff returns the retry schedule used by the queue worker:
// 1s, 2s, 4s, ... capped at 60s, with jitter.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Base:       time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	delay = math.Min(delay, float64(b.Max))

	if b.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
		delay = math.Max(0, delay)
	}

	return time.Duration(delay)
}

// LinearBackoff adds Increment per attempt, capped at Max.
type LinearBackoff struct {
	Base      time.Duration
	Increment time.Duration
	Max       time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base + time.Duration(attempt-1)*b.Increment
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// FixedBackoff waits the same duration on every attempt.
type FixedBackoff struct {
	Wait time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	return b.Wait
}
