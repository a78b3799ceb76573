package answer

import (
	"math/rand"
	"time"
)

// BackoffPolicy governs generation retries on rate-limited failures:
// exponential delay with uniform jitter, tried per model up to MaxAttempts.
// Distinct from the translation retry policy, which is fixed-delay.
type BackoffPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Jitter       func() time.Duration
}

// DefaultBackoff returns the production policy: 3 attempts, 1s initial
// delay, jitter uniform in [0, 1s).
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Jitter: func() time.Duration {
			return time.Duration(rand.Float64() * float64(time.Second))
		},
	}
}

// Delay returns the wait before retrying after the given zero-based attempt:
// InitialDelay * 2^attempt plus jitter.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay * (1 << attempt)
	if p.Jitter != nil {
		d += p.Jitter()
	}
	return d
}
