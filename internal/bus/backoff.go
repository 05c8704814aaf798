package bus

import (
	"math/rand"
	"time"
)

// BackoffParams holds the exponential-backoff-with-jitter parameters from
// spec.md §4.3: B0=250ms base, Bmax=10s ceiling, δ=0.2 jitter fraction.
type BackoffParams struct {
	Base    time.Duration
	Max     time.Duration
	Jitter  float64
}

// DefaultBackoffParams returns the spec's default backoff configuration.
func DefaultBackoffParams() BackoffParams {
	return BackoffParams{Base: 250 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2}
}

// Delay computes the backoff delay for the given attempt (1-indexed):
// min(Bmax, B0 * 2^(attempt-1)) jittered by ±δ.
func (p BackoffParams) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.Base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > p.Max {
			backoff = p.Max
			break
		}
	}
	if backoff > p.Max {
		backoff = p.Max
	}
	if p.Jitter <= 0 {
		return backoff
	}
	jitterRange := float64(backoff) * p.Jitter
	delta := (rng.Float64()*2 - 1) * jitterRange
	result := time.Duration(float64(backoff) + delta)
	if result < 0 {
		result = 0
	}
	return result
}
