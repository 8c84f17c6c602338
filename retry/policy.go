// Package retry provides the immutable retry policy value object used by
// the election loop and by RPC callers that honor classified error codes.
package retry

import (
	"fmt"
	rand "math/rand/v2"
	"time"
)

// Bounds enforced on Policy construction.
const (
	MinInitialDelay = 10 * time.Millisecond
	MaxInitialDelay = 10 * time.Second
)

// Policy is an immutable backoff policy.
//
// Delay growth is exponential with a cap and optional jitter:
//
//	Delay(0) = 0
//	Delay(n) = min(MaxDelay, InitialDelay * BackoffMultiplier^(n-1)) ± jitter
//
// Construct with New or Default; the zero value is not valid.
type Policy struct {
	maxRetries      int
	initialDelay    time.Duration
	multiplier      float64
	maxDelay        time.Duration
	jitterFactor    float64
	retryableErrors map[string]struct{}
	rng             *rand.Rand
}

// New creates a validated retry policy.
//
// Parameters:
//   - maxRetries: Maximum retry attempts; <= 0 means retry forever
//   - initialDelay: First non-zero delay; must be within [10ms, 10s]
//   - multiplier: Exponential growth factor; values < 1.0 are rejected
//   - maxDelay: Delay cap; must be greater than initialDelay
//   - jitterFactor: Relative jitter in [0, 1); 0 disables jitter
//   - retryableErrors: Classified error codes considered retryable
//
// Returns:
//   - Policy: The validated policy
//   - error: Description of the first violated invariant
func New(
	maxRetries int,
	initialDelay time.Duration,
	multiplier float64,
	maxDelay time.Duration,
	jitterFactor float64,
	retryableErrors []string,
) (Policy, error) {
	if initialDelay < MinInitialDelay || initialDelay > MaxInitialDelay {
		return Policy{}, fmt.Errorf("initial delay %v must be within [%v, %v]",
			initialDelay, MinInitialDelay, MaxInitialDelay)
	}
	if maxDelay <= initialDelay {
		return Policy{}, fmt.Errorf("max delay %v must be greater than initial delay %v",
			maxDelay, initialDelay)
	}
	if multiplier < 1.0 {
		return Policy{}, fmt.Errorf("backoff multiplier %v must be >= 1.0", multiplier)
	}
	if jitterFactor < 0 || jitterFactor >= 1.0 {
		return Policy{}, fmt.Errorf("jitter factor %v must be within [0, 1)", jitterFactor)
	}

	codes := make(map[string]struct{}, len(retryableErrors))
	for _, code := range retryableErrors {
		codes[code] = struct{}{}
	}

	return Policy{
		maxRetries:      maxRetries,
		initialDelay:    initialDelay,
		multiplier:      multiplier,
		maxDelay:        maxDelay,
		jitterFactor:    jitterFactor,
		retryableErrors: codes,
	}, nil
}

// Default returns the policy used by the election loop and exclusive-RPC
// callers when none is provided: 1s initial delay doubling up to 30s with
// 10% jitter, retrying forever on NOT_ACTIVE and TIMEOUT.
func Default() Policy {
	p, err := New(0, time.Second, 2.0, 30*time.Second, 0.1,
		[]string{"NOT_ACTIVE", "TIMEOUT", "NO_RESPONDERS"})
	if err != nil {
		// Invariants above are satisfied by construction.
		panic(err)
	}

	return p
}

// WithSeed returns a copy of the policy with a deterministic jitter source.
//
// Production policies keep seed 0 and use the package-level PRNG; tests
// pass a fixed seed for reproducible delays.
func (p Policy) WithSeed(seed int64) Policy {
	if seed == 0 {
		p.rng = nil
		return p
	}
	s1 := uint64(seed) //nolint:gosec // non-crypto jitter seeding
	s2 := s1 ^ 0x9e3779b97f4a7c15
	p.rng = rand.New(rand.NewPCG(s1, s2))

	return p
}

// MaxRetries returns the retry budget; <= 0 means unbounded.
func (p Policy) MaxRetries() int { return p.maxRetries }

// InitialDelay returns the first non-zero delay.
func (p Policy) InitialDelay() time.Duration { return p.initialDelay }

// MaxDelay returns the delay cap.
func (p Policy) MaxDelay() time.Duration { return p.maxDelay }

// Exhausted reports whether the attempt counter has passed the retry budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.maxRetries > 0 && attempt > p.maxRetries
}

// IsRetryable reports whether the classified error code should be retried.
func (p Policy) IsRetryable(code string) bool {
	_, ok := p.retryableErrors[code]
	return ok
}

// Delay computes the backoff delay before the given attempt.
//
// Attempt 0 is the initial try and always returns 0. Subsequent attempts
// grow exponentially up to MaxDelay. With jitter disabled the sequence is
// non-decreasing; with jitter enabled each delay is perturbed by at most
// ±JitterFactor of its nominal value and never exceeds MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	nominal := float64(p.initialDelay)
	for i := 1; i < attempt; i++ {
		nominal *= p.multiplier
		if nominal >= float64(p.maxDelay) {
			nominal = float64(p.maxDelay)
			break
		}
	}

	delay := time.Duration(nominal)
	if p.jitterFactor > 0 {
		span := nominal * p.jitterFactor
		var offset float64
		if p.rng != nil {
			offset = (p.rng.Float64()*2 - 1) * span
		} else {
			offset = (rand.Float64()*2 - 1) * span //nolint:gosec // non-crypto backoff jitter
		}
		delay = time.Duration(nominal + offset)
	}

	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	if delay < 0 {
		delay = 0
	}

	return delay
}
