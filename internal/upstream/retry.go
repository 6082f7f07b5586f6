package upstream

import (
	"math/rand"
	"time"
)

// RetryPolicy centralizes the attempts/backoff/jitter parameters that
// were scattered per-endpoint in the source; C4 is the single place
// retry behavior is configured.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryPolicy matches the spec's default R=3, base B, multiplier
// 2x, full jitter up to B.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// Backoff computes the delay before the given attempt (1-indexed retry
// count), full jitter: a uniform random delay in [0, min(base*mult^(n-1), max)].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	mult := 1.0
	for i := 1; i < attempt; i++ {
		mult *= p.BackoffMultiplier
	}
	d := time.Duration(float64(p.BackoffBase) * mult)
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// transientError marks an error as retryable (network failure, 429,
// any 5xx). A fatalError (any other non-200 status) is never retried.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func newTransient(err error) error { return &transientError{err: err} }
func newFatal(err error) error     { return &fatalError{err: err} }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}
