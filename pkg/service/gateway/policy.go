package gateway

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how many times and how far apart a downstream call is tried
type RetryPolicy struct {
	// MaxAttempts includes the first call. Values below 1 are treated as 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	// Multiplier grows the delay between attempts. 1 keeps a fixed step.
	Multiplier float64
	MaxBackoff time.Duration
	// Retryable decides which 5xx statuses are retried. Nil retries all of them.
	// A 4xx other than 401 is never retried.
	Retryable func(status int) bool
}

// RetryServerErrors is the default Retryable predicate
func RetryServerErrors(status int) bool {
	return status >= http.StatusInternalServerError
}

func (p RetryPolicy) retryable(status int) bool {
	if status < http.StatusInternalServerError {
		return false
	}
	if p.Retryable == nil {
		return RetryServerErrors(status)
	}
	return p.Retryable(status)
}

// DefaultRetryPolicy tries three times with a growing delay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
		Retryable:      RetryServerErrors,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

// Delays lists the wait before each retry, mostly for logs and tests
func (p RetryPolicy) Delays() []time.Duration {
	b := p.newBackOff()
	var out []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}
