package taskpoll

import (
	"math"
	"time"
)

const defaultRetryDelay = time.Second

// RetryPolicy decides how long to wait before each retry of a pending job.
//
// The number of retries is always the poll's retry budget; a policy only
// shapes the waits between checks. retry is 1-based: Delay(1) is the wait
// between the first and second status request.
type RetryPolicy interface {
	Delay(retry int) time.Duration
}

// RetryPolicyFunc adapts a plain function to [RetryPolicy].
type RetryPolicyFunc func(retry int) time.Duration

// Delay calls f(retry).
func (f RetryPolicyFunc) Delay(retry int) time.Duration {
	return f(retry)
}

type fixedDelay time.Duration

func (d fixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

// FixedDelay waits d before every retry. This is the default policy, with d
// of one second. A non-positive d retries immediately.
func FixedDelay(d time.Duration) RetryPolicy {
	if d < 0 {
		d = 0
	}
	return fixedDelay(d)
}

type exponentialBackoff struct {
	base   time.Duration
	max    time.Duration
	factor float64
}

// ExponentialBackoff waits base before the first retry and multiplies the
// wait by factor for each following one, never exceeding maxDelay.
//
// A factor below 1 is treated as 1. A maxDelay below base is raised to base.
//
// Example:
//
//	// 1s, 2s, 4s, 8s, 10s, 10s, ...
//	taskpoll.ExponentialBackoff(time.Second, 10*time.Second, 2)
func ExponentialBackoff(base, maxDelay time.Duration, factor float64) RetryPolicy {
	if base < 0 {
		base = 0
	}
	if maxDelay < base {
		maxDelay = base
	}
	if factor < 1 || math.IsNaN(factor) {
		factor = 1
	}
	return exponentialBackoff{base: base, max: maxDelay, factor: factor}
}

func (b exponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(b.base) * math.Pow(b.factor, float64(retry-1))
	if d >= float64(b.max) || math.IsInf(d, 0) {
		return b.max
	}
	return time.Duration(d)
}

// delayFunc guards against a policy returning negative waits.
func delayFunc(p RetryPolicy) func(int) time.Duration {
	return func(retry int) time.Duration {
		d := p.Delay(retry)
		if d < 0 {
			return 0
		}
		return d
	}
}
