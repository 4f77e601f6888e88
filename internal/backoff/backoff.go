// Package backoff computes reconnection delays for the realtime transport.
package backoff

import "time"

// Policy is a capped exponential backoff schedule. The delay for attempt n
// is Base * 2^min(n, CapExponent), clamped to Max.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	CapExponent int
}

// Default returns the standard reconnect schedule: 1s base doubling up to
// 2^5, clamped at 30s.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Max:         30 * time.Second,
		CapExponent: 5,
	}
}

// Delay returns the wait before the given zero-based reconnect attempt.
// Negative attempts are treated as zero. The schedule is non-decreasing.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if exp > p.CapExponent {
		exp = p.CapExponent
	}
	d := p.Base << uint(exp)
	if d > p.Max {
		return p.Max
	}
	return d
}
