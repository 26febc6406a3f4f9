package actor

import "time"

// Backoff computes reconnect delays on the fixed doubling schedule
// min(base * 2^min(attempt, capExponent), max).
type Backoff struct {
	Base        time.Duration
	CapExponent int
	Max         time.Duration
}

// DefaultBackoff matches the production schedule: 2s, 4s, 8s, 16s, 30s, 30s, ...
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        1 * time.Second,
		CapExponent: 5,
		Max:         30 * time.Second,
	}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt
	if exp > b.CapExponent {
		exp = b.CapExponent
	}
	d := b.Base << uint(exp)
	if d > b.Max {
		d = b.Max
	}
	return d
}
