package feed

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// backoff computes reconnect delays: the base doubles per attempt up to the
// ceiling. Jitter is added separately so the raw schedule stays a
// deterministic, non-decreasing sequence.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func newBackoff(base, max time.Duration) backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	return backoff{base: base, max: max}
}

// delay returns the raw delay for the given zero-based attempt.
func (b backoff) delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}

// jittered adds up to 25% random jitter on top of the raw delay so a fleet
// of clients does not reconnect in lockstep.
func (b backoff) jittered(attempt int) time.Duration {
	d := b.delay(attempt)
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
