package session

import "time"

// Backoff defaults.
const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 60 * time.Second
	defaultStableAfter = 30 * time.Second
)

// backoff computes reconnect delays: the base delay doubles on each failed
// attempt up to the cap, and resets after a connection that survives the
// stability threshold.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func newBackoff(base, cap time.Duration) *backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if cap < base {
		cap = base
	}
	return &backoff{base: base, cap: cap}
}

// next returns the delay before the upcoming attempt and advances the
// counter. The returned delay is non-decreasing across consecutive calls
// and never exceeds the cap.
func (b *backoff) next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.cap {
			d = b.cap
			break
		}
	}
	b.attempt++
	return d
}

// attempts returns how many failed attempts have been made since the last
// reset.
func (b *backoff) attempts() int {
	return b.attempt
}

// reset returns the schedule to the base delay.
func (b *backoff) reset() {
	b.attempt = 0
}
