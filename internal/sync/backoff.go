package sync

import "time"

// Backoff computes capped exponential reconnect delays. Zero value is not
// usable; construct with NewBackoff.
type Backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func NewBackoff(base, cap time.Duration) *Backoff {
	return &Backoff{base: base, cap: cap}
}

// Next returns the delay for the current attempt and increments the
// counter: base, 2*base, 4*base, ... capped.
func (b *Backoff) Next() time.Duration {
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

// Reset zeroes the attempt counter. Called after every successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of consecutive failures so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}
