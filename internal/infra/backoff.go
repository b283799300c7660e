package infra

import (
	"math"
	"time"
)

// Backoff produces exponentially growing reconnect delays: Min, 2*Min, 4*Min...
// capped at Max. It is not safe for concurrent use.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	attempt int
}

// NewBackoff returns a backoff; non-positive bounds fall back to 1s and 60s.
func NewBackoff(lo, hi time.Duration) *Backoff {
	if lo <= 0 {
		lo = time.Second
	}
	if hi < lo {
		hi = 60 * time.Second
		if hi < lo {
			hi = lo
		}
	}
	return &Backoff{Min: lo, Max: hi}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	// overflow shows up as a non-positive delay
	exp := math.Pow(2, float64(b.attempt))
	delay := time.Duration(float64(b.Min) * exp)
	if delay <= 0 || delay > b.Max {
		delay = b.Max
	} else {
		b.attempt++
	}
	return delay
}

// Attempt reports how many delays have grown since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}
