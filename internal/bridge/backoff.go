package bridge

import "time"

// Backoff yields min(Max, Base * 2^attempt), advancing attempt on each Next.
// It is not safe for concurrent use.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff returns the reconnect schedule: 1s doubling up to 30s.
func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := b.Max
	// Past 2^30 the shift would overflow; the cap applies long before.
	if b.attempt < 30 {
		if scaled := b.Base << b.attempt; scaled < b.Max {
			d = scaled
		}
	}
	b.attempt++
	return d
}

// Reset returns to the base delay.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }
