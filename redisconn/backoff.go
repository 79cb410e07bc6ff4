package redisconn

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackoff realizes the section 4.1 backoff law: the first
// delay is BackoffInitial, every subsequent delay is
// previous * 1.5, clamped to BackoffMax unless it is InfiniteBackoff.
// cenkalti/backoff's ExponentialBackOff already defaults its
// Multiplier to 1.5 and is configured here with no randomization. The
// product is kept at nanosecond precision and is not rounded to whole
// milliseconds (225ms is followed by 337.5ms, not 338ms).
type reconnectBackoff struct {
	b *backoff.ExponentialBackOff
}

func newReconnectBackoff(initial, max time.Duration) *reconnectBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 1.5
	if max == InfiniteBackoff {
		// incrementCurrentInterval clamps currentInterval to MaxInterval
		// once currentInterval >= MaxInterval/Multiplier, so a MaxInterval
		// of 0 would clamp every delay after the first to 0. Use the
		// largest representable Duration as the "no ceiling" sentinel
		// instead.
		b.MaxInterval = time.Duration(math.MaxInt64)
		b.MaxElapsedTime = 0
	} else {
		b.MaxInterval = max
		b.MaxElapsedTime = 0 // never give up reconnecting
	}
	b.Reset()
	return &reconnectBackoff{b: b}
}

// next returns the next reconnect delay: BackoffInitial on the first
// call after construction or reset, then the grown delay.
func (r *reconnectBackoff) next() time.Duration {
	d := r.b.NextBackOff()
	if d == backoff.Stop {
		return r.b.MaxInterval
	}
	return d
}

// reset clears the sequence back to BackoffInitial, called on every
// successful connected transition per section 4.1.
func (r *reconnectBackoff) reset() {
	r.b.Reset()
}
