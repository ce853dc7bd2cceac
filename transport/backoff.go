package transport

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Backoff is the minimal surface runOutbound needs: return the next
// delay, or a negative duration (backoff.Stop) to give up retrying for
// good.
type Backoff interface {
	NextBackOff() time.Duration
	Reset()
}

// NewBackoff builds a bounded exponential reconnect policy: backs off
// from min towards max and holds at max, until ceiling consecutive
// attempts have been made without a successful Reset, at which point
// NextBackOff starts returning backoff.Stop for good. A ceiling of 0
// means retry forever.
func NewBackoff(min, max time.Duration, ceiling int) Backoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // elapsed-time limit is not how this policy gives up
	b.Reset()
	return &capped{b: b, max: max, ceiling: ceiling}
}

// capped adapts backoff.ExponentialBackOff, which can return
// backoff.Stop once MaxElapsedTime elapses, into a Backoff that instead
// clamps at max and gives up for good after ceiling attempts.
type capped struct {
	b        *backoff.ExponentialBackOff
	max      time.Duration
	ceiling  int
	attempts int
}

func (c *capped) NextBackOff() time.Duration {
	if c.ceiling > 0 && c.attempts >= c.ceiling {
		return backoff.Stop
	}
	c.attempts++
	d := c.b.NextBackOff()
	if d == backoff.Stop || d > c.max {
		return c.max
	}
	return d
}

func (c *capped) Reset() {
	c.attempts = 0
	c.b.Reset()
}
