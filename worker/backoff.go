package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond

	// unbounded stands in for "no ceiling" while keeping interval math
	// clear of int64 overflow.
	unbounded = time.Duration(1 << 62)
)

// Backoff doubles the wait after every failed attempt starting at Initial.
// Max of zero leaves the growth uncapped. Jitter is a randomization factor
// in [0, 1): each wait is drawn from delay*(1±Jitter).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialBackoff}
}

func (b Backoff) policy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = DefaultInitialBackoff
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = min(max(b.Jitter, 0), 0.99)
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = unbounded
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}
