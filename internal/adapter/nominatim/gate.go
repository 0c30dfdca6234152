package nominatim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// RateGate spaces outbound requests at least interval apart across every
// caller sharing it. Each Wait consumes a slot whether or not the request
// that follows succeeds.
type RateGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	clock   clockwork.Clock
}

// NewRateGate creates a gate. interval <= 0 disables spacing.
func NewRateGate(interval time.Duration, clock clockwork.Clock) *RateGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateGate{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
	}
}

// Wait blocks until the caller may send the next request and returns how
// long it waited. Callers queue behind the gate one at a time. On context
// cancellation the slot is returned and ctx.Err() is reported.
func (g *RateGate) Wait(ctx context.Context) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0, errors.New("rate gate: reservation exceeds burst")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}

	timer := g.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return delay, nil
	case <-ctx.Done():
		r.CancelAt(g.clock.Now())
		return 0, ctx.Err()
	}
}
