package notify

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttled rate-limits NewResultAdded events before handing them on.
// Lifecycle events always pass.
type Throttled struct {
	next    Publisher
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewThrottled wraps next. A non-positive perSec disables throttling.
func NewThrottled(next Publisher, perSec float64, burst int) *Throttled {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Publish(ctx context.Context, e Event) {
	if e.Kind == KindNewResultAdded && !t.limiter.Allow() {
		t.dropped.Add(1)
		eventsDropped.WithLabelValues("throttled").Inc()
		return
	}
	t.next.Publish(ctx, e)
}

// Dropped returns how many result events were throttled away.
func (t *Throttled) Dropped() int64 {
	return t.dropped.Load()
}
