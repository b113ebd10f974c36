package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle lets one event through per interval and drops the rest.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a throttle allowing one event per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether an event may go out now.
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}
