package datasource

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	minInterval = 50 * time.Millisecond
	maxInterval = 2 * time.Second
)

// AdaptiveLimiter paces requests to one provider with a token bucket
// whose refill interval adapts to observed behavior: sustained success
// shortens it, a rate-limit response lengthens it.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	window    *rate.Limiter
	pacer     *rate.Limiter
	interval  time.Duration
	successes int
}

// NewAdaptiveLimiter allows at most maxPerMinute requests in any
// rolling minute and at least initialInterval between requests.
func NewAdaptiveLimiter(maxPerMinute int, initialInterval time.Duration) *AdaptiveLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = 10
	}
	if initialInterval < minInterval {
		initialInterval = minInterval
	}
	return &AdaptiveLimiter{
		window:   rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute),
		pacer:    rate.NewLimiter(rate.Every(initialInterval), 1),
		interval: initialInterval,
	}
}

// Wait blocks until both the rolling window and the pacing interval
// admit the next request, or the context is canceled.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	if err := l.window.Wait(ctx); err != nil {
		return err
	}
	return l.pacer.Wait(ctx)
}

// RecordSuccess speeds up the pacer 5% after every 10 straight
// successes, down to the floor.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes++
	if l.successes < 10 {
		return
	}
	l.successes = 0
	next := time.Duration(float64(l.interval) * 0.95)
	if next < minInterval {
		next = minInterval
	}
	l.setInterval(next)
}

// RecordRateLimit slows the pacer by half again, up to the cap.
func (l *AdaptiveLimiter) RecordRateLimit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes = 0
	next := time.Duration(float64(l.interval) * 1.5)
	if next > maxInterval {
		next = maxInterval
	}
	l.setInterval(next)
}

// Interval reports the current pacing interval.
func (l *AdaptiveLimiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *AdaptiveLimiter) setInterval(d time.Duration) {
	l.interval = d
	l.pacer.SetLimit(rate.Every(d))
}
