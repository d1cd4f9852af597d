package ingestion_engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Throttler paces a sequence of rate-limited external calls.
type Throttler interface {
	Throttle(ctx context.Context) error
}

// RateLimiter spaces throttled units at least 60/N seconds apart, shared by every caller in the process.
// A nil limiter (N <= 0) never waits.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	log      *slog.Logger
}

// NewRateLimiter allows perMinute units per minute; perMinute <= 0 disables throttling.
func NewRateLimiter(perMinute int, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	if perMinute <= 0 {
		return &RateLimiter{log: log}
	}
	interval := time.Minute / time.Duration(perMinute)
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		log:      log,
	}
}

// Throttle blocks until the next unit may start or ctx is done.
func (r *RateLimiter) Throttle(ctx context.Context) error {
	if r == nil || r.limiter == nil {
		return nil
	}
	res := r.limiter.Reserve()
	if !res.OK() {
		return r.limiter.Wait(ctx)
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}
	r.log.Info("rate limiting: waiting before next batch", "wait", delay.Round(100*time.Millisecond))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// Interval is the minimum spacing between units, zero when disabled.
func (r *RateLimiter) Interval() time.Duration {
	if r == nil {
		return 0
	}
	return r.interval
}
