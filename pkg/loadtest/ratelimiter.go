package loadtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces the sends on a single connection toward a target rate
// until a deadline. Every connection owns its own RateLimiter.
type RateLimiter interface {
	// Continue reports whether another frame may be sent. It returns false
	// once the deadline has passed or ctx is done, in which case the send loop
	// must terminate without sending.
	Continue(ctx context.Context) bool

	// Pause is called after every successful send and suspends the caller
	// until the next send is due. It returns early if ctx is done.
	Pause(ctx context.Context)
}

// LimiterFactory creates the RateLimiter of one connection whose sending
// window closes at deadline.
type LimiterFactory func(deadline time.Time) RateLimiter

// NewLimiterFactory validates the pacing mode up front and returns a factory
// for it. A rate of 0 means "as fast as possible".
func NewLimiterFactory(pacing string, perConnRate float64) (LimiterFactory, error) {
	switch pacing {
	case PacingSleep, "":
		interval := rateInterval(perConnRate)
		return func(deadline time.Time) RateLimiter {
			return &sleepLimiter{interval: interval, deadline: deadline}
		}, nil
	case PacingTokenBucket:
		limit := rate.Inf
		if perConnRate > 0 {
			limit = rate.Limit(perConnRate)
		}
		return func(deadline time.Time) RateLimiter {
			return &tokenBucketLimiter{limiter: rate.NewLimiter(limit, 1), deadline: deadline}
		}, nil
	}
	return nil, fmt.Errorf("unsupported pacing mode: %s", pacing)
}

// NewRateLimiter builds a single limiter for the given pacing mode.
func NewRateLimiter(pacing string, perConnRate float64, deadline time.Time) (RateLimiter, error) {
	factory, err := NewLimiterFactory(pacing, perConnRate)
	if err != nil {
		return nil, err
	}
	return factory(deadline), nil
}

// rateInterval is 1/r as a duration, or 0 for an unlimited rate. Rates so
// small that 1/r does not fit in a time.Duration get the longest interval
// there is.
func rateInterval(r float64) time.Duration {
	if r <= 0 {
		return 0
	}
	interval := float64(time.Second) / r
	if interval >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(interval)
}

// sleepLimiter sleeps a fixed interval after each send. It does not correct
// for the time spent in the send itself, so the achieved rate trends slightly
// below target.
type sleepLimiter struct {
	interval time.Duration
	deadline time.Time
}

func (l *sleepLimiter) Continue(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return time.Now().Before(l.deadline)
}

// Pause never outlasts the deadline: there is nothing left to send after it.
func (l *sleepLimiter) Pause(ctx context.Context) {
	if l.interval <= 0 {
		return
	}
	wait := l.interval
	if remaining := time.Until(l.deadline); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// tokenBucketLimiter waits for a token before each send, which absorbs the
// drift a fixed sleep accumulates.
type tokenBucketLimiter struct {
	limiter  *rate.Limiter
	deadline time.Time
}

func (l *tokenBucketLimiter) Continue(ctx context.Context) bool {
	if ctx.Err() != nil || !time.Now().Before(l.deadline) {
		return false
	}
	waitCtx, cancel := context.WithDeadline(ctx, l.deadline)
	defer cancel()
	// Wait fails fast when the next token would only arrive after the
	// deadline.
	return l.limiter.Wait(waitCtx) == nil
}

func (l *tokenBucketLimiter) Pause(ctx context.Context) {}
