// Package ratelimit provides per-channel rate limiting and retry backoff
// for outbound calls to sales channel APIs.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkesani1/stockclerk-sub002/internal/domain"
)

// Limiter bounds the request rate and concurrency for one channel, per the
// vendor limits in domain.ChannelKind.RateLimit (spec.md §4.6).
type Limiter struct {
	tokens *rate.Limiter
	sem    chan struct{}
}

// New creates a Limiter sized for the given channel kind.
func New(kind domain.ChannelKind) *Limiter {
	rpm, maxConcurrent := kind.RateLimit()
	return &Limiter{
		tokens: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Wait blocks until both a token and a concurrency slot are available,
// then returns a release function the caller must invoke when done.
func (l *Limiter) Wait(ctx context.Context) (func(), error) {
	if err := l.tokens.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-l.sem
	}, nil
}

// BackoffPolicy configures exponential backoff with full jitter for
// retrying failed channel calls.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoff mirrors spec.md's default sync retry policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		MaxRetries: 3,
	}
}

// Delay returns the backoff duration for the given attempt (0-indexed),
// using full jitter: a uniformly random duration between 0 and the
// exponential cap.
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	ceiling := float64(b.BaseDelay) * float64(uint64(1)<<uint(attempt))
	if ceiling > float64(b.MaxDelay) || ceiling <= 0 {
		ceiling = float64(b.MaxDelay)
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// Retry runs fn up to b.MaxRetries+1 times, sleeping with full-jitter
// backoff between attempts, stopping early on success or context
// cancellation.
func (b BackoffPolicy) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", b.MaxRetries, lastErr)
}
