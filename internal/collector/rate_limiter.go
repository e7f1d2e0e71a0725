package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultBudget is the hourly GraphQL point budget
const defaultBudget = 5000

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time, err error)
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	threshold int
	lastCall  time.Time
}

// NewRateLimiter creates a new rate limiter that spaces calls by minDelay
func NewRateLimiter(minDelay time.Duration) RateLimiter {
	return &githubRateLimiter{
		remaining: defaultBudget,
		resetTime: time.Now().Add(time.Hour),
		minDelay:  minDelay,
		threshold: 10,
	}
}

// Wait waits until it's safe to make another API call. Each caller
// reserves its slot under the lock, so concurrent callers are spaced by
// minDelay rather than released together.
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	next := now
	if r.remaining <= r.threshold {
		if r.resetTime.After(now) {
			next = r.resetTime
			slog.Info("rate limit low, waiting for reset", "remaining", r.remaining, "wait", r.resetTime.Sub(now).Round(time.Second))
		}
		r.remaining = defaultBudget
		r.resetTime = next.Add(time.Hour)
	}
	if slot := r.lastCall.Add(r.minDelay); slot.After(next) {
		next = slot
	}
	r.lastCall = next
	r.remaining--
	r.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit() (remaining int, resetTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime, nil
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
