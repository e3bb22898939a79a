package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Counter is the slice of the cache manager the limiter needs.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitStage counts requests per client identity in fixed windows backed
// by the cache manager. Fixed-window counting is an accepted tradeoff: a
// client can burst up to twice the limit across a window boundary, in
// exchange for O(1) state per client per window.
type RateLimitStage struct {
	cache  Counter
	window time.Duration
	max    int
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitStage builds the limiter for max requests per window.
func NewRateLimitStage(c Counter, window time.Duration, max int, logger *slog.Logger) *RateLimitStage {
	return &RateLimitStage{
		cache:  c,
		window: window,
		max:    max,
		logger: logger,
		now:    time.Now,
	}
}

func (s *RateLimitStage) Name() string { return "ratelimit" }

func (s *RateLimitStage) Process(ctx context.Context, ex *Exchange) (*Result, error) {
	now := s.now()
	windowID := now.Unix() / int64(s.window/time.Second)
	key := fmt.Sprintf("rate:%s:%d", ex.ClientID, windowID)

	count, err := s.cache.Increment(ctx, key, s.window)
	if err != nil {
		// Both cache tiers failed, which the local tier should prevent.
		// Fail open: blocking all traffic on a cache outage is worse than
		// briefly not throttling.
		s.logger.Error("rate limiter cache unavailable, failing open",
			slog.String("client", ex.ClientID),
			slog.String("error", err.Error()))
		return Allow(), nil
	}

	windowEnd := time.Unix((windowID+1)*int64(s.window/time.Second), 0)
	remaining := int64(s.max) - count
	if remaining < 0 {
		remaining = 0
	}

	header := make(http.Header)
	header.Set("X-RateLimit-Limit", strconv.Itoa(s.max))
	header.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if count > int64(s.max) {
		retryAfter := int(windowEnd.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		header.Set("Retry-After", strconv.Itoa(retryAfter))
		res := Deny(http.StatusTooManyRequests, OutcomeRateLimited, "rate limit exceeded")
		res.Header = header
		return res, nil
	}

	res := Allow()
	res.Header = header
	return res, nil
}
