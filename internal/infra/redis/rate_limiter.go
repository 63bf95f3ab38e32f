package redis

import (
	"context"
	"fmt"
	"time"
)

type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow implements a fixed-window counter per key. The first hit in a window
// sets the expiry; hits beyond limit are rejected until the window rolls.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// SourceLimiter namespaces the limiter per webhook source identity.
type SourceLimiter struct {
	RL *RateLimiter
}

func (s SourceLimiter) Allow(ctx context.Context, source string, limit int, window time.Duration) (bool, error) {
	return s.RL.Allow(ctx, SourceKey(source), limit, window)
}

func SourceKey(source string) string {
	return fmt.Sprintf("buildforge:rate_limit:%s", source)
}
