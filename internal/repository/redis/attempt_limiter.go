package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/forumkit/auth-gateway/internal/core/port"
)

// AttemptLimiter counts attempts per key inside a fixed window using a Redis
// counter with a TTL. INCR and the initial EXPIRE run in a pipeline, so the
// increment itself is atomic across concurrent callers.
type AttemptLimiter struct {
	client    *goredis.Client
	keyPrefix string
}

// NewAttemptLimiter constructs a Redis-backed attempt limiter.
func NewAttemptLimiter(client *goredis.Client, keyPrefix string) *AttemptLimiter {
	if keyPrefix == "" {
		keyPrefix = "forum:throttle"
	}
	return &AttemptLimiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Hit records one attempt for key and returns the count observed inside the
// current window.
func (l *AttemptLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}

	redisKey := fmt.Sprintf("%s:%s", l.keyPrefix, key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}

	return incr.Val(), nil
}

var _ port.AttemptLimiter = (*AttemptLimiter)(nil)
