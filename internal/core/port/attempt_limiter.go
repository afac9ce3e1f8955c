package port

import (
	"context"
	"time"
)

// AttemptLimiter counts attempts per key inside a fixed window.
type AttemptLimiter interface {
	// Hit records one attempt for key and returns the count observed inside
	// the current window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}
