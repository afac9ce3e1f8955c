package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/port"
	appLogger "github.com/forumkit/auth-gateway/internal/infra/logger"
)

// ProblemDetails is an RFC 9457 style error body used for throttled requests.
type ProblemDetails struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// ThrottleOptions configures the per-IP fixed-window throttle.
type ThrottleOptions struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Throttle limits requests per client IP inside a fixed window. Limiter
// outages fail open: the request proceeds and the outage is logged.
func Throttle(limiter port.AttemptLimiter, opts ThrottleOptions, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	if limiter == nil || opts.Limit <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", opts.Scope, c.ClientIP())

		count, err := limiter.Hit(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("throttle check failed",
				zap.String("scope", opts.Scope),
				zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if count > int64(opts.Limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
				Type:    "about:blank",
				Title:   "Too Many Requests",
				Status:  http.StatusTooManyRequests,
				Detail:  "Request rate limit exceeded. Try again later.",
				TraceID: GetTraceID(c),
			})
			return
		}

		c.Next()
	}
}
