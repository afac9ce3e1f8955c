package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
	"github.com/forumkit/auth-gateway/internal/transport/http/handlers"
	"github.com/forumkit/auth-gateway/internal/transport/http/middleware"
	"github.com/forumkit/auth-gateway/internal/usecase"
)

// Dependencies aggregates everything the HTTP surface needs.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Pool        *pgxpool.Pool
	Cache       handlers.Pinger
	Limiter     port.AttemptLimiter
	Sessions    port.SessionTokens
	Guard       *usecase.AuthGuard
	Credentials *usecase.CredentialService
	Resets      *usecase.PasswordResetService
}

// Register mounts all routes and the shared middleware chain.
func Register(router *gin.Engine, deps Dependencies) error {
	if deps.Config == nil {
		return fmt.Errorf("routes: config is required")
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router.Use(gin.Recovery())
	router.Use(middleware.EnrichContext())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	router.Use(httpMetrics.Handler())

	gatewayMetrics, err := handlers.NewGatewayMetrics(nil)
	if err != nil {
		return fmt.Errorf("init gateway metrics: %w", err)
	}

	health := handlers.NewHealthHandler(deps.Pool, deps.Cache)
	router.GET("/healthz", health.Status)
	router.GET("/readyz", health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gateway := handlers.NewAuthGatewayHandler(
		deps.Guard,
		deps.Credentials,
		deps.Resets,
		gatewayMetrics,
		log,
	)

	api := router.Group("/api")

	// The frontend needs the site key to render the captcha widget.
	recaptchaCfg := deps.Config.Recaptcha
	api.GET("/auth/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"recaptchaEnabled": recaptchaCfg.Enabled,
			"recaptchaSiteKey": recaptchaCfg.SiteKey,
		})
	})

	throttle := middleware.Throttle(deps.Limiter, middleware.ThrottleOptions{
		Scope:  "graphql",
		Limit:  deps.Config.Throttle.LoginLimit,
		Window: deps.Config.Throttle.WindowDuration,
	}, log)

	api.POST("/graphql", throttle, middleware.Session(deps.Sessions), gateway.Execute)

	return nil
}
