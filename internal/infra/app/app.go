package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
	"github.com/forumkit/auth-gateway/internal/infra/database"
	"github.com/forumkit/auth-gateway/internal/infra/kafka"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
	"github.com/forumkit/auth-gateway/internal/infra/mail"
	"github.com/forumkit/auth-gateway/internal/infra/recaptcha"
	redisinfra "github.com/forumkit/auth-gateway/internal/infra/redis"
	"github.com/forumkit/auth-gateway/internal/infra/security"
	postgresrepo "github.com/forumkit/auth-gateway/internal/repository/postgres"
	redisrepo "github.com/forumkit/auth-gateway/internal/repository/redis"
	"github.com/forumkit/auth-gateway/internal/transport/http/routes"
	"github.com/forumkit/auth-gateway/internal/usecase"
)

// Application owns the wired service graph and the HTTP server lifecycle.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafka.Producer
}

// New builds the full application graph from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.Log.Level, cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	sessions, err := security.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init session manager: %w", err)
	}

	records := postgresrepo.NewSecurityRecordRepository(pool)
	resetTokens := postgresrepo.NewResetTokenRepository(pool)
	limiter := redisrepo.NewAttemptLimiter(redisClient.Client(), cfg.Redis.KeyPrefix)

	var producer *kafka.Producer
	var events port.EventPublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("Kafka unavailable, falling back to stub event publisher", zap.Error(err))
			events = kafka.NewStubPublisher(log)
		} else {
			producer = p
			events = kafka.NewEventPublisher(p, cfg.App, log)
		}
	} else {
		events = kafka.NewStubPublisher(log)
	}

	policy := security.NewPasswordPolicy(
		security.WithMinLength(cfg.Password.MinLength),
		security.WithMaxAgeDays(cfg.Password.MaxAgeDays),
		security.WithHistoryLimit(cfg.Password.HistoryLimit),
		security.WithMinStrengthScore(cfg.Password.MinStrengthScore),
	)
	lockout := domain.LockoutPolicy{
		MaxAttempts:  cfg.Lockout.MaxAttempts,
		LockDuration: cfg.Lockout.LockDuration,
	}

	verifier := recaptcha.NewVerifier(cfg.Recaptcha, log)
	mailer := mail.NewResetMailer(cfg.SMTP, cfg.Reset, log)

	credentials := usecase.NewCredentialService(records, sessions, log)
	guard := usecase.NewAuthGuard(records, verifier, events, policy, lockout, log)
	resets := usecase.NewPasswordResetService(
		records,
		resetTokens,
		mailer,
		limiter,
		events,
		policy,
		cfg.Throttle,
		cfg.Reset.TokenTTL(),
		log,
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	if err := routes.Register(engine, routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Pool:        pool,
		Cache:       redisClient,
		Limiter:     limiter,
		Sessions:    sessions,
		Guard:       guard,
		Credentials: credentials,
		Resets:      resets,
	}); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("register routes: %w", err)
	}

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth gateway",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("auth gateway stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// Close releases connection pools and the event producer.
func (a *Application) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
