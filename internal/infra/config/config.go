package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Log       LogSettings       `mapstructure:"log"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Session   SessionSettings   `mapstructure:"session"`
	Recaptcha RecaptchaSettings `mapstructure:"recaptcha"`
	Password  PasswordSettings  `mapstructure:"password"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	Reset     ResetSettings     `mapstructure:"reset"`
	SMTP      SMTPSettings      `mapstructure:"smtp"`
	Throttle  ThrottleSettings  `mapstructure:"throttle"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection used for attempt throttling.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the audit event producer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SessionSettings configures the HS256 session tokens issued on login.
type SessionSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// RecaptchaSettings configures the bot mitigation gateway.
type RecaptchaSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	SiteKey        string        `mapstructure:"site_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	ScoreThreshold float64       `mapstructure:"score_threshold"`
	VerifyURL      string        `mapstructure:"verify_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PasswordSettings configures the password policy engine.
type PasswordSettings struct {
	MinLength        int `mapstructure:"min_length"`
	MaxAgeDays       int `mapstructure:"max_age_days"`
	HistoryLimit     int `mapstructure:"history_limit"`
	MinStrengthScore int `mapstructure:"min_strength_score"`
}

// LockoutSettings configures the account lockout state machine.
type LockoutSettings struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	LockDuration time.Duration `mapstructure:"lock_duration"`
}

// ResetSettings configures password reset link issuance.
type ResetSettings struct {
	BaseURL         string `mapstructure:"base_url"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// SMTPSettings configures reset mail delivery. An empty host switches the
// deliverer to the console fallback.
type SMTPSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ThrottleSettings configures fixed-window request throttling.
type ThrottleSettings struct {
	LoginLimit     int           `mapstructure:"login_limit"`
	ResetLimit     int           `mapstructure:"reset_limit"`
	WindowDuration time.Duration `mapstructure:"window_duration"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("FORUM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.shutdown_timeout",
		"log.level",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"session.secret",
		"session.ttl",
		"recaptcha.enabled",
		"recaptcha.site_key",
		"recaptcha.secret_key",
		"recaptcha.score_threshold",
		"recaptcha.verify_url",
		"recaptcha.timeout",
		"password.min_length",
		"password.max_age_days",
		"password.history_limit",
		"password.min_strength_score",
		"lockout.max_attempts",
		"lockout.lock_duration",
		"reset.base_url",
		"reset.token_ttl_minutes",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from",
		"throttle.login_limit",
		"throttle.reset_limit",
		"throttle.window_duration",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// TokenTTL converts the configured reset token minutes to a duration.
func (s ResetSettings) TokenTTL() time.Duration {
	if s.TokenTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.TokenTTLMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auth-gateway")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "forum")
	v.SetDefault("postgres.password", "forum_password")
	v.SetDefault("postgres.database", "forum")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "forum:throttle")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "forum")
	v.SetDefault("kafka.async", true)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", "12h")

	v.SetDefault("recaptcha.enabled", false)
	v.SetDefault("recaptcha.site_key", "")
	v.SetDefault("recaptcha.secret_key", "")
	v.SetDefault("recaptcha.score_threshold", 0.5)
	v.SetDefault("recaptcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("recaptcha.timeout", "5s")

	v.SetDefault("password.min_length", 13)
	v.SetDefault("password.max_age_days", 184)
	v.SetDefault("password.history_limit", 2)
	v.SetDefault("password.min_strength_score", 0)

	v.SetDefault("lockout.max_attempts", 5)
	v.SetDefault("lockout.lock_duration", "15m")

	v.SetDefault("reset.base_url", "http://localhost:3000")
	v.SetDefault("reset.token_ttl_minutes", 30)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@localhost")

	v.SetDefault("throttle.login_limit", 20)
	v.SetDefault("throttle.reset_limit", 5)
	v.SetDefault("throttle.window_duration", "15m")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "FORUM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
