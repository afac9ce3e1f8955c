package handlers

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics exposes Prometheus collectors for the authentication
// gateway decision points.
type GatewayMetrics struct {
	LoginAttempts   *prometheus.CounterVec
	AccountLockouts prometheus.Counter
	BotBlocks       *prometheus.CounterVec
	ResetRequests   prometheus.Counter
}

// NewGatewayMetrics constructs and registers the gateway collectors.
func NewGatewayMetrics(reg prometheus.Registerer) (*GatewayMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	loginAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forum_auth",
		Subsystem: "gateway",
		Name:      "login_attempts_total",
		Help:      "Total intercepted login attempts partitioned by outcome.",
	}, []string{"outcome"})

	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "forum_auth",
		Subsystem: "gateway",
		Name:      "account_lockouts_total",
		Help:      "Total account lockouts triggered by failed login attempts.",
	})

	botBlocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forum_auth",
		Subsystem: "gateway",
		Name:      "bot_blocks_total",
		Help:      "Total requests blocked by bot verification partitioned by operation.",
	}, []string{"operation"})

	resetRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "forum_auth",
		Subsystem: "gateway",
		Name:      "password_reset_requests_total",
		Help:      "Total password reset requests accepted by the gateway.",
	})

	for _, collector := range []prometheus.Collector{loginAttempts, lockouts, botBlocks, resetRequests} {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, fmt.Errorf("register gateway collector: %w", err)
			}
		}
	}

	return &GatewayMetrics{
		LoginAttempts:   loginAttempts,
		AccountLockouts: lockouts,
		BotBlocks:       botBlocks,
		ResetRequests:   resetRequests,
	}, nil
}
