package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
)

// Delivery channel labels reported to the audit trail.
const (
	DeliverySMTP    = "smtp"
	DeliveryConsole = "console"
)

// ResetMailer delivers password reset links over SMTP. When no SMTP host is
// configured it logs the link instead, which keeps local development working
// without a mail server.
type ResetMailer struct {
	smtp   config.SMTPSettings
	reset  config.ResetSettings
	logger *zap.Logger
	send   func(m *gomail.Message) error
}

// NewResetMailer constructs a deliverer from SMTP and reset link settings.
func NewResetMailer(smtp config.SMTPSettings, reset config.ResetSettings, log *zap.Logger) *ResetMailer {
	if log == nil {
		log = zap.NewNop()
	}

	dialer := gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password)

	return &ResetMailer{
		smtp:   smtp,
		reset:  reset,
		logger: log,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// WithSender overrides the SMTP send function. Intended for tests.
func (m *ResetMailer) WithSender(send func(msg *gomail.Message) error) *ResetMailer {
	if send != nil {
		m.send = send
	}
	return m
}

// BuildResetURL assembles the link embedded in reset mail:
// {base}/reset-password?email=...&token=... with both parameters escaped.
func BuildResetURL(baseURL, email, token string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "http://localhost:3000"
	}

	query := url.Values{}
	query.Set("email", email)
	query.Set("token", token)

	return base + "/reset-password?" + query.Encode()
}

// DeliverResetLink sends the reset link to the account owner and reports the
// channel used.
func (m *ResetMailer) DeliverResetLink(_ context.Context, delivery port.ResetDelivery) (string, error) {
	link := BuildResetURL(m.reset.BaseURL, delivery.Email, delivery.Token)

	if m.smtp.Host == "" {
		m.logger.Info("password reset link issued without SMTP transport",
			zap.String("delivery", DeliveryConsole),
			zap.String("email", logger.MaskEmail(delivery.Email)),
			zap.String("reset_url", link),
		)
		return DeliveryConsole, nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.smtp.From)
	msg.SetHeader("To", delivery.Email)
	msg.SetHeader("Subject", "Reset your password")
	msg.SetBody("text/plain", fmt.Sprintf(
		"A password reset was requested for your account.\n\nOpen the link below to choose a new password:\n%s\n\nIf you did not request this, you can ignore this message.",
		link,
	))
	msg.AddAlternative("text/html", fmt.Sprintf(
		`<p>A password reset was requested for your account.</p><p><a href=%q>Reset your password</a></p><p>If you did not request this, you can ignore this message.</p>`,
		link,
	))

	if err := m.send(msg); err != nil {
		return DeliverySMTP, fmt.Errorf("send reset mail: %w", err)
	}

	m.logger.Info("password reset link delivered",
		zap.String("delivery", DeliverySMTP),
		zap.String("email", logger.MaskEmail(delivery.Email)),
	)

	return DeliverySMTP, nil
}

var _ port.ResetDeliverer = (*ResetMailer)(nil)
