package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
)

const defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks reCAPTCHA v3 tokens against the siteverify API. Every
// decision path is fail closed: an unreachable or erroring API blocks the
// request rather than waving it through.
type Verifier struct {
	cfg    config.RecaptchaSettings
	client *http.Client
	logger *zap.Logger
}

// NewVerifier constructs a verifier from configuration.
func NewVerifier(cfg config.RecaptchaSettings, log *zap.Logger) *Verifier {
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = defaultVerifyURL
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.5
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// WithHTTPClient overrides the HTTP client. Intended for tests.
func (v *Verifier) WithHTTPClient(client *http.Client) *Verifier {
	if client != nil {
		v.client = client
	}
	return v
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify evaluates the token for the expected action and returns the
// verdict. It never returns an error; failures carry a reason instead.
func (v *Verifier) Verify(ctx context.Context, token, expectedAction string, attempt domain.AuthAttemptContext) domain.BotVerificationResult {
	if !v.cfg.Enabled {
		result := domain.BotVerificationResult{Outcome: domain.BotOutcomeSkipped, Reason: "disabled"}
		v.logResult(result, expectedAction, attempt)
		return result
	}

	if strings.TrimSpace(v.cfg.SecretKey) == "" {
		result := domain.BotVerificationResult{Outcome: domain.BotOutcomeFail, Reason: "config_error"}
		v.logger.Error("recaptcha enabled without a secret key",
			zap.String("expected_action", expectedAction),
			zap.String("request_id", attempt.RequestID),
		)
		return result
	}

	if strings.TrimSpace(token) == "" {
		result := domain.BotVerificationResult{Outcome: domain.BotOutcomeFail, Reason: "missing_token"}
		v.logResult(result, expectedAction, attempt)
		return result
	}

	resp, err := v.callSiteVerify(ctx, token, attempt.IP)
	if err != nil {
		result := domain.BotVerificationResult{Outcome: domain.BotOutcomeFail, Reason: "verification_error"}
		v.logger.Warn("recaptcha verification error",
			zap.String("expected_action", expectedAction),
			zap.String("identity", logger.MaskEmail(attempt.Identity)),
			zap.String("ip", logger.MaskIP(attempt.IP)),
			zap.String("request_id", attempt.RequestID),
			zap.Error(err),
		)
		return result
	}

	result := domain.BotVerificationResult{
		Score:      resp.Score,
		Action:     resp.Action,
		Hostname:   resp.Hostname,
		ErrorCodes: resp.ErrorCodes,
	}

	switch {
	case !resp.Success:
		result.Outcome = domain.BotOutcomeFail
		result.Reason = "api_rejected"
	case resp.Action != "" && resp.Action != expectedAction:
		result.Outcome = domain.BotOutcomeFail
		result.Reason = "action_mismatch"
	case resp.Score != nil && *resp.Score < v.cfg.ScoreThreshold:
		result.Outcome = domain.BotOutcomeFail
		result.Reason = "low_score"
	default:
		result.Outcome = domain.BotOutcomePass
		result.Reason = "verified"
	}

	v.logResult(result, expectedAction, attempt)
	return result
}

func (v *Verifier) callSiteVerify(ctx context.Context, token, remoteIP string) (*siteVerifyResponse, error) {
	form := url.Values{}
	form.Set("secret", v.cfg.SecretKey)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("siteverify returned status %d", httpResp.StatusCode)
	}

	var parsed siteVerifyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

func (v *Verifier) logResult(result domain.BotVerificationResult, expectedAction string, attempt domain.AuthAttemptContext) {
	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.String("expected_action", expectedAction),
		zap.String("operation", attempt.OperationName),
		zap.String("identity", logger.MaskEmail(attempt.Identity)),
		zap.String("ip", logger.MaskIP(attempt.IP)),
		zap.String("request_id", attempt.RequestID),
	}
	if result.Score != nil {
		fields = append(fields, zap.Float64("score", *result.Score))
	}
	if result.Action != "" {
		fields = append(fields, zap.String("action", result.Action))
	}
	if result.Hostname != "" {
		fields = append(fields, zap.String("hostname", result.Hostname))
	}
	if len(result.ErrorCodes) > 0 {
		fields = append(fields, zap.Strings("error_codes", result.ErrorCodes))
	}

	if result.Outcome == domain.BotOutcomeFail {
		v.logger.Warn("recaptcha verification failed", fields...)
		return
	}
	v.logger.Info("recaptcha verification", fields...)
}

var _ port.BotVerifier = (*Verifier)(nil)
