package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/infra/security"
	"github.com/forumkit/auth-gateway/internal/transport/http/middleware"
	"github.com/forumkit/auth-gateway/internal/usecase"
)

// Signal headers set on intercepted responses. They are only ever set to
// "true" (or a message), never to "false".
const (
	HeaderAccountLocked         = "X-Account-Locked"
	HeaderRequirePasswordChange = "X-Require-Password-Change"
	HeaderLoginFailureMessage   = "X-Login-Failure-Message"
	HeaderRecaptchaFailed       = "X-Recaptcha-Failed"
	HeaderRecaptchaToken        = "X-Recaptcha-Token"
)

// GraphQL operation field names recognized by the gateway.
const (
	opLogin          = "authenticateUserWithPassword"
	opRequestReset   = "sendUserPasswordResetLink"
	opValidateReset  = "validateUserPasswordResetToken"
	opRedeemReset    = "redeemUserPasswordResetToken"
	opChangePassword = "changeMyPassword"
)

type graphQLRequest struct {
	OperationName  string         `json:"operationName"`
	Query          string         `json:"query"`
	Variables      map[string]any `json:"variables"`
	RecaptchaToken string         `json:"recaptchaToken"`
}

type graphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []graphQLError `json:"errors,omitempty"`
}

func errorResponse(code, message string) graphQLResponse {
	return graphQLResponse{
		Errors: []graphQLError{{
			Message:    message,
			Extensions: map[string]any{"code": code},
		}},
	}
}

// AuthGatewayHandler serves the CMS authentication operations behind the
// interception pipeline.
type AuthGatewayHandler struct {
	guard       *usecase.AuthGuard
	credentials *usecase.CredentialService
	resets      *usecase.PasswordResetService
	metrics     *GatewayMetrics
	logger      *zap.Logger
}

// NewAuthGatewayHandler wires the gateway endpoint.
func NewAuthGatewayHandler(
	guard *usecase.AuthGuard,
	credentials *usecase.CredentialService,
	resets *usecase.PasswordResetService,
	metrics *GatewayMetrics,
	log *zap.Logger,
) *AuthGatewayHandler {
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthGatewayHandler{
		guard:       guard,
		credentials: credentials,
		resets:      resets,
		metrics:     metrics,
		logger:      log,
	}
}

// Execute handles POST /api/graphql.
func (h *AuthGatewayHandler) Execute(c *gin.Context) {
	var req graphQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("GRAPHQL_PARSE_FAILED", "Could not parse request body."))
		return
	}

	kind := usecase.ClassifyOperation(req.OperationName, req.Query)

	attempt := domain.AuthAttemptContext{
		Kind:          kind,
		OperationName: h.operationField(req),
		Identity:      req.stringVariable("email", "identity"),
		CaptchaToken:  h.captchaToken(c, req),
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		RequestID:     middleware.GetRequestID(c),
	}

	pre := h.guard.PreCheck(c.Request.Context(), attempt)
	if !pre.Allow {
		if pre.BotFailed {
			c.Header(HeaderRecaptchaFailed, "true")
			if h.metrics != nil {
				h.metrics.BotBlocks.WithLabelValues(attempt.OperationName).Inc()
			}
		}
		if pre.AccountLocked {
			c.Header(HeaderAccountLocked, "true")
			c.Header(HeaderLoginFailureMessage, url.QueryEscape(pre.Message))
			if h.metrics != nil {
				h.metrics.LoginAttempts.WithLabelValues("blocked_locked").Inc()
			}
		}
		c.JSON(http.StatusOK, errorResponse(pre.Code, pre.Message))
		return
	}

	switch kind {
	case domain.OperationLogin:
		h.handleLogin(c, req, attempt, pre)
	case domain.OperationRequestReset:
		h.handleRequestReset(c, req, attempt)
	case domain.OperationRedeemReset:
		h.handleRedeemReset(c, req)
	default:
		switch attempt.OperationName {
		case opValidateReset:
			h.handleValidateReset(c, req)
		case opChangePassword:
			h.handleChangePassword(c, req)
		default:
			c.JSON(http.StatusOK, errorResponse("UNSUPPORTED_OPERATION", "This operation is not handled by the authentication gateway."))
		}
	}
}

func (h *AuthGatewayHandler) handleLogin(c *gin.Context, req graphQLRequest, attempt domain.AuthAttemptContext, pre *usecase.PreDecision) {
	identity := req.stringVariable("email", "identity")
	secret := req.stringVariable("password", "secret")

	outcome, err := h.credentials.Verify(c.Request.Context(), identity, secret)
	if err != nil {
		h.logger.Error("credential verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_SERVER_ERROR", "Authentication is temporarily unavailable."))
		return
	}

	// Bookkeeping must finish even if the client disconnects mid-request.
	signals := h.guard.PostLogin(context.WithoutCancel(c.Request.Context()), attempt, pre, outcome)

	if signals.AccountLocked {
		c.Header(HeaderAccountLocked, "true")
	}
	if signals.RequirePasswordChange {
		c.Header(HeaderRequirePasswordChange, "true")
	}
	if !outcome.Succeeded() && signals.FailureMessage != "" {
		c.Header(HeaderLoginFailureMessage, url.QueryEscape(signals.FailureMessage))
	}

	if h.metrics != nil {
		if outcome.Succeeded() {
			h.metrics.LoginAttempts.WithLabelValues("success").Inc()
		} else {
			h.metrics.LoginAttempts.WithLabelValues("failure").Inc()
			if signals.AccountLocked {
				h.metrics.AccountLockouts.Inc()
			}
		}
	}

	if !outcome.Succeeded() {
		message := outcome.Failure.Message
		if signals.FailureMessage != "" {
			message = signals.FailureMessage
		}
		c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
			opLogin: map[string]any{
				"__typename": "UserAuthenticationWithPasswordFailure",
				"message":    message,
			},
		}})
		return
	}

	record := outcome.Success.Record
	item := map[string]any{
		"id":    record.ID,
		"name":  record.Name,
		"email": record.Email,
	}
	if signals.RequirePasswordChange {
		item["requirePasswordChange"] = true
	}

	c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
		opLogin: map[string]any{
			"__typename":   "UserAuthenticationWithPasswordSuccess",
			"sessionToken": outcome.Success.SessionToken,
			"item":         item,
		},
	}})
}

func (h *AuthGatewayHandler) handleRequestReset(c *gin.Context, req graphQLRequest, attempt domain.AuthAttemptContext) {
	email := req.stringVariable("email", "identity")

	ack, err := h.resets.RequestReset(c.Request.Context(), email, attempt.IP, attempt.RequestID)
	if err != nil {
		h.logger.Error("password reset request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_SERVER_ERROR", "Password reset is temporarily unavailable."))
		return
	}

	if h.metrics != nil {
		h.metrics.ResetRequests.Inc()
	}

	c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
		opRequestReset: map[string]any{
			"success": true,
			"message": ack,
		},
	}})
}

func (h *AuthGatewayHandler) handleValidateReset(c *gin.Context, req graphQLRequest) {
	email := req.stringVariable("email", "identity")
	token := req.stringVariable("token", "")

	err := h.resets.ValidateResetToken(c.Request.Context(), email, token)
	if err == nil {
		// A valid token yields a null payload; callers treat any non-null
		// payload as a validation error.
		c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
			opValidateReset: nil,
		}})
		return
	}

	code, message, ok := resetTokenStatus(err)
	if !ok {
		h.logger.Error("reset token validation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_SERVER_ERROR", "Password reset is temporarily unavailable."))
		return
	}

	c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
		opValidateReset: map[string]any{
			"code":    code,
			"message": message,
		},
	}})
}

func (h *AuthGatewayHandler) handleRedeemReset(c *gin.Context, req graphQLRequest) {
	email := req.stringVariable("email", "identity")
	token := req.stringVariable("token", "")
	password := req.stringVariable("password", "")

	err := h.resets.RedeemResetToken(c.Request.Context(), email, token, password)
	if err == nil {
		// Mirrors the CMS contract: a successful redemption returns null.
		c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
			opRedeemReset: nil,
		}})
		return
	}

	if code, message, ok := redeemFailureStatus(err); ok {
		c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
			opRedeemReset: map[string]any{
				"code":    code,
				"message": message,
			},
		}})
		return
	}

	h.logger.Error("reset token redemption failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_SERVER_ERROR", "Password reset is temporarily unavailable."))
}

func (h *AuthGatewayHandler) handleChangePassword(c *gin.Context, req graphQLRequest) {
	userID, ok := middleware.SessionUserID(c)
	if !ok {
		c.JSON(http.StatusOK, errorResponse("UNAUTHENTICATED", "Authentication required."))
		return
	}

	password := req.stringVariable("password", "")
	confirm := req.stringVariable("confirmPassword", "confirm")

	err := h.resets.ChangePassword(c.Request.Context(), userID, password, confirm)
	if err == nil {
		c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{
			opChangePassword: map[string]any{"id": userID},
		}})
		return
	}

	var policyErr *security.PasswordValidationError
	switch {
	case errors.Is(err, usecase.ErrPasswordMismatch):
		c.JSON(http.StatusOK, errorResponse("PASSWORD_MISMATCH", "Password and confirmation do not match."))
	case errors.As(err, &policyErr):
		c.JSON(http.StatusOK, errorResponse("PASSWORD_POLICY_FAILURE", policyErr.Message))
	case errors.Is(err, usecase.ErrPasswordReused):
		c.JSON(http.StatusOK, errorResponse("PASSWORD_REUSED", "New password must differ from recently used passwords."))
	case errors.Is(err, usecase.ErrAccountNotFound):
		c.JSON(http.StatusOK, errorResponse("UNAUTHENTICATED", "Authentication required."))
	default:
		h.logger.Error("password change failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_SERVER_ERROR", "Password change is temporarily unavailable."))
	}
}

// resetTokenStatus maps a token validation failure to the {code, message}
// payload. ok is false for unexpected errors.
func resetTokenStatus(err error) (code, message string, ok bool) {
	switch {
	case errors.Is(err, usecase.ErrResetTokenInvalid):
		return "TOKEN_INVALID", "The reset token is not valid for this account.", true
	case errors.Is(err, usecase.ErrResetTokenExpired):
		return "TOKEN_EXPIRED", "The reset token has expired. Request a new one.", true
	case errors.Is(err, usecase.ErrResetTokenRedeemed):
		return "TOKEN_REDEEMED", "The reset token was already used.", true
	default:
		return "", "", false
	}
}

func redeemFailureStatus(err error) (code, message string, ok bool) {
	if code, message, ok = resetTokenStatus(err); ok {
		return code, message, true
	}

	var policyErr *security.PasswordValidationError
	switch {
	case errors.As(err, &policyErr):
		return "PASSWORD_POLICY_FAILURE", policyErr.Message, true
	case errors.Is(err, usecase.ErrPasswordReused):
		return "PASSWORD_REUSED", "New password must differ from recently used passwords.", true
	default:
		return "", "", false
	}
}

// operationField resolves the field name the request targets, preferring the
// operation name and falling back to sniffing the query text.
func (h *AuthGatewayHandler) operationField(req graphQLRequest) string {
	candidates := []string{opLogin, opRequestReset, opValidateReset, opRedeemReset, opChangePassword}

	for _, candidate := range candidates {
		if req.OperationName == candidate {
			return candidate
		}
	}
	for _, candidate := range candidates {
		if strings.Contains(req.Query, candidate) {
			return candidate
		}
	}

	if req.OperationName != "" {
		return req.OperationName
	}
	return "unknown"
}

// captchaToken reads the verification token from the dedicated header,
// falling back to the request body for clients that cannot set headers.
func (h *AuthGatewayHandler) captchaToken(c *gin.Context, req graphQLRequest) string {
	if token := c.GetHeader(HeaderRecaptchaToken); token != "" {
		return token
	}
	if req.RecaptchaToken != "" {
		return req.RecaptchaToken
	}
	return req.stringVariable("recaptchaToken", "")
}

// stringVariable reads a string variable by name, with an optional alias.
func (r graphQLRequest) stringVariable(name, alias string) string {
	if r.Variables == nil {
		return ""
	}

	if value, ok := r.Variables[name].(string); ok && value != "" {
		return value
	}
	if alias != "" {
		if value, ok := r.Variables[alias].(string); ok {
			return value
		}
	}
	return ""
}
