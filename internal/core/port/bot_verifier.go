package port

import (
	"context"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

// BotVerifier decides whether a request comes from a human. Implementations
// must fail closed: any internal or upstream error yields a failing result,
// never an error.
type BotVerifier interface {
	Verify(ctx context.Context, token, expectedAction string, attempt domain.AuthAttemptContext) domain.BotVerificationResult
}
