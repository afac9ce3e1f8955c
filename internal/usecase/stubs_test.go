package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/repository"
)

type recordStoreStub struct {
	byID       map[string]domain.SecurityRecord
	byIdentity map[string]domain.SecurityRecord

	findErr          error
	recordFailureErr error
	clearErr         error
	rotateErr        error

	clearedIDs     []string
	rotatedID      string
	rotatedHash    string
	rotatedHistory []string
	rotatedAt      time.Time
}

func newRecordStoreStub(records ...domain.SecurityRecord) *recordStoreStub {
	stub := &recordStoreStub{
		byID:       map[string]domain.SecurityRecord{},
		byIdentity: map[string]domain.SecurityRecord{},
	}
	for _, record := range records {
		stub.byID[record.ID] = record
		stub.byIdentity[record.Email] = record
	}
	return stub
}

func (s *recordStoreStub) save(record domain.SecurityRecord) {
	s.byID[record.ID] = record
	s.byIdentity[record.Email] = record
}

func (s *recordStoreStub) FindByID(_ context.Context, id string) (*domain.SecurityRecord, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if record, ok := s.byID[id]; ok {
		copied := record
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *recordStoreStub) FindByIdentity(_ context.Context, identity string) (*domain.SecurityRecord, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if record, ok := s.byIdentity[identity]; ok {
		copied := record
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *recordStoreStub) RecordFailure(_ context.Context, id string, now time.Time, policy domain.LockoutPolicy) (*domain.SecurityRecord, error) {
	if s.recordFailureErr != nil {
		return nil, s.recordFailureErr
	}
	record, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	updated := policy.OnFailure(record, now)
	s.save(updated)
	copied := updated
	return &copied, nil
}

func (s *recordStoreStub) ClearLockout(_ context.Context, id string) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	s.clearedIDs = append(s.clearedIDs, id)
	record, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	record.LoginFailedAttempts = 0
	record.AccountLockedUntil = nil
	record.LastFailedLoginAt = nil
	s.save(record)
	return nil
}

func (s *recordStoreStub) RotateCredential(_ context.Context, id string, newHash string, history []string, changedAt time.Time) error {
	if s.rotateErr != nil {
		return s.rotateErr
	}
	record, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.rotatedID = id
	s.rotatedHash = newHash
	s.rotatedHistory = history
	s.rotatedAt = changedAt
	record.CredentialHash = newHash
	record.PasswordHistory = history
	updatedAt := changedAt
	record.PasswordUpdatedAt = &updatedAt
	record.MustChangePassword = false
	s.save(record)
	return nil
}

var _ port.SecurityRecordStore = (*recordStoreStub)(nil)

type botVerifierStub struct {
	result    domain.BotVerificationResult
	calls     int
	gotToken  string
	gotAction string
}

func (s *botVerifierStub) Verify(_ context.Context, token, expectedAction string, _ domain.AuthAttemptContext) domain.BotVerificationResult {
	s.calls++
	s.gotToken = token
	s.gotAction = expectedAction
	return s.result
}

var _ port.BotVerifier = (*botVerifierStub)(nil)

type eventRecorderStub struct {
	loginAudits     []domain.LoginAuditEvent
	accountLocked   []domain.AccountLockedEvent
	botFailures     []domain.BotVerificationFailedEvent
	resetRequests   []domain.PasswordResetRequestedEvent
	passwordChanges []domain.PasswordChangedEvent
}

func (s *eventRecorderStub) PublishLoginAudit(_ context.Context, event domain.LoginAuditEvent) error {
	s.loginAudits = append(s.loginAudits, event)
	return nil
}

func (s *eventRecorderStub) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	s.accountLocked = append(s.accountLocked, event)
	return nil
}

func (s *eventRecorderStub) PublishBotVerificationFailed(_ context.Context, event domain.BotVerificationFailedEvent) error {
	s.botFailures = append(s.botFailures, event)
	return nil
}

func (s *eventRecorderStub) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	s.resetRequests = append(s.resetRequests, event)
	return nil
}

func (s *eventRecorderStub) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	s.passwordChanges = append(s.passwordChanges, event)
	return nil
}

var _ port.EventPublisher = (*eventRecorderStub)(nil)

type resetTokenStoreStub struct {
	byHash map[string]domain.ResetToken

	createErr error
	findErr   error
	redeemErr error

	created    []domain.ResetToken
	redeemedID string
}

func newResetTokenStoreStub() *resetTokenStoreStub {
	return &resetTokenStoreStub{byHash: map[string]domain.ResetToken{}}
}

func (s *resetTokenStoreStub) Create(_ context.Context, userID, tokenHash string, expiresAt, createdAt time.Time) (*domain.ResetToken, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	token := domain.ResetToken{
		ID:        "token-" + tokenHash[:8],
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
	s.byHash[tokenHash] = token
	s.created = append(s.created, token)
	copied := token
	return &copied, nil
}

func (s *resetTokenStoreStub) FindByHash(_ context.Context, tokenHash string) (*domain.ResetToken, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if token, ok := s.byHash[tokenHash]; ok {
		copied := token
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *resetTokenStoreStub) Redeem(_ context.Context, id string, redeemedAt time.Time) error {
	if s.redeemErr != nil {
		return s.redeemErr
	}
	for hash, token := range s.byHash {
		if token.ID == id {
			if token.RedeemedAt != nil {
				return repository.ErrNotFound
			}
			at := redeemedAt
			token.RedeemedAt = &at
			s.byHash[hash] = token
			s.redeemedID = id
			return nil
		}
	}
	return repository.ErrNotFound
}

var _ port.ResetTokenStore = (*resetTokenStoreStub)(nil)

type limiterStub struct {
	count int64
	err   error
	keys  []string
}

func (s *limiterStub) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return 0, s.err
	}
	return s.count, nil
}

var _ port.AttemptLimiter = (*limiterStub)(nil)

type delivererStub struct {
	method    string
	err       error
	delivered []port.ResetDelivery
}

func (s *delivererStub) DeliverResetLink(_ context.Context, delivery port.ResetDelivery) (string, error) {
	s.delivered = append(s.delivered, delivery)
	if s.method == "" {
		return "console", s.err
	}
	return s.method, s.err
}

var _ port.ResetDeliverer = (*delivererStub)(nil)

type sessionTokensStub struct {
	token    string
	issueErr error
	issuedTo []string
}

func (s *sessionTokensStub) Issue(userID string) (string, error) {
	s.issuedTo = append(s.issuedTo, userID)
	if s.issueErr != nil {
		return "", s.issueErr
	}
	if s.token == "" {
		return "session-token", nil
	}
	return s.token, nil
}

func (s *sessionTokensStub) Parse(string) (string, error) {
	return "", errors.New("unexpected call: Parse")
}

var _ port.SessionTokens = (*sessionTokensStub)(nil)
