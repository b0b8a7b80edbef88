package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/cryptox"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/mail"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
)

// Mailer accepts a message for background delivery and returns at once.
type Mailer interface {
	Enqueue(ctx context.Context, msg mail.Message) error
}

// OneTimeFlowService issues and consumes purpose-bound tokens for email
// verification and password reset.
type OneTimeFlowService struct {
	repos  repomanager.RepositoryManager
	codec  *auth.TokenCodec
	hasher auth.PasswordHasher
	mailer Mailer
	logger logging.Logger

	verificationTTL time.Duration
	resetTTL        time.Duration
	baseURL         string

	options
}

func NewOneTimeFlowService(repos repomanager.RepositoryManager, codec *auth.TokenCodec, hasher auth.PasswordHasher,
	mailer Mailer, cfg *config.Config, logger logging.Logger, opts ...Option) *OneTimeFlowService {
	return &OneTimeFlowService{
		repos:           repos,
		codec:           codec,
		hasher:          hasher,
		mailer:          mailer,
		logger:          logger.With("module", "onetime"),
		verificationTTL: cfg.EmailVerificationTTL,
		resetTTL:        cfg.PasswordResetTTL,
		baseURL:         cfg.BaseURL,
		options:         buildOptions(append([]Option{WithTimeout(cfg.RequestTimeout)}, opts...)),
	}
}

func (s *OneTimeFlowService) send(ctx context.Context, msg mail.Message) {
	if err := s.mailer.Enqueue(ctx, msg); err != nil {
		s.logger.Error(ctx, "enqueue mail", "kind", msg.Kind, "error", err)
	}
}

// IssueEmailVerification mints a verification token for email and hands
// it to the mailer. Delivery failure does not invalidate the token.
func (s *OneTimeFlowService) IssueEmailVerification(ctx context.Context, email string) (string, error) {
	token, err := s.codec.Mint(auth.KindEmailVerification, email, auth.Extra{}, s.verificationTTL)
	if err != nil {
		return "", err
	}
	s.send(ctx, mail.NewEmailVerification(s.baseURL, email, token, s.verificationTTL))
	return token, nil
}

// IssuePasswordReset mints a reset token for email, records its digest as
// the single pending reset and hands it to the mailer.
func (s *OneTimeFlowService) IssuePasswordReset(ctx context.Context, email string) (string, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	user, err := s.repos.Users(s.repos.DB()).FindByEmail(ctx, email)
	if err != nil {
		return "", unavailable(err)
	}
	return s.issueReset(ctx, user)
}

func (s *OneTimeFlowService) issueReset(ctx context.Context, user *models.User) (string, error) {
	token, err := s.codec.Mint(auth.KindPasswordReset, user.Email, auth.Extra{}, s.resetTTL)
	if err != nil {
		return "", err
	}

	now := s.now()
	if err := s.repos.Users(s.repos.DB()).SetPasswordReset(ctx, user.ID, cryptox.HashToken(token), now.Add(s.resetTTL), now); err != nil {
		return "", unavailable(err)
	}

	s.send(ctx, mail.NewPasswordReset(s.baseURL, user.Email, token, s.resetTTL))
	return token, nil
}

// RequestPasswordReset always succeeds from the caller's view so that
// account existence cannot be probed. Failures are only logged.
func (s *OneTimeFlowService) RequestPasswordReset(ctx context.Context, email string) error {
	defer s.recorder.Outcome("request_password_reset", OutcomeSuccess)
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		s.logger.Info(ctx, "password reset requested for malformed email")
		return nil
	}

	user, err := s.repos.Users(s.repos.DB()).FindByEmail(ctx, normalized)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		s.logger.Info(ctx, "password reset requested for unknown email")
		return nil
	case err != nil:
		s.logger.Error(ctx, "password reset lookup", "error", err)
		return nil
	case !user.IsActive:
		s.logger.Info(ctx, "password reset requested for inactive user", "user_id", user.ID)
		return nil
	}

	if _, err := s.issueReset(ctx, user); err != nil {
		s.logger.Error(ctx, "issue password reset", "user_id", user.ID, "error", err)
		return nil
	}
	s.logger.Info(ctx, "password reset issued", "user_id", user.ID)
	return nil
}

// ConsumeEmailVerification marks the token's user verified. Consuming a
// valid token again succeeds with the same result.
func (s *OneTimeFlowService) ConsumeEmailVerification(ctx context.Context, token string) (err error) {
	defer func() { s.recorder.Outcome("verify_email", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	claims, err := s.codec.VerifyKind(token, auth.KindEmailVerification)
	if err != nil {
		return common.ErrInvalidOrExpiredToken
	}

	users := s.repos.Users(s.repos.DB())
	user, err := users.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return unavailable(err)
	}

	if err = users.MarkVerified(ctx, user.ID, s.now()); err != nil {
		return unavailable(err)
	}
	s.logger.Info(ctx, "email verified", "user_id", user.ID)
	return nil
}

// ConsumePasswordReset sets newPassword if token is the user's pending,
// unexpired reset, then revokes every refresh token. A token works once.
func (s *OneTimeFlowService) ConsumePasswordReset(ctx context.Context, token, newPassword string) (err error) {
	defer func() { s.recorder.Outcome("reset_password", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	claims, err := s.codec.VerifyKind(token, auth.KindPasswordReset)
	if err != nil {
		return common.ErrInvalidOrExpiredToken
	}
	if err = auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := s.now()
	var userID int64
	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		id, err := s.repos.Users(tx).ConsumePasswordReset(ctx, claims.Subject, cryptox.HashToken(token), hash, now)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return err
		}
		userID = id
		_, err = s.repos.RefreshTokens(tx).RevokeAllForUser(ctx, id)
		return err
	})
	if err != nil {
		return unavailable(err)
	}

	s.logger.Info(ctx, "password reset", "user_id", userID)
	return nil
}
