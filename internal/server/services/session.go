package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/cryptox"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
)

// maxLockoutRetries bounds compare-and-set retries on the lockout state
// when concurrent logins race for the same user.
const maxLockoutRetries = 8

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // access token lifetime, seconds
}

// Principal is the identity asserted by a verified access token.
type Principal struct {
	UserID int64
	Roles  []string
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// VerificationIssuer issues email verification tokens on registration.
type VerificationIssuer interface {
	IssueEmailVerification(ctx context.Context, email string) (string, error)
}

// AuthSessionService owns the login state machine and refresh rotation.
type AuthSessionService struct {
	repos  repomanager.RepositoryManager
	codec  *auth.TokenCodec
	hasher auth.PasswordHasher
	policy auth.LockoutPolicy
	flows  VerificationIssuer
	logger logging.Logger

	accessTTL        time.Duration
	refreshTTL       time.Duration
	skipVerification bool

	options
}

// NewAuthSessionService wires the session flows. flows may be nil when
// email verification is skipped.
func NewAuthSessionService(repos repomanager.RepositoryManager, codec *auth.TokenCodec, hasher auth.PasswordHasher,
	flows VerificationIssuer, cfg *config.Config, logger logging.Logger, opts ...Option) *AuthSessionService {
	return &AuthSessionService{
		repos:            repos,
		codec:            codec,
		hasher:           hasher,
		policy:           auth.LockoutPolicy{MaxAttempts: cfg.MaxFailedAttempts, Cooldown: cfg.LockoutCooldown},
		flows:            flows,
		logger:           logger.With("module", "session"),
		accessTTL:        cfg.AccessTokenTTL,
		refreshTTL:       cfg.RefreshTokenTTL,
		skipVerification: cfg.SkipEmailVerification || flows == nil,
		options:          buildOptions(append([]Option{WithTimeout(cfg.RequestTimeout)}, opts...)),
	}
}

// Register creates an active user with the default role and hands a
// verification token to the mailer after the user is committed.
func (s *AuthSessionService) Register(ctx context.Context, email, password string, profile models.Profile) (view *models.UserView, err error) {
	defer func() { s.recorder.Outcome("register", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	email, err = auth.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err = auth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   s.skipVerification,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
	}

	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Users(tx).Create(ctx, user); err != nil {
			return err
		}
		return s.repos.Roles(tx).Attach(ctx, user.ID, common.RoleUser)
	})
	if err != nil {
		return nil, unavailable(err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)

	if !s.skipVerification {
		if _, ferr := s.flows.IssueEmailVerification(ctx, email); ferr != nil {
			s.logger.Error(ctx, "issue email verification", "user_id", user.ID, "error", ferr)
		}
	}

	return user.View([]string{common.RoleUser}), nil
}

// Login authenticates email and password. Unknown users, wrong passwords
// and inactive accounts are indistinguishable to the caller.
func (s *AuthSessionService) Login(ctx context.Context, email, password string) (pair *TokenPair, err error) {
	defer func() { s.recorder.Outcome("login", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	users := s.repos.Users(s.repos.DB())

	var user *models.User
	normalized, nerr := auth.NormalizeEmail(email)
	if nerr == nil {
		user, err = users.FindByEmail(ctx, normalized)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, unavailable(err)
		}
	}
	if user == nil {
		s.hasher.Verify(password, s.hasher.DummyHash())
		return nil, common.ErrInvalidCredentials
	}

	now := s.now()
	reserved, err := s.reserveAttempt(ctx, user, now)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		if s.policy.IsLocked(reserved, now) {
			s.logger.Warn(ctx, "account locked", "user_id", user.ID, "attempts", reserved.FailedAttempts, "until", *reserved.LockedUntil)
		}
		return nil, common.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, common.ErrInvalidCredentials
	}

	if err := s.releaseAttempt(ctx, user.ID, reserved, now); err != nil {
		return nil, err
	}
	if err := users.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, unavailable(err)
	}

	roles, err := s.repos.Roles(s.repos.DB()).ForUser(ctx, user.ID)
	if err != nil {
		return nil, unavailable(err)
	}

	pair, err = s.issuePair(ctx, s.repos.DB(), user.ID, roles, now)
	if err != nil {
		return nil, unavailable(err)
	}

	s.logger.Info(ctx, "login", "user_id", user.ID)
	return pair, nil
}

// reserveAttempt records the attempt as a failure before the password is
// compared. Every comparison is preceded by one successful compare-and-set on
// the lockout state, so no more than MaxAttempts guesses are checked per
// lock. It returns the state it wrote for releaseAttempt.
func (s *AuthSessionService) reserveAttempt(ctx context.Context, user *models.User, now time.Time) (models.LockoutState, error) {
	users := s.repos.Users(s.repos.DB())
	state := user.Lockout()

	for i := 0; i < maxLockoutRetries; i++ {
		if s.policy.IsLocked(state, now) {
			return state, common.ErrAccountLocked
		}

		next := s.policy.OnFailedAttempt(state, now)
		ok, err := users.UpdateLockoutState(ctx, user.ID, state, next, now)
		if err != nil {
			return state, unavailable(err)
		}
		if ok {
			return next, nil
		}

		fresh, err := users.FindByID(ctx, user.ID)
		if err != nil {
			return state, unavailable(err)
		}
		state = fresh.Lockout()
	}

	return state, fmt.Errorf("lockout reserve for user %d: too much contention", user.ID)
}

// releaseAttempt clears the lockout state after a correct password, but only
// over the state this request observed. Concurrent failures may have moved
// it on; if they locked the account the login is refused.
func (s *AuthSessionService) releaseAttempt(ctx context.Context, userID int64, expected models.LockoutState, now time.Time) error {
	users := s.repos.Users(s.repos.DB())

	for i := 0; i < maxLockoutRetries; i++ {
		ok, err := users.UpdateLockoutState(ctx, userID, expected, s.policy.OnSuccess(expected), now)
		if err != nil {
			return unavailable(err)
		}
		if ok {
			return nil
		}

		fresh, err := users.FindByID(ctx, userID)
		if err != nil {
			return unavailable(err)
		}
		expected = fresh.Lockout()
		if s.policy.IsLocked(expected, now) {
			return common.ErrAccountLocked
		}
	}

	return fmt.Errorf("lockout release for user %d: too much contention", userID)
}

func (s *AuthSessionService) issuePair(ctx context.Context, db dbx.DBTX, userID int64, roles []string, now time.Time) (*TokenPair, error) {
	subject := strconv.FormatInt(userID, 10)

	access, err := s.codec.Mint(auth.KindAccess, subject, auth.Extra{Roles: roles}, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.Mint(auth.KindRefresh, subject, auth.Extra{}, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	if _, err := s.repos.RefreshTokens(db).Store(ctx, userID, cryptox.HashToken(refresh), now.Add(s.refreshTTL)); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    common.TokenType,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

// Refresh rotates refreshToken: the presented record is revoked and a new
// pair is minted in the same transaction. Of several concurrent calls with
// one token exactly one succeeds.
func (s *AuthSessionService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { s.recorder.Outcome("refresh", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	claims, err := s.codec.VerifyKind(refreshToken, auth.KindRefresh)
	if err != nil {
		return nil, common.ErrInvalidOrExpiredToken
	}

	now := s.now()
	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.repos.RefreshTokens(tx).RevokeActive(ctx, cryptox.HashToken(refreshToken), now)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return err
		}
		if strconv.FormatInt(rec.UserID, 10) != claims.Subject {
			return common.ErrInvalidOrExpiredToken
		}

		user, err := s.repos.Users(tx).FindByID(ctx, rec.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return err
		}
		if !user.IsActive {
			return common.ErrInvalidOrExpiredToken
		}

		roles, err := s.repos.Roles(tx).ForUser(ctx, user.ID)
		if err != nil {
			return err
		}

		pair, err = s.issuePair(ctx, tx, user.ID, roles, now)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return pair, nil
}

// Logout revokes the single session behind refreshToken. Revoking an
// already inactive token succeeds.
func (s *AuthSessionService) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func() { s.recorder.Outcome("logout", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	if _, err = s.codec.VerifyKind(refreshToken, auth.KindRefresh); err != nil {
		return common.ErrInvalidOrExpiredToken
	}

	_, err = s.repos.RefreshTokens(s.repos.DB()).RevokeActive(ctx, cryptox.HashToken(refreshToken), s.now())
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return unavailable(err)
	}
	return nil
}

// LogoutAll revokes every refresh token of userID.
func (s *AuthSessionService) LogoutAll(ctx context.Context, userID int64) (err error) {
	defer func() { s.recorder.Outcome("logout_all", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	n, err := s.repos.RefreshTokens(s.repos.DB()).RevokeAllForUser(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	s.logger.Info(ctx, "logout all", "user_id", userID, "revoked", n)
	return nil
}

// ChangePassword replaces the password of userID after checking current,
// clears the lockout state and revokes every refresh token.
func (s *AuthSessionService) ChangePassword(ctx context.Context, userID int64, current, next string) (err error) {
	defer func() { s.recorder.Outcome("change_password", OutcomeOf(err)) }()
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	user, err := s.repos.Users(s.repos.DB()).FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		return unavailable(err)
	}
	if err = auth.ValidatePassword(next); err != nil {
		return err
	}

	now := s.now()
	reserved, err := s.reserveAttempt(ctx, user, now)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		if s.policy.IsLocked(reserved, now) {
			s.logger.Warn(ctx, "account locked", "user_id", user.ID, "attempts", reserved.FailedAttempts, "until", *reserved.LockedUntil)
		}
		return common.ErrInvalidCredentials
	}
	if err = s.releaseAttempt(ctx, user.ID, reserved, now); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Users(tx).UpdateCredentials(ctx, userID, hash, now); err != nil {
			return err
		}
		_, err := s.repos.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return unavailable(err)
	}

	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// Authenticate verifies an access token. It does not touch storage.
func (s *AuthSessionService) Authenticate(accessToken string) (*Principal, error) {
	claims, err := s.codec.VerifyKind(accessToken, auth.KindAccess)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	return &Principal{UserID: id, Roles: claims.Roles}, nil
}

// Me returns the current view of userID. Missing or inactive users are
// reported as an invalid token.
func (s *AuthSessionService) Me(ctx context.Context, userID int64) (*models.UserView, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	user, err := s.repos.Users(s.repos.DB()).FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, unavailable(err)
	}
	if !user.IsActive {
		return nil, common.ErrInvalidToken
	}

	roles, err := s.repos.Roles(s.repos.DB()).ForUser(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	return user.View(roles), nil
}
