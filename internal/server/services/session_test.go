package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/mail"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) register(t *testing.T, email string) *models.UserView {
	t.Helper()
	v, err := e.session.Register(context.Background(), email, testPassword, models.Profile{})
	require.NoError(t, err)
	return v
}

func (e *env) login(t *testing.T, email, password string) *TokenPair {
	t.Helper()
	pair, err := e.session.Login(context.Background(), email, password)
	require.NoError(t, err)
	return pair
}

func TestRegisterThenLogin_SubjectIsUserID(t *testing.T) {
	e := newEnv(t)

	view, err := e.session.Register(context.Background(), "  A@X.com ", testPassword, models.Profile{FirstName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", view.Email)
	assert.True(t, view.IsActive)
	assert.False(t, view.IsVerified)
	assert.Equal(t, []string{common.RoleUser}, view.Roles)

	pair := e.login(t, "a@x.com", testPassword)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(30*60), pair.ExpiresIn)

	claims, err := e.codec.VerifyKind(pair.AccessToken, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(view.ID, 10), claims.Subject)
	assert.Equal(t, []string{common.RoleUser}, claims.Roles)

	refresh, err := e.codec.VerifyKind(pair.RefreshToken, auth.KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, refresh.Subject)
	assert.Empty(t, refresh.Roles)

	user, err := e.repos.Users(e.repos.DB()).FindByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", user.FirstName)
	require.NotNil(t, user.LastLogin)

	assert.Equal(t, []string{OutcomeSuccess}, e.outcomes.of("register"))
	assert.Equal(t, []string{OutcomeSuccess}, e.outcomes.of("login"))
}

func TestRegister_SendsVerificationMail(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")

	msg := e.mailer.last(t, mail.KindEmailVerification)
	assert.Equal(t, "a@x.com", msg.Recipient)
	assert.Contains(t, msg.Link, "http://localhost:8001/verify-email?token=")

	claims, err := e.codec.VerifyKind(msg.Token, auth.KindEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)
}

func TestRegister_MailFailureDoesNotFailRegistration(t *testing.T) {
	e := newEnv(t)
	e.mailer.err = errors.New("queue full")

	_, err := e.session.Register(context.Background(), "a@x.com", testPassword, models.Profile{})
	assert.NoError(t, err)
}

func TestRegister_SkipEmailVerification(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.SkipEmailVerification = true })

	view := e.register(t, "a@x.com")
	assert.True(t, view.IsVerified)
	assert.Zero(t, e.mailer.count())
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name, email, password, field string
	}{
		{"empty email", "", testPassword, "email"},
		{"bad email", "not-an-email", testPassword, "email"},
		{"short password", "a@x.com", "Ab1!", "password"},
		{"no special", "a@x.com", "Abc123456", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.session.Register(context.Background(), tt.email, tt.password, models.Profile{})
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}

	users, err := e.repos.Users(e.repos.DB()).List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegister_ConcurrentDuplicateEmail(t *testing.T) {
	e := newEnv(t)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.session.Register(context.Background(), "a@x.com", testPassword, models.Profile{})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrDuplicateEmail):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

func TestLogin_UnknownUserRunsDummyVerify(t *testing.T) {
	e := newEnv(t)

	before := e.hasher.verifies.Load()
	_, err := e.session.Login(context.Background(), "ghost@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Equal(t, before+1, e.hasher.verifies.Load())

	_, err = e.session.Login(context.Background(), "garbage", testPassword)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Equal(t, before+2, e.hasher.verifies.Load())

	assert.Equal(t, []string{OutcomeInvalidCredentials, OutcomeInvalidCredentials}, e.outcomes.of("login"))
}

func TestLogin_WrongPasswordCountsFailure(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")

	_, err := e.session.Login(context.Background(), "a@x.com", "Wrong123!")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	user, err := e.repos.Users(e.repos.DB()).FindByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.FailedLoginAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestLogin_LockoutAndRecovery(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.session.Login(ctx, "a@x.com", "Wrong123!")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
	}

	_, err := e.session.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrAccountLocked, "correct password is refused while locked")

	e.clock.Advance(29 * time.Minute)
	_, err = e.session.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrAccountLocked)

	e.clock.Advance(2 * time.Minute)
	e.login(t, "a@x.com", testPassword)

	user, err := e.repos.Users(e.repos.DB()).FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestLogin_FailureAfterExpiredLockRelocks(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = e.session.Login(ctx, "a@x.com", "Wrong123!")
	}
	e.clock.Advance(31 * time.Minute)

	_, err := e.session.Login(ctx, "a@x.com", "Wrong123!")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	user, err := e.repos.Users(e.repos.DB()).FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, user.FailedLoginAttempts)
	require.NotNil(t, user.LockedUntil)
	assert.True(t, user.LockedUntil.Equal(e.clock.Now().Add(auth.DefaultLockoutCooldown)))

	_, err = e.session.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrAccountLocked, "one failure after expiry locks again")
}

func TestLogin_ParallelGuessesStopAtThreshold(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	ctx := context.Background()

	gated := &gatedHasher{PasswordHasher: e.hasher, gate: make(chan struct{})}
	session := NewAuthSessionService(e.repos, e.codec, gated, e.flows, e.cfg, discardLogger(), WithClock(e.clock.Now))

	const attempts = 20
	var (
		wg                                 sync.WaitGroup
		returned, invalid, locked, success atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		password := "Wrong123!"
		if i == attempts-1 {
			password = testPassword
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer returned.Add(1)
			_, err := session.Login(ctx, "a@x.com", password)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, common.ErrInvalidCredentials):
				invalid.Add(1)
			case errors.Is(err, common.ErrAccountLocked):
				locked.Add(1)
			default:
				t.Errorf("unexpected login error: %v", err)
			}
		}()
	}

	// Every caller is either parked in Verify or already refused.
	require.Eventually(t, func() bool {
		return gated.entered.Load()+returned.Load() == attempts
	}, 5*time.Second, time.Millisecond)
	close(gated.gate)
	wg.Wait()

	assert.Equal(t, int32(auth.DefaultMaxFailedAttempts), gated.entered.Load(), "only threshold-many passwords are compared")
	assert.Equal(t, int32(attempts), invalid.Load()+locked.Load()+success.Load())
	assert.GreaterOrEqual(t, locked.Load(), int32(attempts-auth.DefaultMaxFailedAttempts))

	user, err := e.repos.Users(e.repos.DB()).FindByID(ctx, view.ID)
	require.NoError(t, err)
	if success.Load() == 1 {
		assert.Zero(t, user.FailedLoginAttempts)
		assert.Nil(t, user.LockedUntil)
	} else {
		assert.Zero(t, success.Load())
		assert.Equal(t, auth.DefaultMaxFailedAttempts, user.FailedLoginAttempts)
		assert.NotNil(t, user.LockedUntil, "a refused burst leaves the account locked")
	}
}

func TestLogin_ConcurrentFailuresAreAllCounted(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.session.Login(context.Background(), "a@x.com", "Wrong123!")
		}()
	}
	wg.Wait()

	user, err := e.repos.Users(e.repos.DB()).FindByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, user.FailedLoginAttempts)
	assert.NotNil(t, user.LockedUntil)

	_, err = e.session.Login(context.Background(), "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrAccountLocked)
}

func TestLogin_InactiveUser(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	require.NoError(t, e.admin.SetActive(context.Background(), view.ID, false))

	_, err := e.session.Login(context.Background(), "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")
	first := e.login(t, "a@x.com", testPassword)

	second, err := e.session.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	_, err = e.session.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)

	_, err = e.session.Refresh(context.Background(), second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentCallsHaveOneWinner(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")
	pair := e.login(t, "a@x.com", testPassword)

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.session.Refresh(context.Background(), pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
	}
	assert.Equal(t, 1, ok)
}

func TestRefresh_ExpiredLedgerRecord(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")
	pair := e.login(t, "a@x.com", testPassword)

	e.clock.Advance(8 * 24 * time.Hour)
	_, err := e.session.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestRefresh_InactiveUser(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	pair := e.login(t, "a@x.com", testPassword)

	require.NoError(t, e.repos.Users(e.repos.DB()).SetActive(context.Background(), view.ID, false, time.Now()))

	_, err := e.session.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestKindConfusion(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")
	pair := e.login(t, "a@x.com", testPassword)

	_, err := e.session.Refresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken, "access token used as refresh")

	_, err = e.session.Authenticate(pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken, "refresh token used as access")

	verification := e.mailer.last(t, mail.KindEmailVerification).Token
	_, err = e.session.Authenticate(verification)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.ErrorIs(t, e.flows.ConsumePasswordReset(context.Background(), verification, newPassword), common.ErrInvalidOrExpiredToken)
	assert.ErrorIs(t, e.flows.ConsumeEmailVerification(context.Background(), pair.AccessToken), common.ErrInvalidOrExpiredToken)

	p, err := e.session.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{common.RoleUser}, p.Roles)
	assert.True(t, p.HasRole(common.RoleUser))
	assert.False(t, p.HasRole(common.RoleAdmin))
}

func TestLogout_RevokesSingleToken(t *testing.T) {
	e := newEnv(t)
	e.register(t, "a@x.com")
	a := e.login(t, "a@x.com", testPassword)
	b := e.login(t, "a@x.com", testPassword)

	require.NoError(t, e.session.Logout(context.Background(), a.RefreshToken))
	require.NoError(t, e.session.Logout(context.Background(), a.RefreshToken), "logout is idempotent")

	_, err := e.session.Refresh(context.Background(), a.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
	_, err = e.session.Refresh(context.Background(), b.RefreshToken)
	assert.NoError(t, err)

	assert.ErrorIs(t, e.session.Logout(context.Background(), "junk"), common.ErrInvalidOrExpiredToken)
}

func TestLogoutAll_RevokesEveryToken(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	a := e.login(t, "a@x.com", testPassword)
	b := e.login(t, "a@x.com", testPassword)

	require.NoError(t, e.session.LogoutAll(context.Background(), view.ID))

	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		_, err := e.session.Refresh(context.Background(), tok)
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	pair := e.login(t, "a@x.com", testPassword)
	ctx := context.Background()

	assert.ErrorIs(t, e.session.ChangePassword(ctx, view.ID, "Wrong123!", newPassword), common.ErrInvalidCredentials)
	assert.ErrorIs(t, e.session.ChangePassword(ctx, view.ID, testPassword, "weak"), common.ErrValidation)
	assert.ErrorIs(t, e.session.ChangePassword(ctx, 999, testPassword, newPassword), common.ErrInvalidCredentials)

	require.NoError(t, e.session.ChangePassword(ctx, view.ID, testPassword, newPassword))

	_, err := e.session.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)

	_, err = e.session.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	e.login(t, "a@x.com", newPassword)
}

func TestChangePassword_WrongCurrentCountsTowardLockout(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, e.session.ChangePassword(ctx, view.ID, "Wrong123!", newPassword), common.ErrInvalidCredentials)
	}

	assert.ErrorIs(t, e.session.ChangePassword(ctx, view.ID, testPassword, newPassword), common.ErrAccountLocked)
	_, err := e.session.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, common.ErrAccountLocked)

	e.clock.Advance(31 * time.Minute)
	require.NoError(t, e.session.ChangePassword(ctx, view.ID, testPassword, newPassword))

	user, err := e.repos.Users(e.repos.DB()).FindByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockedUntil)
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	view := e.register(t, "a@x.com")

	me, err := e.session.Me(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", me.Email)
	assert.Equal(t, []string{common.RoleUser}, me.Roles)

	_, err = e.session.Me(context.Background(), 999)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	require.NoError(t, e.admin.SetActive(context.Background(), view.ID, false))
	_, err = e.session.Me(context.Background(), view.ID)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

// Scenario: register, login, refresh (old token dies), change password
// (new token dies too).
func TestScenario_FullSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	view, err := e.session.Register(ctx, "a@x.com", "Abc12345!", models.Profile{})
	require.NoError(t, err)

	first, err := e.session.Login(ctx, "a@x.com", "Abc12345!")
	require.NoError(t, err)
	require.NotEmpty(t, first.AccessToken)
	require.NotEmpty(t, first.RefreshToken)

	second, err := e.session.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	_, err = e.session.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)

	require.NoError(t, e.session.ChangePassword(ctx, view.ID, "Abc12345!", newPassword))
	_, err = e.session.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

// blockingManager never finishes a transaction before the context ends.
type blockingManager struct {
	*memory.RepositoryManager
}

func (m blockingManager) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDeadlineMapsToUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	e := newEnvWith(t, cfg, blockingManager{memory.NewRepositoryManager()})

	_, err := e.session.Register(context.Background(), "a@x.com", testPassword, models.Profile{})
	assert.ErrorIs(t, err, common.ErrUnavailable)
	assert.Equal(t, []string{OutcomeUnavailable}, e.outcomes.of("register"))
}

func TestOutcomeOf(t *testing.T) {
	tests := map[error]string{
		nil:                             OutcomeSuccess,
		common.ErrValidation:            OutcomeValidation,
		common.ErrDuplicateEmail:        OutcomeDuplicate,
		common.ErrInvalidCredentials:    OutcomeInvalidCredentials,
		common.ErrAccountLocked:         OutcomeLocked,
		common.ErrInvalidToken:          OutcomeInvalidToken,
		common.ErrInvalidOrExpiredToken: OutcomeInvalidToken,
		common.ErrorNotFound:            OutcomeNotFound,
		common.ErrUnavailable:           OutcomeUnavailable,
		errors.New("boom"):              OutcomeError,
	}
	for err, want := range tests {
		assert.Equal(t, want, OutcomeOf(err), "%v", err)
	}
}
