package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ repomanager.RepositoryManager = (*RepositoryManager)(nil)

func createUser(t *testing.T, m *RepositoryManager, email string) *models.User {
	t.Helper()
	u, err := m.Users(m.DB()).Create(context.Background(), &models.User{Email: email, PasswordHash: "h", IsActive: true})
	require.NoError(t, err)
	return u
}

func TestUsers_CreateAndFind(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()

	u := createUser(t, m, "a@x.com")
	assert.Equal(t, int64(1), u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := m.Users(m.DB()).FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = m.Users(m.DB()).FindByID(ctx, 99)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = m.Users(m.DB()).Create(ctx, &models.User{Email: "a@x.com"})
	assert.ErrorIs(t, err, common.ErrDuplicateEmail)
}

func TestUsers_ReturnedRecordsAreCopies(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")

	got, err := m.Users(m.DB()).FindByID(ctx, u.ID)
	require.NoError(t, err)
	got.PasswordHash = "changed"

	again, err := m.Users(m.DB()).FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h", again.PasswordHash)
}

func TestUsers_List(t *testing.T) {
	m := NewRepositoryManager()
	for _, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		createUser(t, m, e)
	}

	page, err := m.Users(m.DB()).List(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b@x.com", page[0].Email)
	assert.Equal(t, "c@x.com", page[1].Email)
}

func TestUsers_UpdateLockoutStateIsCompareAndSet(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	repo := m.Users(m.DB())
	now := time.Now()

	ok, err := repo.UpdateLockoutState(ctx, u.ID, models.LockoutState{}, models.LockoutState{FailedAttempts: 1}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateLockoutState(ctx, u.ID, models.LockoutState{}, models.LockoutState{FailedAttempts: 1}, now)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected state must not win")

	until := now.Add(time.Hour)
	ok, err = repo.UpdateLockoutState(ctx, u.ID, models.LockoutState{FailedAttempts: 1}, models.LockoutState{FailedAttempts: 2, LockedUntil: &until}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := repo.FindByID(ctx, u.ID)
	assert.Equal(t, 2, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(until))

	require.NoError(t, repo.RecordLogin(ctx, u.ID, now))
	got, _ = repo.FindByID(ctx, u.ID)
	assert.Equal(t, 2, got.FailedLoginAttempts, "last_login stamping leaves lockout state alone")
	assert.NotNil(t, got.LockedUntil)
	assert.NotNil(t, got.LastLogin)
}

func TestUsers_PasswordResetSingleUse(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	repo := m.Users(m.DB())
	now := time.Now()

	require.NoError(t, repo.SetPasswordReset(ctx, u.ID, "old", now.Add(time.Hour), now))
	require.NoError(t, repo.SetPasswordReset(ctx, u.ID, "new", now.Add(time.Hour), now))

	_, err := repo.ConsumePasswordReset(ctx, "a@x.com", "old", "h2", now)
	assert.ErrorIs(t, err, common.ErrorNotFound, "superseded digest")

	id, err := repo.ConsumePasswordReset(ctx, "a@x.com", "new", "h2", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = repo.ConsumePasswordReset(ctx, "a@x.com", "new", "h3", now)
	assert.ErrorIs(t, err, common.ErrorNotFound, "second use")

	got, _ := repo.FindByID(ctx, u.ID)
	assert.Equal(t, "h2", got.PasswordHash)
}

func TestUsers_PasswordResetExpired(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	repo := m.Users(m.DB())
	now := time.Now()

	require.NoError(t, repo.SetPasswordReset(ctx, u.ID, "d", now, now))
	_, err := repo.ConsumePasswordReset(ctx, "a@x.com", "d", "h2", now)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRoles_SeededAndAttached(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	repo := m.Roles(m.DB())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, common.RoleAdmin, all[0].Name)
	assert.Equal(t, common.RoleUser, all[1].Name)

	none, err := repo.ForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	require.NoError(t, repo.Attach(ctx, u.ID, common.RoleUser))
	require.NoError(t, repo.Attach(ctx, u.ID, common.RoleUser))
	require.NoError(t, repo.Attach(ctx, u.ID, common.RoleAdmin))

	names, err := repo.ForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{common.RoleAdmin, common.RoleUser}, names)

	require.NoError(t, repo.Detach(ctx, u.ID))
	names, _ = repo.ForUser(ctx, u.ID)
	assert.Empty(t, names)

	_, err = repo.Find(ctx, "auditor")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRefreshTokens_Lifecycle(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	repo := m.RefreshTokens(m.DB())
	now := time.Now()

	_, err := repo.Store(ctx, u.ID, "h1", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = repo.Store(ctx, u.ID, "h2", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = repo.Store(ctx, u.ID, "old", now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = repo.FindActive(ctx, "old", now)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	rec, err := repo.RevokeActive(ctx, "h1", now)
	require.NoError(t, err)
	assert.True(t, rec.IsRevoked)

	_, err = repo.RevokeActive(ctx, "h1", now)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	n, err := repo.RevokeAllForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRefreshTokens_ConcurrentRevokeActiveHasOneWinner(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	u := createUser(t, m, "a@x.com")
	now := time.Now()
	_, err := m.RefreshTokens(m.DB()).Store(ctx, u.ID, "h", now.Add(time.Hour))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.RefreshTokens(m.DB()).RevokeActive(ctx, "h", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := m.Users(tx).Create(ctx, &models.User{Email: "a@x.com"})
		require.NoError(t, err)
		require.NoError(t, m.Roles(tx).Attach(ctx, u.ID, common.RoleUser))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.Users(m.DB()).FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	u := createUser(t, m, "a@x.com")
	assert.Equal(t, int64(1), u.ID, "id sequence rolls back too")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			_, _ = m.Users(tx).Create(ctx, &models.User{Email: "a@x.com"})
			panic("boom")
		})
	})

	_, err := m.Users(m.DB()).FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestWithTx_Commits(t *testing.T) {
	m := NewRepositoryManager()
	ctx := context.Background()

	err := m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := m.Users(tx).Create(ctx, &models.User{Email: "a@x.com"})
		return err
	})
	require.NoError(t, err)

	_, err = m.Users(m.DB()).FindByEmail(ctx, "a@x.com")
	assert.NoError(t, err)
}

func TestWithTx_CanceledContext(t *testing.T) {
	m := NewRepositoryManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.WithTx(ctx, func(context.Context, dbx.DBTX) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
