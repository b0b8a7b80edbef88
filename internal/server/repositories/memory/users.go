package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

type userRepo struct {
	s  *store
	db dbx.DBTX
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *userRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	defer r.s.lock(r.db)()

	if _, taken := r.s.emails[user.Email]; taken {
		return nil, common.ErrDuplicateEmail
	}

	now := time.Now().UTC()
	r.s.nextUserID++
	user.ID = r.s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now

	r.s.users[user.ID] = &userRow{user: *cloneUser(user)}
	r.s.emails[user.Email] = user.ID
	return user, nil
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.lock(r.db)()

	id, ok := r.s.emails[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneUser(&r.s.users[id].user), nil
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	defer r.s.lock(r.db)()

	row, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneUser(&row.user), nil
}

func (r *userRepo) List(ctx context.Context, offset, limit int) ([]*models.User, error) {
	defer r.s.lock(r.db)()

	ids := make([]int64, 0, len(r.s.users))
	for id := range r.s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []*models.User{}
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, cloneUser(&r.s.users[ids[i]].user))
	}
	return out, nil
}

// update applies fn to the row of id under the store lock.
func (r *userRepo) update(id int64, now time.Time, fn func(row *userRow)) error {
	defer r.s.lock(r.db)()

	row, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(row)
	row.user.UpdatedAt = now
	return nil
}

func (r *userRepo) UpdateCredentials(ctx context.Context, id int64, passwordHash string, now time.Time) error {
	return r.update(id, now, func(row *userRow) {
		row.user.PasswordHash = passwordHash
		row.user.FailedLoginAttempts = 0
		row.user.LockedUntil = nil
		row.resetHash = ""
		row.resetUntil = nil
	})
}

func (r *userRepo) UpdateLockoutState(ctx context.Context, id int64, expected, next models.LockoutState, now time.Time) (bool, error) {
	defer r.s.lock(r.db)()

	row, ok := r.s.users[id]
	if !ok {
		return false, nil
	}
	if row.user.FailedLoginAttempts != expected.FailedAttempts || !sameTime(row.user.LockedUntil, expected.LockedUntil) {
		return false, nil
	}
	row.user.FailedLoginAttempts = next.FailedAttempts
	row.user.LockedUntil = nil
	if next.LockedUntil != nil {
		t := *next.LockedUntil
		row.user.LockedUntil = &t
	}
	row.user.UpdatedAt = now
	return true, nil
}

func (r *userRepo) RecordLogin(ctx context.Context, id int64, now time.Time) error {
	return r.update(id, now, func(row *userRow) {
		t := now
		row.user.LastLogin = &t
	})
}

func (r *userRepo) MarkVerified(ctx context.Context, id int64, now time.Time) error {
	return r.update(id, now, func(row *userRow) {
		row.user.IsVerified = true
	})
}

func (r *userRepo) SetActive(ctx context.Context, id int64, active bool, now time.Time) error {
	return r.update(id, now, func(row *userRow) {
		row.user.IsActive = active
	})
}

func (r *userRepo) SetPasswordReset(ctx context.Context, id int64, tokenHash string, expiresAt, now time.Time) error {
	return r.update(id, now, func(row *userRow) {
		row.resetHash = tokenHash
		t := expiresAt
		row.resetUntil = &t
	})
}

func (r *userRepo) ConsumePasswordReset(ctx context.Context, email, tokenHash, passwordHash string, now time.Time) (int64, error) {
	defer r.s.lock(r.db)()

	id, ok := r.s.emails[email]
	if !ok {
		return 0, common.ErrorNotFound
	}
	row := r.s.users[id]
	if row.resetHash == "" || row.resetHash != tokenHash || row.resetUntil == nil || !row.resetUntil.After(now) {
		return 0, common.ErrorNotFound
	}

	row.user.PasswordHash = passwordHash
	row.user.FailedLoginAttempts = 0
	row.user.LockedUntil = nil
	row.user.UpdatedAt = now
	row.resetHash = ""
	row.resetUntil = nil
	return id, nil
}
