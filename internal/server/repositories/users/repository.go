// Package users provides the credential store for user records.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository is the credential store contract. Every mutation touches
// only the columns it owns so concurrent writers cannot clobber each other.
type Repository interface {
	// Create inserts user and fills ID and timestamps. A taken email
	// yields common.ErrDuplicateEmail.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context, offset, limit int) ([]*models.User, error)

	// UpdateCredentials stores a new password hash and clears lockout
	// state and any pending password reset.
	UpdateCredentials(ctx context.Context, id int64, passwordHash string, now time.Time) error
	// UpdateLockoutState writes next only if the stored state still equals
	// expected. It reports whether the write happened.
	UpdateLockoutState(ctx context.Context, id int64, expected, next models.LockoutState, now time.Time) (bool, error)
	// RecordLogin stamps last_login. Lockout state is cleared separately
	// through UpdateLockoutState.
	RecordLogin(ctx context.Context, id int64, now time.Time) error
	MarkVerified(ctx context.Context, id int64, now time.Time) error
	SetActive(ctx context.Context, id int64, active bool, now time.Time) error

	// SetPasswordReset stores the digest of the latest reset token,
	// superseding any earlier one.
	SetPasswordReset(ctx context.Context, id int64, tokenHash string, expiresAt, now time.Time) error
	// ConsumePasswordReset atomically swaps in passwordHash if email has
	// an unexpired pending reset with tokenHash, clearing the reset and
	// the lockout state. It returns the user id, or common.ErrorNotFound
	// when no such reset is pending.
	ConsumePasswordReset(ctx context.Context, email, tokenHash, passwordHash string, now time.Time) (int64, error)
}
