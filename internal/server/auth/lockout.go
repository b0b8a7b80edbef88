package auth

import (
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Default lockout parameters.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutCooldown   = 30 * time.Minute
)

// LockoutState is the per-user failed login bookkeeping.
type LockoutState = models.LockoutState

// LockoutPolicy decides lock transitions. It is pure: persisting the
// resulting state is the caller's job.
type LockoutPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// DefaultLockoutPolicy locks for 30 minutes after 5 consecutive failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxFailedAttempts, Cooldown: DefaultLockoutCooldown}
}

// IsLocked is true iff LockedUntil is set and still in the future.
func (p LockoutPolicy) IsLocked(s LockoutState, now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// OnFailedAttempt counts one more failure and locks the account when the
// threshold is reached. The count survives an expired lock, so once the
// threshold has been hit every further failure locks again until a
// successful login resets it.
func (p LockoutPolicy) OnFailedAttempt(s LockoutState, now time.Time) LockoutState {
	attempts := s.FailedAttempts + 1

	next := LockoutState{FailedAttempts: attempts}
	if attempts >= p.MaxAttempts {
		until := now.Add(p.Cooldown)
		next.LockedUntil = &until
	}
	return next
}

// OnSuccess resets the counter and clears any lock.
func (p LockoutPolicy) OnSuccess(LockoutState) LockoutState {
	return LockoutState{}
}
