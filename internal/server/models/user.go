// Package models holds the persisted records owned by the repositories and
// the views returned to transport layers.
package models

import "time"

// User is an identity record. ID is assigned by storage and never changes.
// Email is stored normalized (trimmed, lower-cased).
type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	IsActive            bool
	IsVerified          bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	FirstName           string
	LastName            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile carries the optional fields accepted at registration. The
// credential core stores them but never interprets them.
type Profile struct {
	FirstName string
	LastName  string
}

// UserView is the outward representation of a user: no hash, no lockout
// internals, roles resolved to names.
type UserView struct {
	ID         int64
	Email      string
	IsActive   bool
	IsVerified bool
	Roles      []string
	LastLogin  *time.Time
	CreatedAt  time.Time
}

// View builds the outward representation of u with the given role names.
func (u *User) View(roles []string) *UserView {
	if roles == nil {
		roles = []string{}
	}
	return &UserView{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Roles:      roles,
		LastLogin:  u.LastLogin,
		CreatedAt:  u.CreatedAt,
	}
}

// LockoutState is the failed-login bookkeeping of one user.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Lockout returns the user's current lockout state.
func (u *User) Lockout() LockoutState {
	return LockoutState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
}
