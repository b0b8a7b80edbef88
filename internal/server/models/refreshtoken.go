package models

import "time"

// RefreshToken is one issued refresh credential. Only the SHA-256 digest of
// the token is kept; the raw value exists solely in the client's hands.
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	IsRevoked bool
}

// Active reports whether the record can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}
