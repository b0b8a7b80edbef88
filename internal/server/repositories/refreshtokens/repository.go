package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository is the refresh token ledger. It only ever sees token digests.
type Repository interface {
	Store(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error)
	// FindActive returns the unrevoked, unexpired record for tokenHash or
	// common.ErrorNotFound.
	FindActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	// RevokeActive revokes the record for tokenHash if it is still active
	// and returns it. Exactly one of several concurrent callers wins; the
	// rest get common.ErrorNotFound.
	RevokeActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id int64) error
	// RevokeAllForUser revokes every unrevoked record of userID and
	// returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	// DeleteExpired removes records that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
