package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

type tokenRepo struct {
	s  *store
	db dbx.DBTX
}

func (r *tokenRepo) Store(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
	defer r.s.lock(r.db)()

	if _, ok := r.s.users[userID]; !ok {
		return nil, common.ErrorNotFound
	}
	if _, dup := r.s.tokenIndex[tokenHash]; dup {
		return nil, common.ErrorInternal
	}

	r.s.nextTokenID++
	t := &models.RefreshToken{
		ID:        r.s.nextTokenID,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	r.s.tokens[t.ID] = t
	r.s.tokenIndex[tokenHash] = t.ID

	cp := *t
	return &cp, nil
}

func (r *tokenRepo) active(tokenHash string, now time.Time) (*models.RefreshToken, bool) {
	id, ok := r.s.tokenIndex[tokenHash]
	if !ok {
		return nil, false
	}
	t := r.s.tokens[id]
	return t, t.Active(now)
}

func (r *tokenRepo) FindActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	defer r.s.lock(r.db)()

	t, ok := r.active(tokenHash, now)
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *tokenRepo) RevokeActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	defer r.s.lock(r.db)()

	t, ok := r.active(tokenHash, now)
	if !ok {
		return nil, common.ErrorNotFound
	}
	t.IsRevoked = true
	cp := *t
	return &cp, nil
}

func (r *tokenRepo) Revoke(ctx context.Context, id int64) error {
	defer r.s.lock(r.db)()

	if t, ok := r.s.tokens[id]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (r *tokenRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	defer r.s.lock(r.db)()

	var n int64
	for _, t := range r.s.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	defer r.s.lock(r.db)()

	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.s.tokens, id)
			delete(r.s.tokenIndex, t.TokenHash)
			n++
		}
	}
	return n, nil
}
