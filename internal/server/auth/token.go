package auth

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Kind discriminates what a token may be used for. A token minted for one
// kind is never accepted as another.
type Kind string

const (
	KindAccess            Kind = "access"
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

func (k Kind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindEmailVerification, KindPasswordReset:
		return true
	}
	return false
}

// MinSecretLength is the shortest HS256 secret accepted at startup.
const MinSecretLength = 32

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// ErrWeakSigningKey is returned by NewTokenCodec when key material is
// missing or too short.
var ErrWeakSigningKey = errors.New("signing key is missing or too weak")

// Claims is the claim set carried by every token. Subject is the user id
// for access and refresh tokens and the email for one-time tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind  Kind     `json:"kind"`
	Roles []string `json:"roles,omitempty"`
}

// Extra carries optional claims for Mint. Roles are only embedded in
// access tokens.
type Extra struct {
	Roles []string
}

// KeyConfig selects and locates signing key material.
type KeyConfig struct {
	Algorithm      string
	Secret         string
	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
}

// TokenCodec signs and verifies typed, expiring claim sets. It is safe for
// concurrent use: key material is read once in NewTokenCodec.
type TokenCodec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	now       func() time.Time
}

// NewTokenCodec resolves key material once. A weak HS256 secret or an
// unreadable RSA key is a startup failure.
func NewTokenCodec(cfg KeyConfig) (*TokenCodec, error) {
	c := &TokenCodec{issuer: cfg.Issuer, now: time.Now}

	switch strings.ToUpper(cfg.Algorithm) {
	case "", AlgHS256:
		if len(cfg.Secret) < MinSecretLength {
			return nil, oops.Code("weak_signing_key").
				With("min_length", MinSecretLength).
				Wrapf(ErrWeakSigningKey, "HS256 secret must be at least %d characters", MinSecretLength)
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = []byte(cfg.Secret)
		c.verifyKey = []byte(cfg.Secret)
	case AlgRS256:
		priv, pub, err := loadRSAKeys(cfg.PrivateKeyPath, cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodRS256
		c.signKey = priv
		c.verifyKey = pub
	default:
		return nil, oops.Code("unsupported_algorithm").With("algorithm", cfg.Algorithm).
			Wrapf(ErrWeakSigningKey, "unsupported signing algorithm %q", cfg.Algorithm)
	}

	return c, nil
}

func loadRSAKeys(privatePath, publicPath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if privatePath == "" {
		return nil, nil, oops.Code("weak_signing_key").Wrapf(ErrWeakSigningKey, "RS256 requires a private key path")
	}
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, nil, oops.Code("weak_signing_key").With("path", privatePath).Wrap(errors.Join(ErrWeakSigningKey, err))
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, nil, oops.Code("weak_signing_key").With("path", privatePath).Wrap(errors.Join(ErrWeakSigningKey, err))
	}
	if priv.N.BitLen() < 2048 {
		return nil, nil, oops.Code("weak_signing_key").With("bits", priv.N.BitLen()).
			Wrapf(ErrWeakSigningKey, "RSA key must be at least 2048 bits")
	}

	if publicPath == "" {
		return priv, &priv.PublicKey, nil
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, nil, oops.Code("weak_signing_key").With("path", publicPath).Wrap(errors.Join(ErrWeakSigningKey, err))
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, nil, oops.Code("weak_signing_key").With("path", publicPath).Wrap(errors.Join(ErrWeakSigningKey, err))
	}
	return priv, pub, nil
}

// Mint signs a claim set {sub, kind, iat, exp=iat+ttl, jti, roles?}.
func (c *TokenCodec) Mint(kind Kind, subject string, extra Extra, ttl time.Duration) (string, error) {
	if !kind.valid() || subject == "" || ttl <= 0 {
		return "", oops.Code("mint_invalid").With("kind", kind).Errorf("cannot mint token: bad kind, subject or ttl")
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Kind: kind,
	}
	if kind == KindAccess {
		claims.Roles = extra.Roles
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return "", oops.Code("sign_failed").Wrap(errors.Join(common.ErrUnavailable, err))
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the claim set. Every
// failure is reported as common.ErrInvalidToken. Callers must still check
// Kind, or use VerifyKind.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, common.ErrInvalidToken
	}
	if !claims.Kind.valid() || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// VerifyKind is Verify plus a hard kind check.
func (c *TokenCodec) VerifyKind(token string, kind Kind) (*Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
