// Package common contains shared constants and sentinel errors used across
// GophAuth components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// AuthorizationHeaderName is the alternative metadata key carrying
// "Bearer <token>".
const AuthorizationHeaderName = "authorization"

// Role names seeded by the initial migration.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// TokenType is reported to clients alongside every issued token pair.
const TokenType = "bearer"
