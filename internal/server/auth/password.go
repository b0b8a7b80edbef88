// Package auth holds the credential primitives: password hashing, the
// typed token codec, the lockout policy and input validation. Nothing here
// performs I/O beyond reading key files at construction.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	// Hash returns a self-describing salted hash of plaintext.
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches hash. A malformed hash is
	// a mismatch, not an error.
	Verify(plaintext, hash string) bool
	// DummyHash returns a valid hash of an unguessable secret, used to
	// spend the same time on unknown users as on real ones.
	DummyHash() string
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params follow the OWASP argon2id recommendation.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Argon2idHasher implements PasswordHasher with argon2id and the PHC
// string format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
type Argon2idHasher struct {
	params Argon2Params
	dummy  string
}

// NewArgon2idHasher returns a hasher using DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return NewArgon2idHasherWithParams(DefaultArgon2Params)
}

// NewArgon2idHasherWithParams returns a hasher with explicit cost parameters.
// The dummy hash is computed here so the first unknown-user login costs the
// same as every later one.
func NewArgon2idHasherWithParams(p Argon2Params) *Argon2idHasher {
	h := &Argon2idHasher{params: p}

	secret, err := common.MakeRandHexString(32)
	if err != nil {
		secret = "dummy-password-never-matches"
	}
	h.dummy, _ = h.Hash(secret)
	return h
}

func (h *Argon2idHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", oops.Code("validation").With("field", "password").Wrapf(common.ErrValidation, "password cannot be empty")
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("salt_failed").Wrap(err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(plaintext, hash string) bool {
	p, salt, want, ok := decodeArgon2id(hash)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h *Argon2idHasher) DummyHash() string {
	return h.dummy
}

func decodeArgon2id(encoded string) (Argon2Params, []byte, []byte, bool) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, false
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &threads); err != nil {
		return p, nil, nil, false
	}
	if threads == 0 || threads > 255 || p.Time == 0 || p.Memory == 0 {
		return p, nil, nil, false
	}
	p.Threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > 1024 {
		return p, nil, nil, false
	}

	return p, salt, key, true
}
