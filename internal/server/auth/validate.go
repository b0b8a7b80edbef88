package auth

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/samber/oops"
)

// MinPasswordLength is the shortest password accepted on registration,
// password change and password reset.
const MinPasswordLength = 8

// passwordSpecials is the set counted as "special" by ValidatePassword.
const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

const maxEmailLength = 254

func validationError(field, reason string) error {
	return oops.Code("validation").With("field", field).Wrapf(common.ErrValidation, "%s: %s", field, reason)
}

// NormalizeEmail trims and lower-cases email and checks it is a bare
// address ("a@x.com", not "A <a@x.com>").
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return "", validationError("email", "required")
	}
	if len(e) > maxEmailLength {
		return "", validationError("email", "too long")
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return "", validationError("email", "invalid address")
	}
	at := strings.LastIndex(e, "@")
	if at <= 0 || !strings.Contains(e[at+1:], ".") {
		return "", validationError("email", "invalid address")
	}
	return e, nil
}

// ValidatePassword enforces at least MinPasswordLength characters with an
// upper case letter, a lower case letter, a digit and a special character.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return validationError("password", "must be at least 8 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}

	switch {
	case !upper:
		return validationError("password", "must contain an upper case letter")
	case !lower:
		return validationError("password", "must contain a lower case letter")
	case !digit:
		return validationError("password", "must contain a digit")
	case !special:
		return validationError("password", "must contain a special character")
	}
	return nil
}
