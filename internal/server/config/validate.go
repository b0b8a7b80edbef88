package config

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// MinSecretLength mirrors the signing key floor enforced by the token codec.
const MinSecretLength = 32

func invalid(field, format string, args ...any) error {
	return oops.Code("config_invalid").With("field", field).Wrapf(ErrInvalidConfig, format, args...)
}

// Validate reports the first setting that would make the server unsafe or
// unable to start.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.SigningAlgorithm) {
	case "", "HS256":
		if len(c.SecretKey) < MinSecretLength {
			return invalid("secret_key", "secret key must be at least %d characters", MinSecretLength)
		}
	case "RS256":
		if c.PrivateKeyPath == "" {
			return invalid("private_key_path", "RS256 requires a private key path")
		}
	default:
		return invalid("signing_algorithm", "unsupported signing algorithm %q", c.SigningAlgorithm)
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"access_token_ttl", c.AccessTokenTTL},
		{"refresh_token_ttl", c.RefreshTokenTTL},
		{"email_verification_ttl", c.EmailVerificationTTL},
		{"password_reset_ttl", c.PasswordResetTTL},
		{"lockout_cooldown", c.LockoutCooldown},
		{"request_timeout", c.RequestTimeout},
		{"prune_interval", c.PruneInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return invalid(d.field, "%s must be positive", d.field)
		}
	}

	if c.MaxFailedAttempts <= 0 {
		return invalid("max_failed_attempts", "max_failed_attempts must be positive")
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}

	switch c.MailBackend {
	case MailConsole:
	case MailFile:
		if c.MailFilePath == "" {
			return invalid("mail_file_path", "file mail backend requires a path")
		}
	case MailSMTP:
		if c.SMTPHost == "" || c.SMTPPort <= 0 {
			return invalid("smtp_host", "smtp mail backend requires host and port")
		}
	case MailAMQP:
		if c.AMQPURL == "" || c.AMQPQueue == "" {
			return invalid("amqp_url", "amqp mail backend requires url and queue")
		}
	case MailS3:
		if c.S3Bucket == "" {
			return invalid("s3_bucket", "s3 mail backend requires a bucket")
		}
	default:
		return invalid("mail_backend", "unknown mail backend %q", c.MailBackend)
	}

	return nil
}

// ValidateStorage checks only the storage settings. Offline tools that
// never sign tokens or send mail use it instead of Validate.
func (c *Config) ValidateStorage() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			return invalid("database_dsn", "postgres storage requires a DSN")
		}
	case StorageMemory:
	default:
		return invalid("storage", "unknown storage driver %q", c.Storage)
	}
	return nil
}
