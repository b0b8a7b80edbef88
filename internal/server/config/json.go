package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
	"github.com/dmitrijs2005/gophauth/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "30m" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	MetricsAddr      string `json:"metrics_addr"`
	DatabaseDSN      string `json:"database_dsn"`
	Storage          string `json:"storage"`
	LogFormat        string `json:"log_format"`
	OTLPEndpoint     string `json:"otlp_endpoint"`

	SecretKey        string `json:"secret_key"`
	SigningAlgorithm string `json:"signing_algorithm"`
	PrivateKeyPath   string `json:"private_key_path"`
	PublicKeyPath    string `json:"public_key_path"`
	TokenIssuer      string `json:"token_issuer"`

	AccessTokenTTL       timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL      timex.Duration `json:"refresh_token_ttl"`
	EmailVerificationTTL timex.Duration `json:"email_verification_ttl"`
	PasswordResetTTL     timex.Duration `json:"password_reset_ttl"`

	MaxFailedAttempts     int            `json:"max_failed_attempts"`
	LockoutCooldown       timex.Duration `json:"lockout_cooldown"`
	RequestTimeout        timex.Duration `json:"request_timeout"`
	PruneInterval         timex.Duration `json:"prune_interval"`
	SkipEmailVerification bool           `json:"skip_email_verification"`

	BaseURL      string `json:"base_url"`
	MailBackend  string `json:"mail_backend"`
	MailFilePath string `json:"mail_file_path"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`
	AMQPURL      string `json:"amqp_url"`
	AMQPQueue    string `json:"amqp_queue"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:      c.EndpointAddrGRPC,
		MetricsAddr:           c.MetricsAddr,
		DatabaseDSN:           c.DatabaseDSN,
		Storage:               c.Storage,
		LogFormat:             c.LogFormat,
		OTLPEndpoint:          c.OTLPEndpoint,
		SecretKey:             c.SecretKey,
		SigningAlgorithm:      c.SigningAlgorithm,
		PrivateKeyPath:        c.PrivateKeyPath,
		PublicKeyPath:         c.PublicKeyPath,
		TokenIssuer:           c.TokenIssuer,
		AccessTokenTTL:        timex.Duration{Duration: c.AccessTokenTTL},
		RefreshTokenTTL:       timex.Duration{Duration: c.RefreshTokenTTL},
		EmailVerificationTTL:  timex.Duration{Duration: c.EmailVerificationTTL},
		PasswordResetTTL:      timex.Duration{Duration: c.PasswordResetTTL},
		MaxFailedAttempts:     c.MaxFailedAttempts,
		LockoutCooldown:       timex.Duration{Duration: c.LockoutCooldown},
		RequestTimeout:        timex.Duration{Duration: c.RequestTimeout},
		PruneInterval:         timex.Duration{Duration: c.PruneInterval},
		SkipEmailVerification: c.SkipEmailVerification,
		BaseURL:               c.BaseURL,
		MailBackend:           c.MailBackend,
		MailFilePath:          c.MailFilePath,
		SMTPHost:              c.SMTPHost,
		SMTPPort:              c.SMTPPort,
		SMTPUser:              c.SMTPUser,
		SMTPPassword:          c.SMTPPassword,
		SMTPFrom:              c.SMTPFrom,
		AMQPURL:               c.AMQPURL,
		AMQPQueue:             c.AMQPQueue,
		S3AccessKey:           c.S3AccessKey,
		S3SecretKey:           c.S3SecretKey,
		S3Bucket:              c.S3Bucket,
		S3Region:              c.S3Region,
		S3BaseEndpoint:        c.S3BaseEndpoint,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.MetricsAddr = j.MetricsAddr
	c.DatabaseDSN = j.DatabaseDSN
	c.Storage = j.Storage
	c.LogFormat = j.LogFormat
	c.OTLPEndpoint = j.OTLPEndpoint
	c.SecretKey = j.SecretKey
	c.SigningAlgorithm = j.SigningAlgorithm
	c.PrivateKeyPath = j.PrivateKeyPath
	c.PublicKeyPath = j.PublicKeyPath
	c.TokenIssuer = j.TokenIssuer
	c.AccessTokenTTL = j.AccessTokenTTL.Duration
	c.RefreshTokenTTL = j.RefreshTokenTTL.Duration
	c.EmailVerificationTTL = j.EmailVerificationTTL.Duration
	c.PasswordResetTTL = j.PasswordResetTTL.Duration
	c.MaxFailedAttempts = j.MaxFailedAttempts
	c.LockoutCooldown = j.LockoutCooldown.Duration
	c.RequestTimeout = j.RequestTimeout.Duration
	c.PruneInterval = j.PruneInterval.Duration
	c.SkipEmailVerification = j.SkipEmailVerification
	c.BaseURL = j.BaseURL
	c.MailBackend = j.MailBackend
	c.MailFilePath = j.MailFilePath
	c.SMTPHost = j.SMTPHost
	c.SMTPPort = j.SMTPPort
	c.SMTPUser = j.SMTPUser
	c.SMTPPassword = j.SMTPPassword
	c.SMTPFrom = j.SMTPFrom
	c.AMQPURL = j.AMQPURL
	c.AMQPQueue = j.AMQPQueue
	c.S3AccessKey = j.S3AccessKey
	c.S3SecretKey = j.S3SecretKey
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
}

// parseJson overlays the file named by -c / -config onto config. Keys that
// are absent from the file keep their current value. Without the flag
// nothing is loaded.
func parseJson(config *Config) error {
	return parseJsonFile(config, flagx.JsonConfigFlags())
}

// parseJsonFile overlays the JSON file at jsonConfigFile onto config. An
// empty path is a no-op.
func parseJsonFile(config *Config, jsonConfigFile string) error {
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", jsonConfigFile, err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", jsonConfigFile, err)
	}
	c.apply(config)

	return nil
}
