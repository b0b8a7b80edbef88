// Package mail delivers one-time token links to users. Delivery is
// fire-and-forget: callers hand messages to a Dispatcher and never wait.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

// Message is one delivery request. Token is the raw one-time token; Link
// already embeds it.
type Message struct {
	Kind      Kind      `json:"kind"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender is a mail delivery backend.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

func link(baseURL, path, token string) string {
	return strings.TrimRight(baseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// NewEmailVerification builds the verification message for recipient.
func NewEmailVerification(baseURL, recipient, token string, ttl time.Duration) Message {
	l := link(baseURL, "/verify-email", token)
	return Message{
		Kind:      KindEmailVerification,
		Recipient: recipient,
		Subject:   "Verify your email address",
		Body: fmt.Sprintf("Thanks for signing up. Confirm your email address by opening:\n\n%s\n\n"+
			"The link is valid for %s. If you did not create an account, ignore this email.\n", l, ttl),
		Token:     token,
		Link:      l,
		CreatedAt: time.Now().UTC(),
	}
}

// NewPasswordReset builds the password reset message for recipient.
func NewPasswordReset(baseURL, recipient, token string, ttl time.Duration) Message {
	l := link(baseURL, "/reset-password", token)
	return Message{
		Kind:      KindPasswordReset,
		Recipient: recipient,
		Subject:   "Reset your password",
		Body: fmt.Sprintf("A password reset was requested for your account. Choose a new password at:\n\n%s\n\n"+
			"The link is valid for %s. If you did not ask for this, ignore this email.\n", l, ttl),
		Token:     token,
		Link:      l,
		CreatedAt: time.Now().UTC(),
	}
}
