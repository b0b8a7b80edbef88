// Package services contains the credential lifecycle logic: sessions
// (register, login, refresh, logout, password change), one-time flows
// (email verification, password reset) and the admin surface.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/timex"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeSuccess            = "success"
	OutcomeValidation         = "validation"
	OutcomeDuplicate          = "duplicate_email"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeNotFound           = "not_found"
	OutcomeUnavailable        = "unavailable"
	OutcomeError              = "error"
)

// Recorder receives one outcome per service operation.
type Recorder interface {
	Outcome(op, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(string, string) {}

// OutcomeOf classifies err into one of the Outcome labels.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, common.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, common.ErrDuplicateEmail):
		return OutcomeDuplicate
	case errors.Is(err, common.ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	case errors.Is(err, common.ErrAccountLocked):
		return OutcomeLocked
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrInvalidOrExpiredToken):
		return OutcomeInvalidToken
	case errors.Is(err, common.ErrorNotFound):
		return OutcomeNotFound
	case errors.Is(err, common.ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

type options struct {
	now      timex.Clock
	recorder Recorder
	timeout  time.Duration
}

// Option customizes a service.
type Option func(*options)

// WithClock replaces the wall clock used for lockout and expiry decisions.
func WithClock(c timex.Clock) Option {
	return func(o *options) { o.now = c }
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTimeout bounds every service call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{now: timex.UTCNow, recorder: nopRecorder{}, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// unavailable maps deadline and cancellation failures to
// common.ErrUnavailable and leaves everything else untouched.
func unavailable(err error) error {
	if err == nil || errors.Is(err, common.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return err
}
