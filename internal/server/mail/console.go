package mail

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/logging"
)

// ConsoleSender writes messages to the log. It is meant for development:
// the link it logs is a live credential.
type ConsoleSender struct {
	logger logging.Logger
}

func NewConsoleSender(logger logging.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger.With("backend", "console")}
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info(ctx, "mail", "kind", msg.Kind, "to", msg.Recipient, "subject", msg.Subject, "link", msg.Link)
	return nil
}
