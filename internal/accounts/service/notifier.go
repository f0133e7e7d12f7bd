package service

import (
	"context"
	"log/slog"
)

// Notifier is the outbound message channel for one-time codes, reset tokens
// and account notices. Delivery transport (SMTP, SMS, anything that can carry
// a string to an address) is the hosting application's concern; the flows
// only need a definite success/failure outcome within their dispatch timeout.
type Notifier interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

// LogNotifier writes deliveries to the log instead of sending them. It is
// the development default wired by the app package; production hosts must
// supply a real channel.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, to string, subject string, body string) error {
	n.Logger.Info("notification dispatched",
		"to", to,
		"subject", subject,
		"body_len", len(body),
	)
	return nil
}
