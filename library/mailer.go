package library

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Mailer delivers messages to users.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Log logrus.FieldLogger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info(body)
	return nil
}
