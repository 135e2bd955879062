// quotebook/utils/mail.go
package utils

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendMailer sends notifications through the Resend API.
type ResendMailer struct {
	Client    *resend.Client
	From      string
	PublicURL string
}

func NewResendMailer(apiKey, from, publicURL string) *ResendMailer {
	return &ResendMailer{Client: resend.NewClient(apiKey), From: from, PublicURL: publicURL}
}

func (m *ResendMailer) SendAccountApproved(_ context.Context, to, username string) error {
	params := &resend.SendEmailRequest{
		From:    m.From,
		To:      []string{to},
		Subject: "Your Quote Book account has been approved",
		Html: fmt.Sprintf(`<p>Hi %s,</p><p>An administrator approved your account. You can now <a href="%s">sign in</a>.</p>`,
			html.EscapeString(username), html.EscapeString(m.PublicURL)),
	}
	if _, err := m.Client.Emails.Send(params); err != nil {
		return fmt.Errorf("failed to send approval email to %s: %w", to, err)
	}
	return nil
}

// LogMailer records notifications in the log instead of sending them. Used when no
// mail provider is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendAccountApproved(_ context.Context, to, username string) error {
	m.Logger.Info("Mail delivery disabled, skipping approval email", "to", to, "username", username)
	return nil
}
