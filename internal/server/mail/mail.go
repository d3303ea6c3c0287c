// Package mail renders and delivers the verification email. Delivery is a
// Transport (SMTP in production, a writer in development); Mailer turns a
// verification request into a rendered HTML message.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

// Sender is the capability the account workflow depends on.
type Sender interface {
	SendVerificationEmail(ctx context.Context, email, name, code string) error
}

// Transport delivers one HTML message.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

const verificationSubject = "Verify your email address"

var verificationTpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Verify your email</title>
</head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background: #fff; padding: 20px; border-radius: 8px;">
    <h2 style="color: #2E86C1;">Welcome to the Marketplace</h2>
    <p>Hello {{.Name}},</p>
    <p>Use the code below to verify your email address:</p>
    <p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
    <p>The code expires in {{.ValidFor}}. If you did not create an account, ignore this message.</p>
  </div>
</body>
</html>
`))

type verificationData struct {
	Name     string
	Code     string
	ValidFor string
}

// Mailer implements Sender on top of a Transport.
type Mailer struct {
	transport Transport
	validFor  string
}

// NewMailer builds a Mailer; validFor is shown to the recipient, e.g. "24 hours".
func NewMailer(t Transport, validFor string) *Mailer {
	return &Mailer{transport: t, validFor: validFor}
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, email, name, code string) error {
	var body bytes.Buffer
	if err := verificationTpl.Execute(&body, verificationData{Name: name, Code: code, ValidFor: m.validFor}); err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}
	return m.transport.Send(ctx, email, verificationSubject, body.String())
}
