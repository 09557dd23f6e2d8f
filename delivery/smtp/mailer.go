// Package smtp holds an authority.Mailer that delivers over SMTP with
// gomail. Messages embed a frontend link built from the purpose token, so
// the frontend route layout lives here and nowhere else.
package smtp

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/kipdev/authority"
)

// Config carries the SMTP endpoint and the frontend base used to build
// clickable links (no trailing slash).
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
}

// Mailer implements authority.Mailer.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	base   string
}

// New builds a mailer. Dialing happens per send.
func New(cfg Config) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		base:   cfg.BaseURL,
	}
}

func (m *Mailer) SendAccountValidation(ctx context.Context, account *authority.Account, tok authority.PurposeToken) error {
	link := fmt.Sprintf("%s/validate-account/%s", m.base, tok.Value)
	body := fmt.Sprintf(`
		<p>Hello %s %s,</p>
		<p>Thank you for signing up.</p>
		<p>To start using your account, validate it with the link below.<br/>
		The link is valid until %s.</p>
		<p><a href="%s">Validate my account</a></p>
		<p>If you did not request this, you can ignore this email.</p>
	`, account.FirstName, account.LastName, expiryDate(tok.ExpiresAt), link)

	subject := fmt.Sprintf("%s, welcome!", account.FirstName)
	return m.send(ctx, account.Email, subject, body)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, account *authority.Account, tok authority.PurposeToken) error {
	link := fmt.Sprintf("%s/reset-password/%s", m.base, tok.Value)
	body := fmt.Sprintf(`
		<p>Hello %s %s,</p>
		<p>You asked to reset your password.</p>
		<p>The link is valid until %s.</p>
		<p><a href="%s">Reset my password</a></p>
		<p>If you did not request this, you can ignore this email.</p>
	`, account.FirstName, account.LastName, expiryDate(tok.ExpiresAt), link)

	subject := fmt.Sprintf("%s, reset your password", account.FirstName)
	return m.send(ctx, account.Email, subject, body)
}

func (m *Mailer) SendPasswordChanged(ctx context.Context, account *authority.Account) error {
	body := fmt.Sprintf(`
		<p>Hello %s %s,</p>
		<p>Your password was changed.</p>
		<p>If you did not make this change, contact support immediately.</p>
		<p><a href="%s/login">Sign in</a></p>
	`, account.FirstName, account.LastName, m.base)

	subject := fmt.Sprintf("%s, your password was changed", account.FirstName)
	return m.send(ctx, account.Email, subject, body)
}

// send delivers one message. gomail has no context support, so cancellation
// is checked before dialing and the dial itself runs to completion.
func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func expiryDate(t time.Time) string {
	return t.Format("Monday 02 January 2006 at 15:04")
}
