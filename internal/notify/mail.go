// Package notify delivers reminder messages over e-mail and Telegram.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sender is the part of *mail.Client the mailer uses.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer sends HTML mail through an SMTP relay, upgrading to TLS when
// the server offers it.
type SMTPMailer struct {
	from   string
	client sender
	logger zerolog.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger zerolog.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return newSMTPMailer(cfg.From, client, logger), nil
}

func newSMTPMailer(from string, client sender, logger zerolog.Logger) *SMTPMailer {
	return &SMTPMailer{
		from:   from,
		client: client,
		logger: logger.With().Str("component", "smtp").Logger(),
	}
}

func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, html string) error {
	if to == "" {
		return fmt.Errorf("send mail: empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("send mail: sender %q: %w", m.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("send mail: recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextHTML, html)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	m.logger.Debug().Str("to", to).Str("subject", subject).Msg("mail sent")
	return nil
}

// LogMailer only logs. Used when no SMTP host is configured.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mail").Logger()}
}

func (m *LogMailer) SendMail(_ context.Context, to, subject, _ string) error {
	m.logger.Info().Str("to", to).Str("subject", subject).Msg("mail delivery disabled, message dropped")
	return nil
}
