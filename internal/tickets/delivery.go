package tickets

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"evently-core/pkg/logger"
)

// EmailProvider sends the "your tickets are ready" notification. A nil
// provider disables the send_email job kind entirely (§4.4 "absent
// disables sub-jobs").
type EmailProvider interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSProvider is the SMS analogue of EmailProvider.
type SMSProvider interface {
	Send(ctx context.Context, to, message string) error
}

// SMTPConfig configures the stdlib SMTP email provider.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

type smtpEmailProvider struct {
	config SMTPConfig
}

func NewSMTPEmailProvider(config SMTPConfig) EmailProvider {
	return &smtpEmailProvider{config: config}
}

func (p *smtpEmailProvider) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", p.config.Host, p.config.Port)
	auth := smtp.PlainAuth("", p.config.Username, p.config.Password, p.config.Host)

	message := p.buildMessage(to, subject, body)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: p.config.Host})
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, p.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client init failed: %w", err)
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(p.config.FromEmail); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.Write(message)
	return err
}

func (p *smtpEmailProvider) buildMessage(to, subject, body string) []byte {
	from := fmt.Sprintf("%s <%s>", p.config.FromName, p.config.FromEmail)
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n",
		from, to, subject, body,
	))
}

// loggingSMSProvider stands in for a real SMS gateway integration until
// one is contracted; it records the send and reports success.
type loggingSMSProvider struct {
	log *logger.Logger
}

func NewLoggingSMSProvider(log *logger.Logger) SMSProvider {
	return &loggingSMSProvider{log: log}
}

func (p *loggingSMSProvider) Send(ctx context.Context, to, message string) error {
	p.log.InfoWithContext(ctx, "sms provider: message accepted", map[string]interface{}{
		"to": to,
	})
	return nil
}
