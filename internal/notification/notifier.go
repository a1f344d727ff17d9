package notification

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// EmailNotifier sends HTML digests over SMTP.
type EmailNotifier struct {
	cfg        config.SMTPConfig
	auth       smtp.Auth
	recipients []string
	send       func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is not configured")
	}
	recipients := splitRecipients(cfg.To)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("smtp recipients are not configured")
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		// PlainAuth will not send credentials until the server identifies itself as a trusted one.
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth, recipients: recipients, send: smtp.SendMail}, nil
}

func splitRecipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Send sends an email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, n.auth, n.cfg.From, n.recipients, n.message(subject, body, time.Now())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (n *EmailNotifier) message(subject, body string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("To: " + strings.Join(n.recipients, ", ") + "\r\n")
	b.WriteString("From: " + n.cfg.From + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// LogNotifier writes notifications to the process log. It is used when no
// SMTP server is configured.
type LogNotifier struct{}

func (LogNotifier) Send(subject, body string) error {
	log.Printf("NOTIFY: %s (%d bytes)", subject, len(body))
	return nil
}

// New returns an EmailNotifier when SMTP is configured and a LogNotifier otherwise.
func New(cfg config.SMTPConfig) model.Notifier {
	if cfg.Host == "" {
		return LogNotifier{}
	}
	n, err := NewEmailNotifier(cfg)
	if err != nil {
		log.Printf("Email notifications disabled: %v", err)
		return LogNotifier{}
	}
	return n
}
