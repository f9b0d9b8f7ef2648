package email

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"campusconnect/marketplace/internal/config"
)

// Message is a fully rendered email. Kind names the template it came from
// and is used to key mock deliveries.
type Message struct {
	To      []string
	Subject string
	Kind    string
	Raw     []byte
}

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// BuildRaw assembles a plain-text RFC 5322 message.
func BuildRaw(from string, to []string, subject, body string, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	from string
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when no SMTP host
// is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		log.Println("SMTP host not configured, using logging email sender.")
		return &LoggingSender{from: cfg.SmtpFromAddress}
	}

	var auth smtp.Auth
	if cfg.SmtpUsername != "" {
		auth = smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	}
	return &SMTPSender{
		from: cfg.SmtpFromAddress,
		auth: auth,
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := smtp.SendMail(s.addr, s.auth, s.from, msg.To, msg.Raw); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	log.Printf("Email sent via SMTP to %v (Subject: %s)", msg.To, msg.Subject)
	return nil
}

// LoggingSender writes emails to the process log instead of sending them.
type LoggingSender struct {
	from string
}

func (s *LoggingSender) Send(ctx context.Context, msg Message) error {
	log.Printf("--- Email (logged) from %s to %v, kind %s ---\n%s\n--- End Email ---", s.from, msg.To, msg.Kind, msg.Raw)
	return nil
}
