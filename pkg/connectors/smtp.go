package connectors

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SendMailFunc has the signature of smtp.SendMail.
type SendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends plain text email. Credentials carry "host", "port", "username", "password" and an
// optional default "from".
type SMTP struct {
	send SendMailFunc
}

func NewSMTP() *SMTP {
	return &SMTP{send: smtp.SendMail}
}

// NewSMTPWithSender creates an SMTP connector that delivers through send.
func NewSMTPWithSender(send SendMailFunc) *SMTP {
	return &SMTP{send: send}
}

func (s *SMTP) Type() string { return "smtp" }

func (s *SMTP) Actions() []string { return []string{"send_email"} }

func (s *SMTP) Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error) {
	if err := checkAction(s, action); err != nil {
		return nil, err
	}

	host, err := requireSecret(secrets, "host")
	if err != nil {
		return nil, err
	}

	port := secrets["port"]
	if port == "" {
		port = "587"
	}

	to := stringList(params["to"])
	if len(to) == 0 {
		return nil, fmt.Errorf("%w: to", ErrMissingParam)
	}

	subject, err := requireParam(params, "subject")
	if err != nil {
		return nil, err
	}

	from := stringParam(params, "from")
	if from == "" {
		from = secrets["from"]
	}

	if from == "" {
		from = secrets["username"]
	}

	if from == "" {
		return nil, fmt.Errorf("%w: from", ErrMissingParam)
	}

	var auth smtp.Auth
	if secrets["username"] != "" {
		auth = smtp.PlainAuth("", secrets["username"], secrets["password"], host)
	}

	message := buildMessage(from, to, subject, stringParam(params, "body"))

	done := make(chan error, 1)

	go func() {
		done <- s.send(net.JoinHostPort(host, port), auth, from, to, message)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send: %w", err)
		}
	}

	return map[string]any{"sent": true, "recipients": to}, nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(b.String())
}
