package mail

import (
	"fmt"
	"net"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/llmready/llmready/internal/pkg/env"
)

// SendMail delivers a single HTML email via SMTP. Delivery problems are
// logged and returned; callers decide whether a lost mail matters.
func SendMail(to, subject, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "1025")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "no-reply@localhost")

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	addr := net.JoinHostPort(host, port)
	if err := smtp.SendMail(addr, auth, sender, []string{to}, msg); err != nil {
		log.Errorf("[Mail] Send to %s via %s failed: %v", to, addr, err)
		return err
	}
	log.Debugf("[Mail] Sent %q to %s", subject, to)
	return nil
}
