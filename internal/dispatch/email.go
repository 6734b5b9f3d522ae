package dispatch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// EmailProvider sends notifications over SMTP. Channel config keys:
// smtp_host, smtp_port, from, to (comma-separated), and optionally
// username/password for authenticated relays.
type EmailProvider struct{}

// NewEmailProvider creates an SMTP provider.
func NewEmailProvider() *EmailProvider {
	return &EmailProvider{}
}

func (p *EmailProvider) Type() monitor.ChannelType {
	return monitor.ChannelEmail
}

func (p *EmailProvider) ValidateConfig(config map[string]interface{}) error {
	for _, key := range []string{"smtp_host", "from", "to"} {
		if _, err := configString(config, key); err != nil {
			return err
		}
	}
	return nil
}

func (p *EmailProvider) Send(ctx context.Context, channel *monitor.Channel, msg Message) error {
	if err := p.ValidateConfig(channel.Config); err != nil {
		return fmt.Errorf("email config invalid: %w", err)
	}

	host, _ := configString(channel.Config, "smtp_host")
	from, _ := configString(channel.Config, "from")
	to, _ := configString(channel.Config, "to")
	port := configStringDefault(channel.Config, "smtp_port", "587")
	recipients := splitRecipients(to)

	var auth smtp.Auth
	if user := configStringDefault(channel.Config, "username", ""); user != "" {
		pass := configStringDefault(channel.Config, "password", "")
		auth = smtp.PlainAuth("", user, pass, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	// net/smtp has no context support; the dispatcher bounds the call with a
	// goroutine watchdog instead.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(host+":"+port, auth, from, recipients, []byte(b.String()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send aborted: %w", ctx.Err())
	}
}

func splitRecipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
