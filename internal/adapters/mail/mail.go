// Package mail sends the admin-summary emails the deposit and publication
// pipelines compose after a run. wneessen/go-mail is the only SMTP client
// library available, wired behind a small single-purpose client that
// holds its own configured transport.
package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

type Client struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

func NewClient(host string, port int, user, password, from string) *Client {
	return &Client{host: host, port: port, user: user, password: password, from: from}
}

// Send composes and delivers one plain-text summary email.
func (c *Client) Send(ctx context.Context, to []string, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(c.from); err != nil {
		return fmt.Errorf("mail: set from: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("mail: set recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(c.host,
		gomail.WithPort(c.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(c.user),
		gomail.WithPassword(c.password),
	)
	if err != nil {
		return fmt.Errorf("mail: build client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}
