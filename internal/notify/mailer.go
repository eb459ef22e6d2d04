package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/cardflow/internal/model"
)

// Mailer sends one batched notification email. Implementations own
// their send timeout.
type Mailer interface {
	SendBundle(
		ctx context.Context,
		to string,
		bundle model.NotificationBundle,
		notifications []model.Notification,
	) error
}

// SMTPMailer submits bundle emails over SMTP with STARTTLS.
type SMTPMailer struct {
	addr     string
	username string
	password string
	from     string
}

// NewSMTPMailer creates a mailer for the given submission endpoint.
func NewSMTPMailer(addr, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		addr:     addr,
		username: username,
		password: password,
		from:     from,
	}
}

// SendBundle composes and submits one summary email for the bundle.
func (m *SMTPMailer) SendBundle(
	ctx context.Context,
	to string,
	bundle model.NotificationBundle,
	notifications []model.Notification,
) error {
	body, err := composeBundleMessage(m.from, to, bundle, notifications)
	if err != nil {
		return err
	}

	client, err := smtp.DialStartTLS(m.addr, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", m.addr, err)
	}
	defer client.Close()

	if m.username != "" {
		auth := sasl.NewPlainClient("", m.username, m.password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating with %s: %w", m.addr, err)
		}
	}

	if err := client.SendMail(m.from, []string{to}, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("sending bundle %s to %s: %w", bundle.ID, to, err)
	}

	return client.Quit()
}

// composeBundleMessage builds the RFC 5322 message summarizing the
// bundle's notifications.
func composeBundleMessage(
	from, to string,
	bundle model.NotificationBundle,
	notifications []model.Notification,
) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(fmt.Sprintf("%d unread notifications", len(notifications)))

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	fmt.Fprintf(w, "You have %d unread notifications from %s to %s.\n\n",
		len(notifications),
		bundle.StartsAt.Format(time.RFC1123),
		bundle.EndsAt.Format(time.RFC1123),
	)
	for _, n := range notifications {
		actor := "someone"
		if n.Actor != nil {
			actor = *n.Actor
		}
		fmt.Fprintf(w, "- %s: %s activity from %s\n",
			n.CreatedAt.Format("15:04"), n.Source, actor,
		)
	}
	io.WriteString(w, "\nVisit your notifications page for details.\n")

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing message: %w", err)
	}

	return buf.Bytes(), nil
}
