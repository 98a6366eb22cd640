package channel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/ses"
)

// EmailSender is implemented by ses.Sender.
type EmailSender interface {
	Send(ctx context.Context, email ses.Email) (string, error)
}

// ContactDirectory resolves a user's email address.
type ContactDirectory interface {
	FindUserContact(ctx context.Context, userID string) (*db.UserContact, error)
}

// Email mails user recipients for a configured subset of types.
type Email struct {
	sender    EmailSender
	directory ContactDirectory
	types     map[db.NotificationType]bool
	logger    *zap.Logger
}

func NewEmail(sender EmailSender, directory ContactDirectory, types []string, logger *zap.Logger) *Email {
	enabled := make(map[db.NotificationType]bool, len(types))
	for _, t := range types {
		enabled[db.NotificationType(t)] = true
	}
	return &Email{sender: sender, directory: directory, types: enabled, logger: logger}
}

func (*Email) Name() string { return NameEmail }

func (c *Email) Deliver(ctx context.Context, notif *db.Notification) Result {
	if !c.types[notif.Type] {
		return Skip(NameEmail, "type not emailed")
	}
	recipient := notif.Recipient()
	if recipient.Kind != db.RecipientUser {
		return Skip(NameEmail, "email targets users only")
	}

	contact, err := c.directory.FindUserContact(ctx, recipient.ID)
	if errors.Is(err, db.ErrNotFound) {
		return Skip(NameEmail, "unknown user")
	}
	if err != nil {
		return Fail(NameEmail, fmt.Errorf("loading contact: %w", err))
	}
	if contact.Email == "" {
		return Skip(NameEmail, "no email address")
	}

	v := payloadView(notif)
	body := notif.Message
	if v.Link != "" {
		body += "\n\n" + v.Link
	}

	if _, err := c.sender.Send(ctx, ses.Email{
		To:      contact.Email,
		Subject: v.headline(notif),
		Body:    body,
	}); err != nil {
		return Fail(NameEmail, err)
	}
	return Ok(NameEmail)
}
