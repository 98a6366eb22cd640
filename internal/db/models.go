package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned (wrapped) when a row does not exist.
var ErrNotFound = errors.New("not found")

// NotificationType determines the payload shape of a notification.
type NotificationType string

const (
	TypeTaskModified    NotificationType = "task_modified"
	TypeCommentMention  NotificationType = "comment_mention"
	TypeSystemAlert     NotificationType = "system_alert"
	TypePaymentReceived NotificationType = "payment_received"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeTaskModified, TypeCommentMention, TypeSystemAlert, TypePaymentReceived:
		return true
	}
	return false
}

// RecipientKind distinguishes internal users from external clients.
type RecipientKind string

const (
	RecipientUser   RecipientKind = "user"
	RecipientClient RecipientKind = "client"
)

// ParseRecipientKind accepts "user" or "client" in any case.
func ParseRecipientKind(s string) (RecipientKind, error) {
	switch RecipientKind(strings.ToLower(strings.TrimSpace(s))) {
	case RecipientUser:
		return RecipientUser, nil
	case RecipientClient:
		return RecipientClient, nil
	}
	return "", fmt.Errorf("unknown recipient type %q", s)
}

// Recipient identifies exactly one user or one client.
type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

func UserRecipient(id string) Recipient   { return Recipient{Kind: RecipientUser, ID: id} }
func ClientRecipient(id string) Recipient { return Recipient{Kind: RecipientClient, ID: id} }

// Key is the realtime routing key, e.g. "user:42".
func (r Recipient) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Recipient) Validate() error {
	if r.Kind != RecipientUser && r.Kind != RecipientClient {
		return fmt.Errorf("unknown recipient type %q", r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("recipient id is required")
	}
	return nil
}

// Notification represents a notification in the database.
// Only Status, UpdatedAt and DeliveredAt change after creation.
type Notification struct {
	ID                uuid.UUID        `json:"id"`
	Type              NotificationType `json:"type"`
	Message           string           `json:"message"`
	Status            Status           `json:"status"`
	Data              json.RawMessage  `json:"data"`
	RecipientUserID   *string          `json:"recipient_user_id,omitempty"`
	RecipientClientID *string          `json:"recipient_client_id,omitempty"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Recipient returns whichever recipient column is set.
func (n *Notification) Recipient() Recipient {
	if n.RecipientUserID != nil {
		return UserRecipient(*n.RecipientUserID)
	}
	if n.RecipientClientID != nil {
		return ClientRecipient(*n.RecipientClientID)
	}
	return Recipient{}
}

// SetRecipient fills exactly one of the recipient columns.
func (n *Notification) SetRecipient(r Recipient) {
	id := r.ID
	n.RecipientUserID, n.RecipientClientID = nil, nil
	if r.Kind == RecipientClient {
		n.RecipientClientID = &id
		return
	}
	n.RecipientUserID = &id
}

// ListFilter narrows a recipient feed query.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// PushSubscription is a browser Web Push endpoint owned by a user.
// Endpoint is unique; re-subscribing the same endpoint replaces the keys.
type PushSubscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OverdueTask is the scanner's read model of a task owned by the task domain.
type OverdueTask struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	DueDate      time.Time `json:"due_date"`
	AssignedToID *string   `json:"assigned_to_id,omitempty"`
}

// UserContact is the addressing data needed by the email channel.
type UserContact struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
