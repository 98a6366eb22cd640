package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lalithlochan/taskbell/internal/db"
)

// ErrValidation wraps every rejected create request.
var ErrValidation = errors.New("validation failed")

// ActorRef identifies who caused a notification.
type ActorRef struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Handle    string `json:"handle,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

// PushContent overrides the push title and body.
type PushContent struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body" validate:"required"`
}

// Task events carried by task_modified notifications.
const (
	TaskEventUpdated       = "updated"
	TaskEventAssigned      = "assigned"
	TaskEventStatusChanged = "status_changed"
	TaskEventOverdue       = "overdue"
)

type TaskModifiedData struct {
	TaskID    string       `json:"task_id" validate:"required"`
	TaskTitle string       `json:"task_title" validate:"required"`
	Event     string       `json:"event" validate:"required,oneof=updated assigned status_changed overdue"`
	Status    string       `json:"status,omitempty"`
	DueDate   *time.Time   `json:"due_date,omitempty"`
	Actor     *ActorRef    `json:"actor,omitempty"`
	Link      string       `json:"link" validate:"required,startswith=/"`
	Push      *PushContent `json:"push,omitempty"`
}

type CommentMentionData struct {
	TaskID    string      `json:"task_id" validate:"required"`
	CommentID string      `json:"comment_id" validate:"required"`
	Preview   string      `json:"preview" validate:"required"`
	Actor     ActorRef    `json:"actor"`
	Link      string      `json:"link" validate:"required,startswith=/"`
	Push      PushContent `json:"push"`
}

type SystemAlertData struct {
	Severity string `json:"severity,omitempty" validate:"omitempty,oneof=info warning critical"`
	Title    string `json:"title,omitempty"`
	Link     string `json:"link,omitempty"`
}

type PaymentReceivedData struct {
	PaymentID string       `json:"payment_id" validate:"required"`
	InvoiceID string       `json:"invoice_id,omitempty"`
	Amount    float64      `json:"amount" validate:"gt=0"`
	Currency  string       `json:"currency" validate:"required,len=3"`
	Link      string       `json:"link,omitempty" validate:"omitempty,startswith=/"`
	Push      *PushContent `json:"push,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePayload checks data against the shape of typ. It returns the
// payload to persist: the input unchanged, or "{}" for an absent optional
// payload.
func ValidatePayload(typ db.NotificationType, data json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	empty := len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))

	var target any
	switch typ {
	case db.TypeTaskModified:
		target = &TaskModifiedData{}
	case db.TypeCommentMention:
		target = &CommentMentionData{}
	case db.TypeSystemAlert:
		if empty {
			return json.RawMessage("{}"), nil
		}
		target = &SystemAlertData{}
	case db.TypePaymentReceived:
		target = &PaymentReceivedData{}
	default:
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, typ)
	}

	if empty {
		return nil, fmt.Errorf("%w: data is required for %s", ErrValidation, typ)
	}

	if err := decodeStrict(trimmed, target); err != nil {
		return nil, fmt.Errorf("%w: data for %s: %v", ErrValidation, typ, err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("%w: data for %s: %s", ErrValidation, typ, describe(err))
	}

	return data, nil
}

// EncodePayload marshals and validates a typed payload in one step.
func EncodePayload(typ db.NotificationType, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return ValidatePayload(typ, raw)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msg := field + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
