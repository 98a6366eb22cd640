// Package channel holds the delivery channels a notification is fanned out
// to after it has been persisted. Channels report a typed Result instead of
// returning errors; nothing a channel does can fail the create call.
package channel

import (
	"context"
	"encoding/json"

	"github.com/lalithlochan/taskbell/internal/db"
)

// Channel names.
const (
	NameFeed     = "feed"
	NamePush     = "push"
	NameRealtime = "realtime"
	NameTopic    = "topic"
	NameEmail    = "email"
)

// Channel delivers an already persisted notification.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, notif *db.Notification) Result
}

// Outcome is the closed set of delivery results.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result is what one channel did with one notification.
type Result struct {
	Channel string  `json:"channel"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Err     error   `json:"-"`
}

func Ok(channel string) Result {
	return Result{Channel: channel, Outcome: OutcomeDelivered}
}

func Skip(channel, reason string) Result {
	return Result{Channel: channel, Outcome: OutcomeSkipped, Reason: reason}
}

func Fail(channel string, err error) Result {
	return Result{Channel: channel, Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// Delivered reports whether the channel handed the notification off.
func (r Result) Delivered() bool {
	return r.Outcome == OutcomeDelivered
}

// view is the subset of a notification payload channels render from.
// Every payload type may carry these keys; missing ones stay empty.
type view struct {
	Link  string `json:"link"`
	Actor *struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"actor"`
	Push *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"push"`
	Title string `json:"title"`
}

func payloadView(notif *db.Notification) view {
	var v view
	if len(notif.Data) > 0 {
		_ = json.Unmarshal(notif.Data, &v)
	}
	return v
}

// headline returns the short title used by push and email.
func (v view) headline(notif *db.Notification) string {
	switch {
	case v.Push != nil && v.Push.Title != "":
		return v.Push.Title
	case v.Title != "":
		return v.Title
	}
	return titles[notif.Type]
}

// body returns the push/email body, falling back to the message.
func (v view) body(notif *db.Notification) string {
	if v.Push != nil && v.Push.Body != "" {
		return v.Push.Body
	}
	return notif.Message
}

var titles = map[db.NotificationType]string{
	db.TypeTaskModified:    "Task updated",
	db.TypeCommentMention:  "New mention",
	db.TypeSystemAlert:     "System alert",
	db.TypePaymentReceived: "Payment received",
}
