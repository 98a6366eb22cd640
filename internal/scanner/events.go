package scanner

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one message on a pass's event stream. Field names are camelCase
// to match what scan consumers already parse.
type Event struct {
	Kind                 EventKind `json:"kind"`
	PassID               string    `json:"passId"`
	Progress             string    `json:"progress"`
	TotalCandidates      int       `json:"totalCandidates"`
	TasksProcessed       int       `json:"tasksProcessed"`
	NotificationsCreated int       `json:"notificationsCreated"`
	NotificationsFailed  int       `json:"notificationsFailed"`
	Error                string    `json:"error,omitempty"`
	At                   time.Time `json:"at"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

func (t tally) event(passID string, kind EventKind, errMsg string, at time.Time) Event {
	return Event{
		Kind:                 kind,
		PassID:               passID,
		Progress:             fmt.Sprintf("%d/%d", t.tasks, t.total),
		TotalCandidates:      t.total,
		TasksProcessed:       t.tasks,
		NotificationsCreated: t.created,
		NotificationsFailed:  t.failures,
		Error:                errMsg,
		At:                   at.UTC(),
	}
}
