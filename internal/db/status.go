package db

import (
	"errors"
	"fmt"
)

// Status is the read-state of a notification.
//
//	unread -> read -> archived
//
// There are no back edges and no skips.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// ErrInvalidTransition is returned when a status change is not in the table.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status]Status{
	StatusUnread: StatusRead,
	StatusRead:   StatusArchived,
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether next directly follows s.
func (s Status) CanTransitionTo(next Status) bool {
	to, ok := transitions[s]
	return ok && to == next
}

// Next returns the single successor of s, if any.
func (s Status) Next() (Status, bool) {
	to, ok := transitions[s]
	return to, ok
}
