package litestore

import (
	"fmt"
	"time"
)

// Fixed-width UTC text keeps lexical order equal to time order, which the
// due-date and feed queries rely on.
const timeLayout = "2006-01-02 15:04:05.000000000-07:00"

var parseLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullTime scans DATETIME columns whether the driver hands back text or
// an already parsed time.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("parsing time %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
