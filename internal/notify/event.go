package notify

import (
	"fmt"
	"strings"
	"time"
)

// Detail is one key/value pair attached to an Event. Details keep the
// order they were published in.
type Detail struct {
	Key   string
	Value any
}

// D builds a Detail.
func D(key string, value any) Detail { return Detail{Key: key, Value: value} }

// Event is a single published notification.
//
// Events are built per Publish call and handed to each subscriber by value
// with a private copy of Details.
type Event struct {
	Level   Level
	Message string
	Details []Detail
	Time    time.Time
}

// Value returns the first detail with the given key.
func (e Event) Value(key string) (any, bool) {
	for _, d := range e.Details {
		if d.Key == key {
			return d.Value, true
		}
	}
	return nil, false
}

// String renders the event with Render.
func (e Event) String() string { return Render(e) }

const renderTimeFormat = "2006-01-02 15:04:05.999999"

// Render returns the human-readable form of an event:
//
//	Level: EVENT; Message: "Action completed."; Details: a: 1, b: 2
//
// An event without details ends in "Details: None".
func Render(e Event) string {
	var b strings.Builder
	b.WriteString("Level: ")
	b.WriteString(e.Level.String())
	b.WriteString(`; Message: "`)
	b.WriteString(e.Message)
	b.WriteString(`"; Details: `)
	if len(e.Details) == 0 {
		b.WriteString("None")
		return b.String()
	}
	for i, d := range e.Details {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Key)
		b.WriteString(": ")
		b.WriteString(valueString(d.Value))
	}
	return b.String()
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case time.Time:
		return x.Format(renderTimeFormat)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
