package notify

import "strings"

// Level is the severity of a notification.
//
// ERROR and EXCEPTION are distinct labels with the same rank; threshold
// checks always compare Rank(), never the raw value.
type Level uint8

const (
	LevelInfo Level = iota + 1
	LevelEvent
	LevelWarning
	LevelError
	LevelException
)

// DefaultThreshold is used when a subscription names no valid level.
const DefaultThreshold = LevelEvent

var levelNames = map[Level]string{
	LevelInfo:      "INFO",
	LevelEvent:     "EVENT",
	LevelWarning:   "WARNING",
	LevelError:     "ERROR",
	LevelException: "EXCEPTION",
}

// Rank returns the ordering weight used for threshold checks.
func (l Level) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelEvent:
		return 2
	case LevelWarning:
		return 3
	case LevelError, LevelException:
		return 4
	default:
		return 0
	}
}

func (l Level) Valid() bool { return l.Rank() > 0 }

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

// Allows reports whether an event at level e passes threshold l.
func (l Level) Allows(e Level) bool {
	return l.Rank() <= e.Rank()
}

// ParseLevel maps a label (case-insensitive) to a Level.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, true
		}
	}
	return 0, false
}

// LevelOrDefault parses s and falls back to DefaultThreshold.
func LevelOrDefault(s string) Level {
	if l, ok := ParseLevel(s); ok {
		return l
	}
	return DefaultThreshold
}
