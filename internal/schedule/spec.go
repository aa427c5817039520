package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a validated daily anchor plus repeat period.
type Spec struct {
	TimeOfDay TimeOfDay
	Period    time.Duration
}

var _ cron.Schedule = Spec{}

// Parse validates a time-of-day and a period string.
func Parse(timeOfDay, period string) (Spec, error) {
	tod, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return Spec{}, fmt.Errorf("time of day: %w", err)
	}
	secs, err := ValidatePeriod(period)
	if err != nil {
		return Spec{}, fmt.Errorf("period: %w", err)
	}
	return Spec{TimeOfDay: tod, Period: time.Duration(secs) * time.Second}, nil
}

// Seconds returns the period in whole seconds.
func (s Spec) Seconds() int { return int(s.Period / time.Second) }

// Next implements cron.Schedule: the first fire time strictly after t.
func (s Spec) Next(t time.Time) time.Time {
	return InitialFireTime(s.TimeOfDay, s.Period, t)
}

// Preview lists the next n fire times after from, formatted for logs.
// Only the first is re-anchored; later ones follow the running timer, which
// keeps adding periods across midnight.
func (s Spec) Preview(from time.Time, n int) string {
	if n <= 0 {
		return ""
	}
	var sched cron.Schedule = s
	var b strings.Builder
	t := sched.Next(from)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
			t = t.Add(s.Period)
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func (s Spec) String() string {
	return fmt.Sprintf("daily from %s every %d seconds", s.TimeOfDay, s.Seconds())
}
