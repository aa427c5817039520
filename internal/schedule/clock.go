package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrFormat reports a time or period string that is not H:MM:SS.
	ErrFormat = errors.New("invalid time format, expected H:MM:SS")
	// ErrRange reports a period shorter than MinPeriod.
	ErrRange = errors.New("period below minimum")
)

// MinPeriod is the shortest accepted period.
const MinPeriod = 120 * time.Second

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{1,2}):(\d{1,2})\s*$`)

// TimeOfDay is a wall-clock anchor within a day.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at t on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, ref.Location())
}

// ParseTimeOfDay parses a 24-hour "H:MM:SS" clock value.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reClock.FindStringSubmatch(s)
	if len(m) != 4 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	if h > 23 || mi > 59 || sec > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q out of clock range", ErrFormat, s)
	}
	return TimeOfDay{Hour: h, Minute: mi, Second: sec}, nil
}

// PeriodToSeconds converts "H:MM:SS" into total seconds.
//
// Periods are written with the same clock pattern as times of day, so the
// longest expressible period is 23:59:59.
func PeriodToSeconds(s string) (int, error) {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		return 0, err
	}
	return t.Hour*3600 + t.Minute*60 + t.Second, nil
}

// ValidatePeriod is PeriodToSeconds plus the MinPeriod floor.
func ValidatePeriod(s string) (int, error) {
	secs, err := PeriodToSeconds(s)
	if err != nil {
		return 0, err
	}
	if time.Duration(secs)*time.Second < MinPeriod {
		return 0, fmt.Errorf("%w: the minimum period is %s (%d seconds), not %s",
			ErrRange, "00:02:00", int(MinPeriod/time.Second), s)
	}
	return secs, nil
}

// FirstAfter advances anchor by whole periods until it is strictly after now.
// An anchor already in the future is returned unchanged.
func FirstAfter(anchor time.Time, period time.Duration, now time.Time) time.Time {
	if period <= 0 {
		return anchor
	}
	fire := anchor
	for !fire.After(now) {
		fire = fire.Add(period)
	}
	return fire
}

// InitialFireTime anchors tod on now's day and corrects it forward into the
// future without drifting off the time-of-day grid.
func InitialFireTime(tod TimeOfDay, period time.Duration, now time.Time) time.Time {
	return FirstAfter(tod.On(now), period, now)
}

// DueWindow is the width of the window in which a fire is on time.
func DueWindow(period time.Duration) time.Duration { return period / 20 }

// CheckInterval is the loop cadence between due checks.
func CheckInterval(period time.Duration) time.Duration { return period / 100 }

// IsDue reports fire < now < fire+DueWindow(period). Both bounds are exclusive.
func IsDue(now, fire time.Time, period time.Duration) bool {
	return now.After(fire) && now.Before(fire.Add(DueWindow(period)))
}

// Advance moves fire one period forward when fired, otherwise leaves it.
func Advance(fire time.Time, period time.Duration, fired bool) time.Time {
	if !fired {
		return fire
	}
	return fire.Add(period)
}
