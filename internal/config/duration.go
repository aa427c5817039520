package config

import (
	"fmt"
	"strings"
	"time"

	"cacheful/internal/schedule"
)

// ParseDurationField accepts a Go duration ("1500ms") or the H:MM:SS clock
// form used by the timer section ("0:00:02"). Empty means zero; negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if strings.Contains(s, ":") {
		secs, err := schedule.PeriodToSeconds(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
