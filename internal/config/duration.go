package config

import (
	"fmt"
	"strings"
	"time"
)

// MinDuration is the smallest positive value a duration field accepts. The
// consumers (SQLite busy_timeout, process timeouts, the scheduler window)
// work in milliseconds, so anything shorter would silently become zero.
const MinDuration = time.Millisecond

// DurationError reports an unusable duration together with its config path.
type DurationError struct {
	Path   string
	Raw    string
	Reason string
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("%s: %s (got %q)", e.Path, e.Reason, e.Raw)
}

// ParseDurationField parses a Go duration string. Empty means unset (0).
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, &DurationError{Path: path, Raw: raw, Reason: "invalid duration, use units like 30s or 5m"}
	case d < 0:
		return 0, &DurationError{Path: path, Raw: raw, Reason: "duration must be >= 0"}
	case d > 0 && d < MinDuration:
		return 0, &DurationError{Path: path, Raw: raw, Reason: "duration must be 0 or at least " + MinDuration.String()}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for unset or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
