package config

import (
	"strings"
	"time"

	"workhub/internal/errs"
)

// ParseDurationField parses a Go duration string at config key path. An empty
// string is 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, errs.WithHint(errs.Wrapf(err, "%s: invalid duration %q", path, raw), `use Go durations such as "90s", "20m" or "1h30m"`)
	case d < 0:
		return 0, errs.Newf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero input.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
