package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-typed config field. Empty means
// unset (zero, the consumer's default applies); negatives are rejected
// because no dispatch or storage knob accepts them.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}
