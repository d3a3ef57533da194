package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value as a time.Duration, substituting fallback
// when value is blank. A blank fallback is an error: callers always have a
// hardcoded default to supply.
func DurationOrDefault(value, fallback string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		s = strings.TrimSpace(fallback)
	}
	if s == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
