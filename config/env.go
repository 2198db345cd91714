package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key, if set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses key as a Go duration ("1.5s") or as plain seconds ("1.5").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, true, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return SecondsToDuration(seconds), true, nil
}

// SecondsToDuration converts fractional seconds, as typed by an operator,
// into a duration.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
