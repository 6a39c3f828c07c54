package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidConcurrency is returned for malformed concurrency ranges.
var ErrInvalidConcurrency = errors.New("config: invalid concurrency")

// Concurrency is the [Min, Max] number of concurrent consumers per queue.
type Concurrency struct {
	Min int
	Max int
}

func (c Concurrency) String() string {
	if c.Min == c.Max {
		return strconv.Itoa(c.Min)
	}
	return fmt.Sprintf("%d-%d", c.Min, c.Max)
}

// ParseConcurrency parses "min-max" or a single "n" (min = max = n).
func ParseConcurrency(s string) (Concurrency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Concurrency{}, fmt.Errorf("%w: empty value", ErrInvalidConcurrency)
	}

	first, second, ranged := strings.Cut(s, "-")
	low, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return Concurrency{}, fmt.Errorf("%w: %q", ErrInvalidConcurrency, s)
	}
	high := low
	if ranged {
		if high, err = strconv.Atoi(strings.TrimSpace(second)); err != nil {
			return Concurrency{}, fmt.Errorf("%w: %q", ErrInvalidConcurrency, s)
		}
	}

	if low < 1 {
		return Concurrency{}, fmt.Errorf("%w: minimum must be at least 1, got %d", ErrInvalidConcurrency, low)
	}
	if high < low {
		return Concurrency{}, fmt.Errorf("%w: maximum %d is below minimum %d", ErrInvalidConcurrency, high, low)
	}
	return Concurrency{Min: low, Max: high}, nil
}
