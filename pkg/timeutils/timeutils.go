package timeutils

import (
	"encoding"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ParseableDuration represents a time.Duration that can be parsed from text,
// either as a Go duration string ("1m30s") or as a bare number of seconds
// ("10", "2.5").
type ParseableDuration time.Duration

var _ encoding.TextUnmarshaler = (*ParseableDuration)(nil)
var _ encoding.TextMarshaler = ParseableDuration(0)
var _ pflag.Value = (*ParseableDuration)(nil)

// ParseDuration parses the given text into a duration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// UnmarshalText allows us a convenient way to unmarshal durations.
func (d *ParseableDuration) UnmarshalText(text []byte) error {
	dur, err := ParseDuration(string(text))
	if err == nil {
		*d = ParseableDuration(dur)
	}
	return err
}

// MarshalText renders the duration in Go's duration notation.
func (d ParseableDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration is a convenience method for converting this parseable duration into
// a standard time.Duration instance.
func (d ParseableDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d ParseableDuration) String() string {
	return time.Duration(d).String()
}

// Set implements pflag.Value.
func (d *ParseableDuration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

// Type implements pflag.Value.
func (d *ParseableDuration) Type() string {
	return "duration"
}
