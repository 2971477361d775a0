package catalog

import (
	"fmt"
	"time"
)

// Timespan is a half-open validity interval [Begin, End). A zero Begin or
// End leaves that side unbounded.
type Timespan struct {
	Begin time.Time `yaml:"begin,omitempty" toml:"begin,omitempty"`
	End   time.Time `yaml:"end,omitempty" toml:"end,omitempty"`
}

// Instant returns the zero-width timespan at t, used as a lookup key.
func Instant(t time.Time) Timespan {
	return Timespan{Begin: t, End: t}
}

// Contains reports whether t lies inside the timespan.
func (s Timespan) Contains(t time.Time) bool {
	if !s.Begin.IsZero() && t.Before(s.Begin) {
		return false
	}
	if !s.End.IsZero() && !t.Before(s.End) {
		return false
	}
	return true
}

// Overlaps reports whether the two timespans share any instant. A zero-width
// timespan overlaps s when s contains its instant.
func (s Timespan) Overlaps(o Timespan) bool {
	if o.isInstant() {
		return s.Contains(o.Begin)
	}
	if s.isInstant() {
		return o.Contains(s.Begin)
	}
	if !s.End.IsZero() && !o.Begin.IsZero() && !o.Begin.Before(s.End) {
		return false
	}
	if !o.End.IsZero() && !s.Begin.IsZero() && !s.Begin.Before(o.End) {
		return false
	}
	return true
}

func (s Timespan) isInstant() bool {
	return !s.Begin.IsZero() && s.Begin.Equal(s.End)
}

// String implements fmt.Stringer.
func (s Timespan) String() string {
	bound := func(t time.Time, open string) string {
		if t.IsZero() {
			return open
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", bound(s.Begin, "-inf"), bound(s.End, "+inf"))
}
