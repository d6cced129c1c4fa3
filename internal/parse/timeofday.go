package parse

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, held as the offset from
// midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay accepts "15:04:05" (optionally with fractional seconds)
// or "15:04".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("unable to parse time of day: %q", raw)
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the wall-clock component of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	d := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
	return TimeOfDay(d)
}

func (t TimeOfDay) Hour() int   { return int(time.Duration(t) / time.Hour) }
func (t TimeOfDay) Minute() int { return int(time.Duration(t)%time.Hour) / int(time.Minute) }
func (t TimeOfDay) Second() int { return int(time.Duration(t)%time.Minute) / int(time.Second) }

// After reports whether t is strictly later in the day than o.
func (t TimeOfDay) After(o TimeOfDay) bool { return t > o }

// String formats t as "15:04:05", the form Home Assistant expects for
// input_datetime time values.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// MinutesUntil returns the signed hour/minute difference target - t in
// minutes. Seconds are ignored and the result does not wrap at midnight.
func (t TimeOfDay) MinutesUntil(target TimeOfDay) int {
	return (target.Hour()-t.Hour())*60 + (target.Minute() - t.Minute())
}
