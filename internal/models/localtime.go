package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocalTimeLayout is the wall-clock layout used on the wire, without a zone.
const LocalTimeLayout = "2006-01-02T15:04:05"

var localTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	LocalTimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// LocalTime is a naive timestamp interpreted in the local zone. The queue
// service emits and expects wall-clock values with no offset.
type LocalTime struct {
	time.Time
}

// NewLocalTime wraps t.
func NewLocalTime(t time.Time) *LocalTime {
	return &LocalTime{Time: t}
}

// ParseLocalTime accepts the formats the queue service is known to emit.
func ParseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse local time %q", s)
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(LocalTimeLayout))
}

// CombineLocal joins the calendar date of day with an "HH:MM" time of day,
// keeping the wall clock of day's location.
func CombineLocal(day time.Time, hhmm string) (time.Time, error) {
	tod, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of day %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, day.Location()), nil
}
