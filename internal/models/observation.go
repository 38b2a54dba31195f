package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DateLayout is the calendar date format used by sources, sinks and the CLI.
const DateLayout = "2006-01-02"

// HourlyObservation is the number of visitors arriving at a location during
// one hour. Count is a raw sensor reading or a forecast point estimate; the
// upstream forecaster has already clipped it to be non-negative.
type HourlyObservation struct {
	LocationID string    `json:"location_id"`
	Date       time.Time `json:"date"` // Midnight of the calendar day
	Hour       int       `json:"hour"` // 0-23
	Count      float64   `json:"count"`
}

// Time returns the start of the observed hour in the date's location.
func (o HourlyObservation) Time() time.Time {
	y, m, d := o.Date.Date()
	return time.Date(y, m, d, o.Hour, 0, 0, 0, o.Date.Location())
}

// Slot returns a monotonically increasing index of the civil hour, so that two
// consecutive hours always differ by exactly one regardless of time zone rules.
func (o HourlyObservation) Slot() int64 {
	y, m, d := o.Date.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	return days*24 + int64(o.Hour)
}

// Validate checks that all observation fields are valid.
func (o *HourlyObservation) Validate() error {
	if o.LocationID == "" {
		return errors.New("observation location ID must not be empty")
	}
	if o.Date.IsZero() {
		return errors.New("observation date must be set")
	}
	if o.Hour < 0 || o.Hour > 23 {
		return fmt.Errorf("observation hour %d out of range [0,23]", o.Hour)
	}
	if math.IsNaN(o.Count) || math.IsInf(o.Count, 0) {
		return fmt.Errorf("observation count at %s hour %d is not a finite number", o.Date.Format(DateLayout), o.Hour)
	}
	if o.Count < 0 {
		return fmt.Errorf("observation count at %s hour %d must not be negative", o.Date.Format(DateLayout), o.Hour)
	}
	return nil
}

// CivilDate truncates t to midnight of its calendar day, keeping t's location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
