// Package models defines the core domain entities for the crowdcast application.
// These models represent monitored places, hourly visitor observations, and the
// congestion labels derived from them.
// All models include built-in validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Location: a park or street segment covered by a foot-traffic sensor. This is the unit we track.
//   - Observation: one hour of incoming visitors, either a sensor count or a forecast point estimate.
//   - Population: the estimated number of visitors present at the same time.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Category is the kind of place a location is. Each category carries its own
// congestion bands; locations only differ by area.
type Category string

const (
	CategoryPark   Category = "park"
	CategoryStreet Category = "street"
)

// Bands holds the descending per-capita area lower bounds (m² per person) for
// the spacious, moderate and slightly-crowded labels. Anything below
// SlightlyCrowded is crowded.
type Bands struct {
	Spacious        float64
	Moderate        float64
	SlightlyCrowded float64
}

var categoryBands = map[Category]Bands{
	CategoryPark:   {Spacious: 100, Moderate: 50, SlightlyCrowded: 20},
	CategoryStreet: {Spacious: 9.29, Moderate: 4.61, SlightlyCrowded: 2.81},
}

// Bands returns the congestion bands for the category.
func (c Category) Bands() (Bands, bool) {
	b, ok := categoryBands[c]
	return b, ok
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryBands[c]
	return ok
}

// ParseCategory converts a config or database value into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q (expected park or street)", s)
	}
	return c, nil
}

// LocationProfile is the static configuration of a monitored location.
// Profiles are loaded once and never mutated by the pipeline.
type LocationProfile struct {
	ID            string   `json:"id" yaml:"id" mapstructure:"id"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Category      Category `json:"category" yaml:"category" mapstructure:"category"`
	AreaM2        float64  `json:"area_m2" yaml:"area_m2" mapstructure:"area_m2"`
	StayHours     int      `json:"stay_hours" yaml:"stay_hours" mapstructure:"stay_hours"`             // Whole hours a visitor stays after arrival
	ScalingFactor float64  `json:"scaling_factor" yaml:"scaling_factor" mapstructure:"scaling_factor"` // Sensor count to population multiplier
}

// WindowSize is the number of most recent hours that contribute to the
// estimated population.
func (p LocationProfile) WindowSize() int {
	return p.StayHours + 1
}

// DisplayName returns Name when set and ID otherwise.
func (p LocationProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Validate checks that all profile fields are valid.
func (p *LocationProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("location ID must not be empty")
	}
	if !p.Category.Valid() {
		return fmt.Errorf("location %s: unknown category %q", p.ID, p.Category)
	}
	if !(p.AreaM2 > 0) || math.IsInf(p.AreaM2, 0) {
		return fmt.Errorf("location %s: area must be positive", p.ID)
	}
	if p.StayHours < 0 {
		return fmt.Errorf("location %s: stay hours must not be negative", p.ID)
	}
	if !(p.ScalingFactor > 0) || math.IsInf(p.ScalingFactor, 0) {
		return fmt.Errorf("location %s: scaling factor must be positive", p.ID)
	}
	return nil
}
