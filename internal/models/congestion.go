package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Label is an ordinal congestion level. Higher values are more crowded.
type Label int

const (
	LabelSpacious Label = iota
	LabelModerate
	LabelSlightlyCrowded
	LabelCrowded
)

var labelNames = [...]string{"spacious", "moderate", "slightly-crowded", "crowded"}

// Display names used by the Seoul city dashboards.
var labelKorean = [...]string{"여유", "보통", "약간 혼잡", "혼잡"}

// Labels lists every label from least to most crowded.
func Labels() []Label {
	return []Label{LabelSpacious, LabelModerate, LabelSlightlyCrowded, LabelCrowded}
}

// Valid reports whether l is one of the four defined labels.
func (l Label) Valid() bool {
	return l >= LabelSpacious && l <= LabelCrowded
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// Korean returns the Korean display name of the label.
func (l Label) Korean() string {
	if !l.Valid() {
		return l.String()
	}
	return labelKorean[l]
}

// ParseLabel accepts either the English or the Korean form of a label.
func ParseLabel(s string) (Label, error) {
	s = strings.TrimSpace(s)
	for i, name := range labelNames {
		if strings.EqualFold(s, name) || s == labelKorean[i] {
			return Label(i), nil
		}
	}
	return 0, fmt.Errorf("unknown congestion label %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid congestion label %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// CongestionRecord is the congestion label of one location for one hour.
// (LocationID, Category, Date, Hour) is the natural key; writing the same key
// again replaces Label, Population and UpdatedAt.
type CongestionRecord struct {
	LocationID string    `json:"location_id"`
	Category   Category  `json:"category"`
	Date       time.Time `json:"date"`
	Hour       int       `json:"hour"`
	Label      Label     `json:"label"`
	Population float64   `json:"population"` // Estimated concurrent visitors behind the label
	UpdatedAt  time.Time `json:"updated_at"`
}

// RecordKey identifies a congestion record.
type RecordKey struct {
	LocationID string
	Category   Category
	Date       string
	Hour       int
}

// Key returns the natural key of the record.
func (r CongestionRecord) Key() RecordKey {
	return RecordKey{
		LocationID: r.LocationID,
		Category:   r.Category,
		Date:       r.Date.Format(DateLayout),
		Hour:       r.Hour,
	}
}

// Validate checks that all record fields are valid.
func (r *CongestionRecord) Validate() error {
	if r.LocationID == "" {
		return errors.New("record location ID must not be empty")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("record category %q is unknown", r.Category)
	}
	if r.Date.IsZero() {
		return errors.New("record date must be set")
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("record hour %d out of range [0,23]", r.Hour)
	}
	if !r.Label.Valid() {
		return fmt.Errorf("record label %d is invalid", int(r.Label))
	}
	if r.Population < 0 || math.IsNaN(r.Population) {
		return errors.New("record population must not be negative")
	}
	if r.UpdatedAt.IsZero() {
		return errors.New("record updated at must be set")
	}
	return nil
}
