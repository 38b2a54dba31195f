// Package publisher fans freshly written congestion labels out to real-time
// consumers. Publication is best effort: the driver logs failures and never
// fails a location because of them.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Publisher delivers the labels of one location.
type Publisher interface {
	Publish(ctx context.Context, profile models.LocationProfile, records []models.CongestionRecord) error
	Close() error
}

// Message is the JSON payload published per location.
type Message struct {
	LocationID  string        `json:"location_id"`
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	GeneratedAt time.Time     `json:"generated_at"`
	Hours       []HourMessage `json:"hours"`
}

// HourMessage is the label of one hour within a Message.
type HourMessage struct {
	Date       string  `json:"date"`
	Hour       int     `json:"hour"`
	Label      string  `json:"label"`
	LabelKo    string  `json:"label_ko"`
	Population float64 `json:"population"`
}

// NewMessage builds the payload for one location. GeneratedAt is the latest
// UpdatedAt among the records.
func NewMessage(profile models.LocationProfile, records []models.CongestionRecord) Message {
	msg := Message{
		LocationID: profile.ID,
		Name:       profile.DisplayName(),
		Category:   string(profile.Category),
		Hours:      make([]HourMessage, 0, len(records)),
	}
	for _, r := range records {
		if r.UpdatedAt.After(msg.GeneratedAt) {
			msg.GeneratedAt = r.UpdatedAt
		}
		msg.Hours = append(msg.Hours, HourMessage{
			Date:       r.Date.Format(models.DateLayout),
			Hour:       r.Hour,
			Label:      r.Label.String(),
			LabelKo:    r.Label.Korean(),
			Population: r.Population,
		})
	}
	return msg
}

func encode(profile models.LocationProfile, records []models.CongestionRecord) ([]byte, error) {
	return json.Marshal(NewMessage(profile, records))
}

// Multi publishes to several publishers and returns the first error after
// trying all of them.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, profile models.LocationProfile, records []models.CongestionRecord) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, profile, records); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Publisher.
func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
