package driver

import (
	"time"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Status is the outcome of one location in a batch.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped" // not configured or no forecast
	StatusFailed  Status = "failed"
)

// LocationResult reports what happened to one location.
type LocationResult struct {
	LocationID     string
	Name           string
	Status         Status
	Records        int
	PeakPopulation float64
	MeanPopulation float64
	PeakLabel      models.Label
	Crowded        int // hours labelled crowded
	Err            error
}

func (r LocationResult) skip(err error) LocationResult {
	r.Status = StatusSkipped
	r.Err = err
	return r
}

func (r LocationResult) fail(err error) LocationResult {
	r.Status = StatusFailed
	r.Err = err
	return r
}

// Summary is the result of one batch. Results follow the request order.
type Summary struct {
	RunID      string
	From       time.Time
	To         time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []LocationResult
}

// Count returns the number of locations with the given status.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the locations that failed.
func (s *Summary) Failed() []LocationResult {
	var failed []LocationResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RecordsWritten returns the total number of upserted records.
func (s *Summary) RecordsWritten() int {
	n := 0
	for _, r := range s.Results {
		n += r.Records
	}
	return n
}

// CrowdedHours returns the total number of hours labelled crowded.
func (s *Summary) CrowdedHours() int {
	n := 0
	for _, r := range s.Results {
		n += r.Crowded
	}
	return n
}

// Duration returns how long the batch took.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
