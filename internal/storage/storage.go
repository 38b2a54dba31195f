// Package storage connects the congestion pipeline to its inputs and outputs.
//
// A Source yields the hourly arrival forecast of one location; a Sink upserts
// the congestion labels derived from it. Three backings are provided:
//
//   - JSONFiles: per-location JSON documents on disk, keyed by day with one
//     field per hour.
//   - SQLite: an embedded database file holding both the forecast table and
//     the congestion table.
//   - Postgres: the same schema on a PostgreSQL server.
//
// Every Sink write is an idempotent upsert keyed by (location, category, date,
// hour). Rows outside the written keys are never touched.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Driver names accepted by Open.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Source produces the hourly observations of one location between two calendar
// days, both inclusive, ordered by (date, hour) with missing hours filled with
// zero. A location without any data returns an error wrapping
// models.ErrEmptySeries.
type Source interface {
	Series(ctx context.Context, locationID string, from, to time.Time) ([]models.HourlyObservation, error)
}

// Sink upserts congestion records and returns how many were written.
type Sink interface {
	Upsert(ctx context.Context, records []models.CongestionRecord) (int, error)
}

// Backend is a Source and Sink that holds resources until closed.
type Backend interface {
	Source
	Sink
	io.Closer
}

// RecordStore is a Backend that also keeps the forecasts and can list the
// stored labels. Both SQL backings implement it.
type RecordStore interface {
	Backend
	SaveForecast(ctx context.Context, observations []models.HourlyObservation) (int, error)
	ListCongestion(ctx context.Context, q Query) ([]models.CongestionRecord, error)
	CountCongestion(ctx context.Context) (int, error)
}

// Query filters ListCongestion. Zero fields match everything.
type Query struct {
	LocationID string
	From       time.Time
	To         time.Time
	Limit      int
}

// Options selects and configures a backing for Open.
type Options struct {
	Driver      string
	InputDir    string // json: directory of forecast documents
	OutputDir   string // json: directory of congestion documents
	RunDate     time.Time
	LabelStyle  string // json: "en" or "ko" (default)
	SQLitePath  string
	PostgresDSN string
	Location    *time.Location // calendar time zone of stored dates
}

// Open creates the backing named by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverJSON, "":
		style, err := ParseLabelStyle(opts.LabelStyle)
		if err != nil {
			return nil, err
		}
		j := NewJSONFiles(opts.InputDir, opts.OutputDir, opts.RunDate)
		j.LabelStyle = style
		return j, nil
	case DriverSQLite:
		s, err := OpenSQLite(opts.SQLitePath, opts.Location)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		p, err := OpenPostgres(ctx, opts.PostgresDSN, opts.Location)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, eris.Errorf("storage: unknown driver %q", opts.Driver)
	}
}

var (
	_ Backend     = (*JSONFiles)(nil)
	_ RecordStore = (*SQLite)(nil)
	_ RecordStore = (*Postgres)(nil)
)

// hourValues holds the 24 hourly values of one calendar day.
type hourValues [24]float64

// fillSeries expands per-day values into a contiguous series covering every
// day from the first to the last day present. Days in between without data
// contribute 24 zero observations.
func fillSeries(locationID string, days map[string]*hourValues, loc *time.Location) ([]models.HourlyObservation, error) {
	if len(days) == 0 {
		return nil, eris.Wrapf(models.ErrEmptySeries, "no observations for %s", locationID)
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	first, err := models.ParseDate(keys[0], loc)
	if err != nil {
		return nil, err
	}
	last, err := models.ParseDate(keys[len(keys)-1], loc)
	if err != nil {
		return nil, err
	}

	var series []models.HourlyObservation
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		values := days[d.Format(models.DateLayout)]
		for h := 0; h < 24; h++ {
			obs := models.HourlyObservation{LocationID: locationID, Date: d, Hour: h}
			if values != nil {
				obs.Count = values[h]
			}
			series = append(series, obs)
		}
	}
	return series, nil
}

// inRange reports whether the calendar day lies in [from, to]. Zero bounds are
// open.
func inRange(day string, from, to time.Time) bool {
	if !from.IsZero() && day < from.Format(models.DateLayout) {
		return false
	}
	if !to.IsZero() && day > to.Format(models.DateLayout) {
		return false
	}
	return true
}

func validateRecords(records []models.CongestionRecord) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", models.ErrInvalidInput, i, err)
		}
	}
	return nil
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
