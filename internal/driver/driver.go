// Package driver runs congestion batches: for every requested location it
// reads the arrival forecast, estimates the hourly population, labels each
// hour and upserts the labels.
//
// Locations are independent. They run in parallel up to the configured
// concurrency and one location's failure never stops the others; the outcome
// of each location is reported in the Summary. Run itself only fails for an
// invalid request or a cancelled context.
package driver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/crowdcast/internal/logger"
	"github.com/rewired-gh/crowdcast/internal/metrics"
	"github.com/rewired-gh/crowdcast/internal/models"
	"github.com/rewired-gh/crowdcast/internal/occupancy"
	"github.com/rewired-gh/crowdcast/internal/publisher"
	"github.com/rewired-gh/crowdcast/internal/registry"
	"github.com/rewired-gh/crowdcast/internal/storage"
)

// DefaultHorizonDays is the number of days labelled when a request has no range.
const DefaultHorizonDays = 7

// Driver runs batches against one source and one sink.
type Driver struct {
	reg         *registry.Registry
	src         storage.Source
	sink        storage.Sink
	publisher   publisher.Publisher
	metrics     *metrics.Metrics
	concurrency int
	horizonDays int
	loc         *time.Location
	now         func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithConcurrency bounds the number of locations processed at once.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithPublisher publishes the labels of every written location.
func WithPublisher(p publisher.Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithMetrics records batch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(d *Driver) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithHorizonDays sets how many days the default range covers.
func WithHorizonDays(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.horizonDays = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// New creates a Driver. The registry is never modified.
func New(reg *registry.Registry, src storage.Source, sink storage.Sink, opts ...Option) *Driver {
	d := &Driver{
		reg:         reg,
		src:         src,
		sink:        sink,
		concurrency: runtime.NumCPU(),
		horizonDays: DefaultHorizonDays,
		loc:         time.UTC,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request selects the locations and calendar days of a batch. Empty
// LocationIDs means every registered location; zero From and To mean the
// default range (tomorrow and the following days).
type Request struct {
	LocationIDs []string
	From        time.Time
	To          time.Time
}

// DefaultRange returns tomorrow through tomorrow+horizonDays-1 in loc.
func DefaultRange(now time.Time, loc *time.Location, horizonDays int) (time.Time, time.Time) {
	if horizonDays < 1 {
		horizonDays = DefaultHorizonDays
	}
	today := models.CivilDate(now.In(loc))
	from := today.AddDate(0, 0, 1)
	return from, from.AddDate(0, 0, horizonDays-1)
}

// Run processes the request. The returned Summary is non-nil whenever the
// request was valid, even if the context was cancelled midway.
func (d *Driver) Run(ctx context.Context, req Request) (*Summary, error) {
	from, to := req.From, req.To
	if from.IsZero() && to.IsZero() {
		from, to = DefaultRange(d.now(), d.loc, d.horizonDays)
	} else if from.IsZero() || to.IsZero() {
		return nil, eris.Wrap(models.ErrInvalidInput, "driver: both ends of the date range must be set")
	}
	from, to = models.CivilDate(from.In(d.loc)), models.CivilDate(to.In(d.loc))
	if to.Before(from) {
		return nil, eris.Wrapf(models.ErrInvalidInput, "driver: range ends %s before it starts %s",
			to.Format(models.DateLayout), from.Format(models.DateLayout))
	}

	ids := req.LocationIDs
	if len(ids) == 0 {
		ids = d.reg.IDs()
	}
	if len(ids) == 0 {
		return nil, eris.Wrap(models.ErrInvalidInput, "driver: no locations to process")
	}

	started := d.now()
	summary := &Summary{
		RunID:     uuid.New().String(),
		From:      from,
		To:        to,
		StartedAt: started,
		Results:   make([]LocationResult, len(ids)),
	}

	logger.Info("batch %s: %d locations, %s to %s",
		summary.RunID, len(ids), from.Format(models.DateLayout), to.Format(models.DateLayout))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			summary.Results[i] = d.processLocation(gctx, id, from, to, started)
			d.metrics.ObserveLocation(string(summary.Results[i].Status), summary.Results[i].Records)
			return nil // don't abort batch on individual failure
		})
	}
	_ = g.Wait()

	summary.FinishedAt = d.now()
	d.metrics.ObserveBatch(summary.FinishedAt.Sub(started), summary.FinishedAt)

	logger.Info("batch %s complete: %d written, %d skipped, %d failed, %d records",
		summary.RunID, summary.Count(StatusWritten), summary.Count(StatusSkipped),
		summary.Count(StatusFailed), summary.RecordsWritten())

	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "driver: batch cancelled")
	}
	return summary, nil
}

func (d *Driver) processLocation(ctx context.Context, id string, from, to, now time.Time) LocationResult {
	result := LocationResult{LocationID: id}

	if err := ctx.Err(); err != nil {
		return result.fail(err)
	}

	profile, err := d.reg.Lookup(id)
	if err != nil {
		logger.Warn("location %s: skipped, %v", id, err)
		return result.skip(err)
	}
	result.Name = profile.DisplayName()

	series, err := d.src.Series(ctx, id, from, to)
	if errors.Is(err, models.ErrEmptySeries) || (err == nil && len(series) == 0) {
		if err == nil {
			err = fmt.Errorf("%w: no observations for %s", models.ErrEmptySeries, id)
		}
		logger.Info("location %s: skipped, no forecast between %s and %s",
			id, from.Format(models.DateLayout), to.Format(models.DateLayout))
		return result.skip(err)
	}
	if err != nil {
		logger.Error("location %s: reading forecast failed: %v", id, err)
		return result.fail(err)
	}

	populations, err := occupancy.Estimate(series, profile)
	if err != nil {
		logger.Error("location %s: estimating population failed: %v", id, err)
		return result.fail(err)
	}
	records, err := occupancy.ClassifySeries(series, populations, profile, now)
	if err != nil {
		logger.Error("location %s: classifying failed: %v", id, err)
		return result.fail(err)
	}

	written, err := d.sink.Upsert(ctx, records)
	if err != nil {
		err = fmt.Errorf("%w: %w", models.ErrSinkFailure, err)
		logger.Error("location %s: writing labels failed: %v", id, err)
		return result.fail(err)
	}

	result.Status = StatusWritten
	result.Records = written
	result.PeakPopulation = floats.Max(populations)
	result.MeanPopulation = stat.Mean(populations, nil)
	for _, r := range records {
		if r.Label == models.LabelCrowded {
			result.Crowded++
		}
		if r.Label > result.PeakLabel {
			result.PeakLabel = r.Label
		}
	}

	logger.Debug("location %s: wrote %d records, peak %.0f, mean %.1f, %d crowded hours",
		id, written, result.PeakPopulation, result.MeanPopulation, result.Crowded)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, profile, records); err != nil {
			d.metrics.ObservePublishFailure()
			logger.Warn("location %s: publishing labels failed: %v", id, err)
		}
	}
	return result
}
