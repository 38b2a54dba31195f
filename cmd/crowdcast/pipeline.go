package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/crowdcast/internal/config"
	"github.com/rewired-gh/crowdcast/internal/driver"
	"github.com/rewired-gh/crowdcast/internal/logger"
	"github.com/rewired-gh/crowdcast/internal/metrics"
	"github.com/rewired-gh/crowdcast/internal/models"
	"github.com/rewired-gh/crowdcast/internal/publisher"
	"github.com/rewired-gh/crowdcast/internal/registry"
	"github.com/rewired-gh/crowdcast/internal/storage"
)

// pipeline holds the long-lived pieces a batch needs. Storage is opened per
// batch because the json driver names its documents after the run date.
type pipeline struct {
	cfg       *config.Config
	reg       *registry.Registry
	loc       *time.Location
	publisher publisher.Publisher
	metrics   *metrics.Metrics
}

func newPipeline(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*pipeline, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("building place registry: %w", err)
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(ctx, cfg.Publish)
	if err != nil {
		return nil, err
	}
	return &pipeline{cfg: cfg, reg: reg, loc: loc, publisher: pub, metrics: m}, nil
}

// newPublisher connects the enabled publishers. It returns nil when none is
// enabled.
func newPublisher(ctx context.Context, pc config.PublishConfig) (publisher.Publisher, error) {
	var multi publisher.Multi
	if pc.Redis.Enabled {
		r, err := publisher.NewRedis(ctx, pc.Redis.URL, pc.Redis.Channel, pc.Redis.KeyPrefix, pc.Redis.TTL)
		if err != nil {
			return nil, fmt.Errorf("connecting redis publisher: %w", err)
		}
		logger.Info("Publishing labels to redis channel %s", pc.Redis.Channel)
		multi = append(multi, r)
	}
	if pc.MQTT.Enabled {
		m, err := publisher.NewMQTT(pc.MQTT.Broker, pc.MQTT.ClientID, pc.MQTT.TopicPrefix, byte(pc.MQTT.QoS), pc.MQTT.Timeout)
		if err != nil {
			_ = multi.Close()
			return nil, fmt.Errorf("connecting mqtt publisher: %w", err)
		}
		logger.Info("Publishing labels to mqtt broker %s", pc.MQTT.Broker)
		multi = append(multi, m)
	}
	if len(multi) == 0 {
		logger.Debug("Real-time publishing disabled")
		return nil, nil
	}
	return multi, nil
}

// openStorage opens the configured backing for a batch started at now.
func (p *pipeline) openStorage(ctx context.Context, now time.Time) (storage.Backend, error) {
	return openBackend(ctx, p.cfg, p.loc, now)
}

func openBackend(ctx context.Context, cfg *config.Config, loc *time.Location, now time.Time) (storage.Backend, error) {
	backend, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		InputDir:    cfg.Storage.InputDir,
		OutputDir:   cfg.Storage.OutputDir,
		RunDate:     models.CivilDate(now.In(loc)),
		LabelStyle:  cfg.Storage.LabelStyle,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		Location:    loc,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	return backend, nil
}

// runBatch opens storage, runs one batch and closes storage again.
func (p *pipeline) runBatch(ctx context.Context, req driver.Request) (*driver.Summary, error) {
	now := time.Now()
	backend, err := p.openStorage(ctx, now)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	opts := []driver.Option{
		driver.WithConcurrency(p.cfg.Batch.Concurrency),
		driver.WithLocation(p.loc),
		driver.WithHorizonDays(p.cfg.Batch.HorizonDays),
		driver.WithMetrics(p.metrics),
	}
	if p.publisher != nil {
		opts = append(opts, driver.WithPublisher(p.publisher))
	}
	d := driver.New(p.reg, backend, backend, opts...)

	if len(req.LocationIDs) == 0 {
		req.LocationIDs = p.cfg.Batch.Locations
	}
	return d.Run(ctx, req)
}

func (p *pipeline) Close() error {
	if p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}
