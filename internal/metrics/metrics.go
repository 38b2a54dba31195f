// Package metrics exposes Prometheus counters for congestion batches and the
// HTTP endpoint that serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/crowdcast/internal/logger"
)

// Metrics holds the batch collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	RecordsWritten    prometheus.Counter
	Locations         *prometheus.CounterVec
	PublishFailures   prometheus.Counter
	BatchDuration     prometheus.Histogram
	LastBatchFinished prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_records_written_total",
			Help: "Total number of congestion records upserted.",
		}),
		Locations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdcast_locations_total",
			Help: "Locations processed per batch, by outcome.",
		}, []string{"status"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_publish_failures_total",
			Help: "Total number of failed label publications.",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crowdcast_batch_duration_seconds",
			Help:    "Duration of a full congestion batch.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		LastBatchFinished: f.NewGauge(prometheus.GaugeOpts{
			Name: "crowdcast_last_batch_finished_timestamp_seconds",
			Help: "Unix time the last batch finished.",
		}),
	}
}

// ObserveLocation counts one location outcome and the records it wrote.
func (m *Metrics) ObserveLocation(status string, records int) {
	if m == nil {
		return
	}
	m.Locations.WithLabelValues(status).Inc()
	if records > 0 {
		m.RecordsWritten.Add(float64(records))
	}
}

// ObservePublishFailure counts a failed publication.
func (m *Metrics) ObservePublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// ObserveBatch records the duration and completion time of a batch.
func (m *Metrics) ObserveBatch(d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
	m.LastBatchFinished.Set(float64(finished.Unix()))
}

// Handler returns the mux serving /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
