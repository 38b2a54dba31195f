package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLocation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveLocation("written", 168)
	m.ObserveLocation("written", 24)
	m.ObserveLocation("skipped", 0)
	m.ObservePublishFailure()

	assert.Equal(t, 192.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Locations.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Locations.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
}

func TestObserveBatch(t *testing.T) {
	m := New(prometheus.NewRegistry())
	finished := time.Unix(1714521600, 0)

	m.ObserveBatch(1500*time.Millisecond, finished)

	assert.Equal(t, 1714521600.0, testutil.ToFloat64(m.LastBatchFinished))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLocation("failed", 0)
	m.ObservePublishFailure()
	m.ObserveBatch(time.Second, time.Now())
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveLocation("written", 3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "crowdcast_records_written_total 3"), "metrics output:\n%s", body)
}
