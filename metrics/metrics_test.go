package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosync/pipeline"
)

// Test Helpers
// ---------------------------------------------------------------------

// remoteWriteServer decodes every write request it receives.
func remoteWriteServer(t *testing.T, status int) (*httptest.Server, chan []prompb.TimeSeries) {
	t.Helper()
	received := make(chan []prompb.TimeSeries, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.1.0", r.Header.Get("X-Prometheus-Remote-Write-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var writeReq prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &writeReq))
		received <- writeReq.Timeseries
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func findLabel(labels []prompb.Label, name string) string {
	for _, l := range labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

// byName indexes series by metric name plus the given label.
func byName(series []prompb.TimeSeries, label string) map[string]float64 {
	out := make(map[string]float64)
	for _, ts := range series {
		key := findLabel(ts.Labels, "__name__")
		if label != "" {
			key += "/" + findLabel(ts.Labels, label)
		}
		out[key] = ts.Samples[0].Value
	}
	return out
}

func receive(t *testing.T, ch chan []prompb.TimeSeries) []prompb.TimeSeries {
	t.Helper()
	select {
	case series := <-ch:
		return series
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for metrics to be received")
		return nil
	}
}

// Tests
// ---------------------------------------------------------------------

func TestPushRegistry_Flush(t *testing.T) {
	server, received := remoteWriteServer(t, http.StatusNoContent)
	registry := NewPushRegistry(PushConfig{
		URL:      server.URL + "/",
		Prefix:   "test",
		Job:      "testjob",
		Instance: "testinstance",
	})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "test_metric"})
	require.NoError(t, err)
	gauge.Set(41)
	gauge.Set(42)

	counterVec, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "test_counter"}, []string{"step"})
	require.NoError(t, err)
	counterVec.With(prometheus.Labels{"step": "fetch"}).Inc()
	counterVec.With(prometheus.Labels{"step": "fetch"}).Add(2)
	counterVec.With(prometheus.Labels{"step": "load"}).Inc()

	require.NoError(t, registry.Flush(context.Background()))
	series := receive(t, received)
	require.Len(t, series, 3, "one series per metric and label set")

	values := byName(series, "step")
	assert.Equal(t, 42.0, values["test_test_metric/"])
	assert.Equal(t, 3.0, values["test_test_counter/fetch"])
	assert.Equal(t, 1.0, values["test_test_counter/load"])

	for _, ts := range series {
		assert.Equal(t, "testjob", findLabel(ts.Labels, "job"))
		assert.Equal(t, "testinstance", findLabel(ts.Labels, "instance"))
		for i := 1; i < len(ts.Labels); i++ {
			assert.Less(t, ts.Labels[i-1].Name, ts.Labels[i].Name, "labels are sorted")
		}
	}

	t.Run("counters keep accumulating", func(t *testing.T) {
		counterVec.With(prometheus.Labels{"step": "load"}).Inc()
		require.NoError(t, registry.Flush(context.Background()))
		assert.Equal(t, 2.0, byName(receive(t, received), "step")["test_test_counter/load"])
	})
}

func TestPushRegistry_FlushEmpty(t *testing.T) {
	server, received := remoteWriteServer(t, http.StatusOK)
	registry := NewPushRegistry(PushConfig{URL: server.URL})

	require.NoError(t, registry.Flush(context.Background()))
	assert.Empty(t, received)
}

func TestPushRegistry_FlushError(t *testing.T) {
	server, _ := remoteWriteServer(t, http.StatusBadRequest)
	registry := NewPushRegistry(PushConfig{URL: server.URL})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "test_metric"})
	require.NoError(t, err)
	gauge.Set(1)

	err = registry.Flush(context.Background())
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestPushCounter_NegativePanics(t *testing.T) {
	registry := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "test_counter"})
	require.NoError(t, err)
	assert.Panics(t, func() { counter.Add(-1) })
}

func TestLabelsToKey(t *testing.T) {
	a := labelsToKey(map[string]string{"pipeline": "import_prices", "env": "production"})
	b := labelsToKey(map[string]string{"env": "production", "pipeline": "import_prices"})
	assert.Equal(t, a, b)
	assert.Equal(t, "env=production,pipeline=import_prices,", a)
}

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	require.NoError(t, err)
	gauge.Set(42.0)

	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, err)
	counter.Inc()

	_, err = registry.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	assert.Error(t, err, "duplicate registration")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "test_gauge 42")
	assert.Contains(t, body, "test_counter 1")
}

func testReport() *pipeline.Report {
	return &pipeline.Report{
		RunID:       "run-1",
		Pipeline:    "import_prices",
		Env:         "production",
		Started:     time.Unix(1700000000, 0),
		Elapsed:     90 * time.Second,
		Completed:   false,
		AbortReason: "feed unavailable",
		Steps: []pipeline.StepResult{
			{Name: "fetch", State: pipeline.Finished, Status: pipeline.StatusSuccess},
			{Name: "load", State: pipeline.Aborted, Status: pipeline.StatusFailed},
			{Name: "report", State: pipeline.NotStarted, Status: pipeline.StatusPending},
		},
	}
}

func TestRunRecorder_Push(t *testing.T) {
	server, received := remoteWriteServer(t, http.StatusNoContent)
	registry := NewPushRegistry(PushConfig{URL: server.URL, Prefix: "gosync"})

	recorder, err := NewRunRecorder(registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	recorder.RecordRun(context.Background(), testReport())

	series := receive(t, received)
	names := byName(series, "")
	assert.Equal(t, 1.0, names["gosync_sync_runs_total"])
	assert.Equal(t, 90.0, names["gosync_sync_run_duration_seconds"])
	assert.Equal(t, 1700000090.0, names["gosync_sync_last_run_timestamp_seconds"])

	steps := byName(series, "step")
	assert.Equal(t, 1.0, steps["gosync_sync_steps_total/fetch"])
	assert.Equal(t, 1.0, steps["gosync_sync_steps_total/load"])
	assert.NotContains(t, steps, "gosync_sync_steps_total/report", "steps that never started are not counted")

	for _, ts := range series {
		if findLabel(ts.Labels, "__name__") == "gosync_sync_runs_total" {
			assert.Equal(t, "aborted", findLabel(ts.Labels, "outcome"))
		}
	}
}

func TestRunRecorder_Scrape(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	recorder, err := NewRunRecorder(registry, slog.Default())
	require.NoError(t, err)
	recorder.RecordRun(context.Background(), testReport())

	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `sync_runs_total{env="production",outcome="aborted",pipeline="import_prices"} 1`)
	assert.Contains(t, body, `sync_steps_total{pipeline="import_prices",status="failed",step="load"} 1`)

	_, err = NewRunRecorder(registry, slog.Default())
	assert.Error(t, err, "metrics are registered once per registry")
}
