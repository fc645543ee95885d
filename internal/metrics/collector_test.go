package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/internal/loader"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

var _ types.EventSink = (*Collector)(nil)
var _ loader.Observer = (*Collector)(nil).ObserveAttempt

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Namespace = "test"
	return cfg
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Port != 9090 {
			t.Errorf("default port = %d, want 9090", collector.config.Port)
		}
		if collector.config.Namespace != "assetpipe" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "assetpipe")
		}
		if collector.Registry() == nil {
			t.Error("enabled collector has no registry")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if collector.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}

		// every entry point is a no-op
		collector.Emit(events.TopicLoaded, events.Loaded{AssetID: "a"})
		collector.ObserveAttempt(loader.Attempt{AssetType: "image", URL: "a.png", Attempt: 1})
		collector.Refresh()
		if err := collector.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector = %v", err)
		}
		if got := collector.Detailed().GetTypeMetrics("image"); got == nil || got.Count != 1 {
			t.Errorf("detailed metrics not kept while disabled: %+v", got)
		}
	})
}

func TestObserveAttempt(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.ObserveAttempt(loader.Attempt{AssetType: "image", URL: "a.png", Attempt: 1, MaxAttempts: 3,
		Duration: 20 * time.Millisecond, Reason: errors.ReasonNetworkError, Err: io.ErrUnexpectedEOF})
	collector.ObserveAttempt(loader.Attempt{AssetType: "image", URL: "a.png", Attempt: 2, MaxAttempts: 3,
		Duration: 10 * time.Millisecond})

	if got := testutil.ToFloat64(collector.attemptCounter.WithLabelValues("image", "network-error")); got != 1 {
		t.Errorf("network-error attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.attemptCounter.WithLabelValues("image", "success")); got != 1 {
		t.Errorf("successful attempts = %v, want 1", got)
	}

	operations := collector.GetMetrics()["operations"].(map[string]*OperationMetrics)
	op, ok := operations["load_image"]
	if !ok {
		t.Fatal("load_image operation not recorded")
	}
	if op.Count != 2 || op.Errors != 1 {
		t.Errorf("op = %+v, want 2 attempts and 1 error", op)
	}
	if op.AvgDuration != 15*time.Millisecond {
		t.Errorf("op.AvgDuration = %v, want 15ms", op.AvgDuration)
	}

	collector.ResetMetrics()
	if len(collector.GetMetrics()["operations"].(map[string]*OperationMetrics)) != 0 {
		t.Error("ResetMetrics() kept operations")
	}
}

func TestEmit(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.Emit(events.TopicLoaded, events.Loaded{AssetID: "a", Type: "image"})
	collector.Emit(events.TopicLoaded, events.Loaded{AssetID: "b", Type: "image"})
	collector.Emit(events.TopicFailed, errors.Telemetry{"reason": "http-404"})
	collector.Emit(events.TopicManifestFailed, errors.Telemetry{"message": "boom"})
	collector.Emit(events.TopicProgress, events.Progress{Priority: types.PriorityCritical, Loaded: 1, Total: 4, Percentage: 25})

	if got := testutil.ToFloat64(collector.eventCounter.WithLabelValues(events.TopicLoaded)); got != 2 {
		t.Errorf("loaded events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.failureCounter.WithLabelValues(events.TopicFailed, "http-404")); got != 1 {
		t.Errorf("http-404 failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.failureCounter.WithLabelValues(events.TopicManifestFailed, "unknown")); got != 1 {
		t.Errorf("untyped manifest failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.tierProgress.WithLabelValues("critical")); got != 25 {
		t.Errorf("critical progress = %v, want 25", got)
	}

	collector.Emit(events.TopicCleared, events.Cleared{})
	if got := testutil.ToFloat64(collector.tierProgress.WithLabelValues("critical")); got != 0 {
		t.Errorf("critical progress after clear = %v, want 0", got)
	}
}

func TestRefresh(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.Refresh()
	collector.SetSource(func() Snapshot {
		return Snapshot{
			Entries: 3,
			Memory:  4096,
			Queued:  map[types.Priority]int{types.PriorityOptional: 5},
			Active:  map[types.Priority]int{types.PriorityCritical: 1},
		}
	})
	collector.Refresh()

	if got := testutil.ToFloat64(collector.cacheEntries); got != 3 {
		t.Errorf("cache entries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.cacheMemory); got != 4096 {
		t.Errorf("cache memory = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(collector.queuedLoads.WithLabelValues("optional")); got != 5 {
		t.Errorf("queued optional = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.activeLoads.WithLabelValues("critical")); got != 1 {
		t.Errorf("active critical = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.activeLoads.WithLabelValues("district")); got != 0 {
		t.Errorf("active district = %v, want 0", got)
	}
}

func TestStartStop(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	collector.Emit(events.TopicCleared, events.Cleared{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := collector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if err := collector.Stop(context.Background()); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	addr := collector.Addr()
	if addr == "" {
		t.Fatal("Addr() is empty after Start")
	}
	port := addr[strings.LastIndex(addr, ":"):]

	for path, want := range map[string]string{
		"/metrics":          "test_events_total",
		"/health":           "healthy",
		"/debug/operations": "No operations recorded",
		"/debug/assets":     "summary",
	} {
		resp, err := http.Get("http://127.0.0.1" + port + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), want) {
			t.Errorf("GET %s body missing %q", path, want)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	healthy := true
	collector.SetHealthCheck(func() (bool, any) {
		return healthy, []string{"s3://bucket"}
	})

	for _, tt := range []struct {
		healthy bool
		code    int
		status  string
	}{
		{true, http.StatusOK, `"status":"healthy"`},
		{false, http.StatusServiceUnavailable, `"status":"degraded"`},
	} {
		healthy = tt.healthy
		rec := httptest.NewRecorder()
		collector.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != tt.code {
			t.Errorf("healthy=%v: status = %d, want %d", tt.healthy, rec.Code, tt.code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, tt.status) || !strings.Contains(body, "s3://bucket") {
			t.Errorf("healthy=%v: body = %s", tt.healthy, body)
		}
	}
}

func TestDebugOperationsResetOnClear(t *testing.T) {
	collector, err := NewCollector(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.ObserveAttempt(loader.Attempt{AssetType: "json", URL: "a.json", Attempt: 1, MaxAttempts: 3,
		Duration: 5 * time.Millisecond})

	rec := httptest.NewRecorder()
	collector.debugOperationsHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	if !strings.Contains(rec.Body.String(), "load_json") {
		t.Errorf("body missing load_json: %s", rec.Body.String())
	}

	collector.Emit(events.TopicCleared, events.Cleared{})

	rec = httptest.NewRecorder()
	collector.debugOperationsHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	if !strings.Contains(rec.Body.String(), "No operations recorded") {
		t.Errorf("operations survived clear: %s", rec.Body.String())
	}
}
