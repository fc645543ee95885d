package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/internal/loader"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Collector exports asset pipeline metrics to Prometheus. It observes
// loader attempts and doubles as an event sink for manager notifications.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger
	detailed *DetailedLoadMetrics

	attemptCounter  *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	eventCounter    *prometheus.CounterVec
	failureCounter  *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
	cacheMemory     prometheus.Gauge
	activeLoads     *prometheus.GaugeVec
	queuedLoads     *prometheus.GaugeVec
	tierProgress    *prometheus.GaugeVec

	operations map[string]*OperationMetrics
	source     func() Snapshot
	health     func() (bool, any)
	lastReset  time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Snapshot is the manager state mirrored into gauges
type Snapshot struct {
	Entries int
	Memory  int64
	Queued  map[types.Priority]int
	Active  map[types.Priority]int
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9090,
		Path:           "/metrics",
		Namespace:      "assetpipe",
		UpdateInterval: 15 * time.Second,
		Labels:         make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 15 * time.Second
	}

	collector := &Collector{
		config:     config,
		logger:     logger,
		detailed:   NewDetailedLoadMetrics(100),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

// Registry returns the Prometheus registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Detailed returns per-type and per-asset load statistics
func (c *Collector) Detailed() *DetailedLoadMetrics {
	return c.detailed
}

// SetSource registers the function polled for gauge values
func (c *Collector) SetSource(source func() Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = source
}

// SetHealthCheck registers the function behind /health. It returns whether
// the pipeline is healthy and a JSON-encodable description.
func (c *Collector) SetHealthCheck(check func() (bool, any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = check
}

// Start serves the metrics endpoint and starts polling the source
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	mux.HandleFunc("/debug/assets", c.debugAssetsHandler)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()
	go c.updateLoop(ctx)

	c.logger.Info("Metrics server started", "addr", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the listening address once started
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// ObserveAttempt records one loader attempt. It satisfies loader.Observer.
func (c *Collector) ObserveAttempt(a loader.Attempt) {
	success := a.Err == nil
	c.detailed.RecordLoad(a.AssetType, a.URL, a.Duration, a.Attempt, success)
	c.RecordOperation("load_"+a.AssetType, a.Duration, success)

	if !c.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = string(a.Reason)
	}
	c.attemptCounter.With(prometheus.Labels{"type": a.AssetType, "outcome": outcome}).Inc()
	c.attemptDuration.With(prometheus.Labels{"type": a.AssetType}).Observe(a.Duration.Seconds())
}

// RecordOperation records an operation with its duration
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, exists := c.operations[operation]
	if !exists {
		op = &OperationMetrics{}
		c.operations[operation] = op
	}
	op.Count++
	op.TotalDuration += duration
	if !success {
		op.Errors++
	}
	op.LastOperation = time.Now()
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
}

// Emit counts manager notifications. It satisfies types.EventSink.
func (c *Collector) Emit(topic string, payload any) {
	if !c.config.Enabled {
		return
	}

	c.eventCounter.With(prometheus.Labels{"topic": topic}).Inc()

	switch p := payload.(type) {
	case errors.Telemetry:
		reason, _ := p["reason"].(string)
		if reason == "" {
			reason = string(errors.ReasonUnknown)
		}
		c.failureCounter.With(prometheus.Labels{"topic": topic, "reason": reason}).Inc()
	case events.Progress:
		c.tierProgress.With(prometheus.Labels{"priority": string(p.Priority)}).Set(p.Percentage)
	case events.Cleared:
		for _, tier := range types.Priorities {
			c.tierProgress.With(prometheus.Labels{"priority": string(tier)}).Set(0)
		}
		c.ResetMetrics()
	}
}

// Refresh copies the source snapshot into the gauges
func (c *Collector) Refresh() {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if !c.config.Enabled || source == nil {
		return
	}

	snap := source()
	c.cacheEntries.Set(float64(snap.Entries))
	c.cacheMemory.Set(float64(snap.Memory))
	for _, tier := range types.Priorities {
		labels := prometheus.Labels{"priority": string(tier)}
		c.activeLoads.With(labels).Set(float64(snap.Active[tier]))
		c.queuedLoads.With(labels).Set(float64(snap.Queued[tier]))
	}
}

// GetMetrics returns current metrics
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		opCopy := *v
		operations[k] = &opCopy
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets the internal operation tracking. A cleared manager
// resets it through Emit.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
	c.detailed.Reset()
}

func (c *Collector) initMetrics() {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		})
	}

	c.attemptCounter = counter("load_attempts_total", "Total number of load attempts by outcome", "type", "outcome")
	c.attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "load_attempt_duration_seconds",
		Help:        "Duration of load attempts in seconds",
		Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
		ConstLabels: c.config.Labels,
	}, []string{"type"})
	c.eventCounter = counter("events_total", "Total number of asset notifications", "topic")
	c.failureCounter = counter("failures_total", "Total number of reported failures", "topic", "reason")
	c.cacheEntries = gauge("cache_entries", "Number of live cached assets")
	c.cacheMemory = gauge("cache_memory_bytes", "Estimated memory held by cached assets")
	c.activeLoads = gaugeVec("active_loads", "Executing loads per tier", "priority")
	c.queuedLoads = gaugeVec("queued_loads", "Queued requests per tier", "priority")
	c.tierProgress = gaugeVec("tier_progress_percent", "Progress of tracked requests per tier", "priority")
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.attemptCounter,
		c.attemptDuration,
		c.eventCounter,
		c.failureCounter,
		c.cacheEntries,
		c.cacheMemory,
		c.activeLoads,
		c.queuedLoads,
		c.tierProgress,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	c.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	check := c.health
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if check == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"assetpipe-metrics"}`))
		return
	}

	healthy, details := check()
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = gojson.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"service": "assetpipe-metrics",
		"sources": details,
	})
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := c.GetMetrics()
	operations, _ := snapshot["operations"].(map[string]*OperationMetrics)
	uptime, _ := snapshot["uptime"].(time.Duration)

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Asset Load Operations\n")
	writef("=====================\n\n")
	writef("Uptime: %v\n\n", uptime)

	if len(operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-20s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	for _, name := range names {
		op := operations[name]
		writef("%-20s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}

func (c *Collector) debugAssetsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = gojson.NewEncoder(w).Encode(map[string]any{
		"summary": c.detailed.GetSummary(),
		"slowest": c.detailed.GetSlowestAssets(10),
	})
}
