// Package pipeline assembles a ready-to-use asset manager from configuration.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/assetpipe/assetpipe/internal/circuit"
	"github.com/assetpipe/assetpipe/internal/config"
	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/internal/fetch"
	"github.com/assetpipe/assetpipe/internal/health"
	"github.com/assetpipe/assetpipe/internal/loader"
	"github.com/assetpipe/assetpipe/internal/manager"
	"github.com/assetpipe/assetpipe/internal/metrics"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/retry"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Pipeline owns the components wired together by New
type Pipeline struct {
	Router     *fetch.Router
	Loader     *loader.Loader
	Manager    *manager.Manager
	Metrics    *metrics.Collector
	Bus        *events.Bus
	Health     *health.Tracker
	RetryStats *retry.StatsCollector

	logger *slog.Logger
}

type options struct {
	logger   *slog.Logger
	fetchers map[string]types.Fetcher
	sinks    []types.EventSink
}

// Option configures New
type Option func(*options)

// WithLogger sets the logger shared by every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFetcher registers f for scheme, replacing whatever the configuration
// would have built for it.
func WithFetcher(scheme string, f types.Fetcher) Option {
	return func(o *options) {
		o.fetchers[scheme] = f
	}
}

// WithSink adds a sink that receives every manager notification
func WithSink(sink types.EventSink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// New builds the fetch router, loader, metrics collector and manager
// described by cfg. The configuration must already be validated.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Pipeline, error) {
	o := options{
		logger:   slog.New(slog.DiscardHandler),
		fetchers: make(map[string]types.Fetcher),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	router, err := buildRouter(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(metricsConfig(cfg.Monitoring.Metrics), logger.With("component", "metrics"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.OnStateChange(func(source string, from, to health.State, err error) {
		logger.Warn("Source health changed", "source", source, "from", from, "to", to, "error", err)
	})
	collector.SetHealthCheck(tracker.Check)

	retryStats := retry.NewStatsCollector()
	ld := loader.New(loaderConfig(cfg.Loader), router,
		loader.WithLogger(logger.With("component", "loader")),
		loader.WithObserver(func(a loader.Attempt) {
			collector.ObserveAttempt(a)
			tracker.Observe(a)
		}),
		loader.WithRetryStats(retryStats),
	)

	bus := events.NewBus(logger)
	sink := events.Multi{collector, bus, events.LogSink{Logger: logger}}
	sink = append(sink, o.sinks...)

	mgr := manager.New(ld, sink,
		manager.WithConcurrency(map[types.Priority]int{
			types.PriorityCritical: cfg.Concurrency.Critical,
			types.PriorityDistrict: cfg.Concurrency.District,
			types.PriorityOptional: cfg.Concurrency.Optional,
		}),
		manager.WithLogger(logger.With("component", "manager")),
	)

	collector.SetSource(func() metrics.Snapshot {
		s := mgr.GetStats()
		return metrics.Snapshot{
			Entries: s.Loaded,
			Memory:  s.Memory,
			Queued:  s.Queued,
			Active:  s.Active,
		}
	})

	logger.Info("Asset pipeline ready",
		"schemes", router.Schemes(),
		"critical", mgr.Concurrency(types.PriorityCritical),
		"district", mgr.Concurrency(types.PriorityDistrict),
		"optional", mgr.Concurrency(types.PriorityOptional))

	return &Pipeline{
		Router:     router,
		Loader:     ld,
		Manager:    mgr,
		Metrics:    collector,
		Bus:        bus,
		Health:     tracker,
		RetryStats: retryStats,
		logger:     logger,
	}, nil
}

// Start serves metrics when enabled
func (p *Pipeline) Start(ctx context.Context) error {
	return p.Metrics.Start(ctx)
}

// Close waits for background preloads, clears the cache and stops the
// metrics server.
func (p *Pipeline) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.Manager.WaitBackground()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("background preloads still running: %w", ctx.Err()))
	}

	p.Manager.Clear()
	p.Metrics.Refresh()
	err = multierr.Append(err, p.Metrics.Stop(ctx))
	return err
}

func buildRouter(ctx context.Context, cfg *config.Configuration, o options) (*fetch.Router, error) {
	routerOpts := []fetch.RouterOption{fetch.WithRouterLogger(o.logger.With("component", "fetch"))}
	if cb := cfg.CircuitBreaker; cb.Enabled {
		routerOpts = append(routerOpts, fetch.WithCircuitBreaker(circuit.Config{
			FailureThreshold: uint32(cb.FailureThreshold),
			MaxRequests:      uint32(cb.MaxRequests),
			Interval:         cb.Interval,
			Timeout:          cb.Timeout,
		}))
	}
	router := fetch.NewRouter(routerOpts...)

	src := cfg.Sources
	if src.HTTP.Enabled {
		router.Register(fetch.NewHTTPFetcher(nil, fetch.HTTPOptions{
			UserAgent:       src.HTTP.UserAgent,
			MaxBytes:        src.HTTP.MaxBytes,
			IdleConnTimeout: src.HTTP.IdleConnTimeout,
			MaxIdleConns:    src.HTTP.MaxIdleConns,
		}, o.logger), "http", "https")
	}

	if src.File.Enabled {
		router.Register(fetch.NewFileFetcher(src.File.Root), "file")
	}

	if src.S3.Enabled && o.fetchers["s3"] == nil {
		s3f, err := fetch.NewS3Fetcher(ctx, fetch.S3Options{
			Region:          src.S3.Region,
			Endpoint:        src.S3.Endpoint,
			AccessKeyID:     src.S3.AccessKeyID,
			SecretAccessKey: src.S3.SecretAccessKey,
			SessionToken:    src.S3.SessionToken,
			ForcePathStyle:  src.S3.ForcePathStyle,
			MaxRetries:      src.S3.MaxRetries,
			UseDualStack:    src.S3.UseDualStack,
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 source: %w", err)
		}
		router.Register(s3f, "s3")
	}

	if src.MinIO.Enabled && o.fetchers["minio"] == nil {
		mf, err := fetch.NewMinIOFetcher(fetch.MinIOOptions{
			Endpoint:  src.MinIO.Endpoint,
			AccessKey: src.MinIO.AccessKey,
			SecretKey: src.MinIO.SecretKey,
			Region:    src.MinIO.Region,
			UseSSL:    src.MinIO.UseSSL,
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio source: %w", err)
		}
		router.Register(mf, "minio")
	}

	for scheme, f := range o.fetchers {
		router.Register(f, scheme)
	}

	return router, nil
}

func loaderConfig(c config.LoaderConfig) loader.Config {
	lc := loader.Config{
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
		Timeout:           c.Timeout,
		BatchConcurrency:  c.BatchConcurrency,
		RequestsPerSecond: c.RequestsPerSecond,
		RetryMultiplier:   c.RetryMultiplier,
		RetryMaxDelay:     c.RetryMaxDelay,
		RetryJitter:       c.RetryJitter,
	}
	for _, r := range c.RetryableReasons {
		lc.RetryableReasons = append(lc.RetryableReasons, errors.Reason(r))
	}
	return lc
}

func metricsConfig(c config.MetricsConfig) *metrics.Config {
	mc := metrics.DefaultConfig()
	mc.Enabled = c.Enabled
	mc.Port = c.Port
	if c.Path != "" {
		mc.Path = c.Path
	}
	if c.Namespace != "" {
		mc.Namespace = c.Namespace
	}
	if c.UpdateInterval > 0 {
		mc.UpdateInterval = c.UpdateInterval
	}
	for k, v := range c.CustomLabels {
		mc.Labels[k] = v
	}
	return mc
}
