/*
Package metrics exports asset pipeline metrics to Prometheus.

	┌──────────────┐  ObserveAttempt   ┌─────────────┐
	│    Loader    │ ────────────────▶ │             │     /metrics
	└──────────────┘                   │  Collector  │ ──▶ /health
	┌──────────────┐  Emit(topic, ..)  │             │     /debug/operations
	│   Manager    │ ────────────────▶ │             │     /debug/assets
	└──────────────┘                   └──────┬──────┘
	        ▲              Refresh (poll)      │
	        └──────────────────────────────────┘

The collector is wired in three places:

	collector, err := metrics.NewCollector(cfg, logger)
	if err != nil {
		return err
	}
	l := loader.New(loaderCfg, fetcher, loader.WithObserver(collector.ObserveAttempt))
	m := manager.New(l, events.Multi{collector, bus})
	collector.SetSource(func() metrics.Snapshot { ... m.GetStats() ... })

Exported series (namespace "assetpipe" by default):

	load_attempts_total{type,outcome}       attempts by success or reason code
	load_attempt_duration_seconds{type}     attempt latency
	events_total{topic}                     manager notifications
	failures_total{topic,reason}            asset:failed and asset:manifest-failed
	cache_entries, cache_memory_bytes       live cache size
	active_loads{priority}                  executing loads per tier
	queued_loads{priority}                  waiting requests per tier
	tier_progress_percent{priority}         progress of tracked requests

A disabled collector still keeps the in-memory operation summary and the
detailed per-asset statistics but registers nothing and serves nothing.
*/
package metrics
