package metrics

import (
	"sort"
	"sync"
	"time"
)

// TypeLoadMetrics tracks load attempts for one asset type
type TypeLoadMetrics struct {
	Count             int64         `json:"count"`
	TotalLatency      time.Duration `json:"total_latency"`
	MinLatency        time.Duration `json:"min_latency"`
	MaxLatency        time.Duration `json:"max_latency"`
	AverageLatency    time.Duration `json:"average_latency"`
	ErrorCount        int64         `json:"error_count"`
	Retries           int64         `json:"retries"`
	ErrorRate         float64       `json:"error_rate"`
	LastOperationTime time.Time     `json:"last_operation_time"`
}

// AssetLoadMetrics tracks load attempts for one URL
type AssetLoadMetrics struct {
	URL         string        `json:"url"`
	Type        string        `json:"type"`
	Attempts    int64         `json:"attempts"`
	Failures    int64         `json:"failures"`
	MaxLatency  time.Duration `json:"max_latency"`
	AvgLatency  time.Duration `json:"avg_latency"`
	FirstAccess time.Time     `json:"first_access"`
	LastAccess  time.Time     `json:"last_access"`

	totalLatency time.Duration
}

// DetailedLoadMetrics aggregates per-type and per-asset load statistics
type DetailedLoadMetrics struct {
	mu               sync.RWMutex
	types            map[string]*TypeLoadMetrics
	assets           map[string]*AssetLoadMetrics
	maxTrackedAssets int
	startTime        time.Time
	totalAttempts    int64
	totalErrors      int64
}

// NewDetailedLoadMetrics creates a tracker that follows at most
// maxTrackedAssets distinct URLs.
func NewDetailedLoadMetrics(maxTrackedAssets int) *DetailedLoadMetrics {
	return &DetailedLoadMetrics{
		types:            make(map[string]*TypeLoadMetrics),
		assets:           make(map[string]*AssetLoadMetrics),
		maxTrackedAssets: maxTrackedAssets,
		startTime:        time.Now(),
	}
}

// RecordLoad records one attempt
func (d *DetailedLoadMetrics) RecordLoad(assetType, url string, latency time.Duration, attempt int, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.totalAttempts++
	if !success {
		d.totalErrors++
	}

	tm, exists := d.types[assetType]
	if !exists {
		tm = &TypeLoadMetrics{MinLatency: latency}
		d.types[assetType] = tm
	}
	tm.Count++
	tm.TotalLatency += latency
	tm.LastOperationTime = now
	if latency < tm.MinLatency {
		tm.MinLatency = latency
	}
	if latency > tm.MaxLatency {
		tm.MaxLatency = latency
	}
	tm.AverageLatency = time.Duration(int64(tm.TotalLatency) / tm.Count)
	if attempt > 1 {
		tm.Retries++
	}
	if !success {
		tm.ErrorCount++
	}
	tm.ErrorRate = float64(tm.ErrorCount) / float64(tm.Count)

	d.updateAsset(assetType, url, latency, success, now)
}

func (d *DetailedLoadMetrics) updateAsset(assetType, url string, latency time.Duration, success bool, now time.Time) {
	if url == "" {
		return
	}
	am, exists := d.assets[url]
	if !exists {
		if len(d.assets) >= d.maxTrackedAssets {
			return
		}
		am = &AssetLoadMetrics{URL: url, Type: assetType, FirstAccess: now}
		d.assets[url] = am
	}

	am.Attempts++
	am.LastAccess = now
	am.totalLatency += latency
	am.AvgLatency = time.Duration(int64(am.totalLatency) / am.Attempts)
	if latency > am.MaxLatency {
		am.MaxLatency = latency
	}
	if !success {
		am.Failures++
	}
}

// GetTypeMetrics returns a copy of the metrics of one asset type
func (d *DetailedLoadMetrics) GetTypeMetrics(assetType string) *TypeLoadMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if tm, exists := d.types[assetType]; exists {
		tmCopy := *tm
		return &tmCopy
	}
	return nil
}

// GetSlowestAssets returns up to n tracked assets by descending max latency
func (d *DetailedLoadMetrics) GetSlowestAssets(n int) []AssetLoadMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	assets := make([]AssetLoadMetrics, 0, len(d.assets))
	for _, am := range d.assets {
		assets = append(assets, *am)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].MaxLatency != assets[j].MaxLatency {
			return assets[i].MaxLatency > assets[j].MaxLatency
		}
		return assets[i].URL < assets[j].URL
	})

	if n > len(assets) {
		n = len(assets)
	}
	return assets[:n]
}

// GetSummary returns a summary of all metrics
func (d *DetailedLoadMetrics) GetSummary() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	uptime := time.Since(d.startTime)
	errorRate := 0.0
	if d.totalAttempts > 0 {
		errorRate = float64(d.totalErrors) / float64(d.totalAttempts)
	}

	return map[string]interface{}{
		"uptime_seconds":       uptime.Seconds(),
		"total_attempts":       d.totalAttempts,
		"total_errors":         d.totalErrors,
		"overall_error_rate":   errorRate,
		"tracked_assets_count": len(d.assets),
	}
}

// Reset resets all metrics
func (d *DetailedLoadMetrics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.types = make(map[string]*TypeLoadMetrics)
	d.assets = make(map[string]*AssetLoadMetrics)
	d.startTime = time.Now()
	d.totalAttempts = 0
	d.totalErrors = 0
}
