// Package manager schedules asset loads declared by a manifest. Requests
// are deduplicated by id, admitted per priority tier under concurrency caps
// with strict tier precedence, and cached under reference counting.
package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/assetpipe/assetpipe/internal/cache"
	"github.com/assetpipe/assetpipe/internal/events"
	"github.com/assetpipe/assetpipe/internal/manifest"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Telemetry consumers
const (
	ConsumerLoadAsset     = "AssetManager.loadAsset"
	ConsumerLoadManifest  = "AssetManager.loadManifest"
	ConsumerPreloadAssets = "AssetManager.preloadAssets"
)

// DefaultConcurrency is the per-tier cap on concurrently executing loads
var DefaultConcurrency = map[types.Priority]int{
	types.PriorityCritical: 1,
	types.PriorityDistrict: 2,
	types.PriorityOptional: 1,
}

// Loader is the loading capability the manager dispatches to
type Loader interface {
	LoadData(ctx context.Context, url string) (any, error)
	LoadByType(ctx context.Context, url, assetType string) (any, error)
}

// LoadingStats is the progress of one tier
type LoadingStats struct {
	Loaded     int     `json:"loaded"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Stats is a snapshot of the manager
type Stats struct {
	Loaded  int                    `json:"loaded"`
	Loading int                    `json:"loading"`
	Groups  int                    `json:"groups"`
	Memory  int64                  `json:"memory"`
	Queued  map[types.Priority]int `json:"queued"`
	Active  map[types.Priority]int `json:"active"`
}

// Option configures a Manager
type Option func(*Manager)

// WithConcurrency overrides tier caps. Non-positive values and unknown
// tiers are ignored.
func WithConcurrency(caps map[types.Priority]int) Option {
	return func(m *Manager) {
		for tier, n := range caps {
			if _, known := m.concurrency[tier]; known && n > 0 {
				m.concurrency[tier] = n
			}
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type tierStats struct {
	loaded int
	total  int
}

// flight is a request that is queued or executing
type flight struct {
	id         string
	entry      manifest.Entry
	priority   types.Priority
	requestID  string
	context    map[string]any
	pending    *Pending
	progress   []types.Priority
	generation uint64
}

// Manager owns the manifest, group index, queues, in-flight requests and
// the live cache. All of it is guarded by mu; notifications are published
// after mu is released.
type Manager struct {
	loader      Loader
	sink        types.EventSink
	logger      *slog.Logger
	concurrency map[types.Priority]int
	ctx         context.Context

	mu         sync.Mutex
	manifest   *manifest.Manifest
	groups     map[string][]string
	cache      *cache.Store
	inflight   map[string]*flight
	queues     map[types.Priority][]*flight
	active     map[types.Priority]int
	stats      map[types.Priority]*tierStats
	generation uint64

	background sync.WaitGroup
}

// New creates a manager. A nil sink discards notifications.
func New(loader Loader, sink types.EventSink, opts ...Option) *Manager {
	if sink == nil {
		sink = events.Nop{}
	}
	m := &Manager{
		loader:      loader,
		sink:        sink,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: make(map[types.Priority]int, len(DefaultConcurrency)),
		ctx:         context.Background(),
		cache:       cache.NewStore(),
	}
	for tier, n := range DefaultConcurrency {
		m.concurrency[tier] = n
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resetLocked()
	return m
}

func (m *Manager) resetLocked() {
	m.manifest = nil
	m.groups = make(map[string][]string)
	m.inflight = make(map[string]*flight)
	m.queues = make(map[types.Priority][]*flight, len(types.Priorities))
	m.stats = make(map[types.Priority]*tierStats, len(types.Priorities))
	if m.active == nil {
		m.active = make(map[types.Priority]int, len(types.Priorities))
	}
	for _, tier := range types.Priorities {
		m.stats[tier] = &tierStats{}
	}
}

// Concurrency returns the effective cap of a tier
func (m *Manager) Concurrency(tier types.Priority) int {
	return m.concurrency[types.NormalizePriority(tier)]
}

// outbox collects notifications while mu is held
type outbox []events.Event

func (o *outbox) add(topic string, payload any) {
	*o = append(*o, events.Event{Topic: topic, Payload: payload})
}

func (m *Manager) publish(out outbox) {
	for _, ev := range out {
		m.sink.Emit(ev.Topic, ev.Payload)
	}
}

// LoadManifest loads, validates and installs the manifest at url. On
// failure the previous manifest and all other state are kept.
func (m *Manager) LoadManifest(ctx context.Context, url string) error {
	raw, err := m.loader.LoadData(ctx, url)
	if err == nil {
		var mf *manifest.Manifest
		if mf, err = m.parseManifest(url, raw); err == nil {
			m.installManifest(url, mf)
			return nil
		}
	}

	telemetry := errors.BuildTelemetryContext(err, map[string]any{
		"consumer":    ConsumerLoadManifest,
		"manifestUrl": url,
	})
	telemetry["error"] = err.Error()
	m.logger.Error("Failed to load manifest",
		"url", url,
		"reason", errors.ReasonOf(err),
		"error", err)
	m.sink.Emit(events.TopicManifestFailed, telemetry)
	return err
}

func (m *Manager) parseManifest(url string, raw any) (*manifest.Manifest, error) {
	mf, err := manifest.Decode(raw)
	if err == nil {
		err = mf.Validate()
	}
	if err != nil {
		return nil, errors.NewLoadError(types.KindData, url, 1, 1, errors.ReasonParseError).WithCause(err)
	}
	return mf, nil
}

// SetManifest validates and installs mf as if it had been loaded
func (m *Manager) SetManifest(mf *manifest.Manifest) error {
	if mf == nil {
		return fmt.Errorf("%w: nil manifest", errors.ErrInvalidManifest)
	}
	if err := mf.Validate(); err != nil {
		return err
	}
	m.installManifest("", mf)
	return nil
}

func (m *Manager) installManifest(url string, mf *manifest.Manifest) {
	mf = mf.Clone()
	m.mu.Lock()
	m.manifest = mf
	m.groups = mf.Groups()
	payload := events.ManifestLoaded{URL: url, Assets: len(mf.Assets), Groups: len(m.groups)}
	m.mu.Unlock()

	m.logger.Info("Manifest loaded", "url", url, "assets", payload.Assets, "groups", payload.Groups)
	m.sink.Emit(events.TopicManifestLoaded, payload)
}

// Manifest returns a copy of the installed manifest, nil before one is
// loaded
func (m *Manager) Manifest() *manifest.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest.Clone()
}

type requestOptions struct {
	priority types.Priority
	progress bool
	counted  bool
	context  map[string]any
}

// RequestOption configures a single request
type RequestOption func(*requestOptions)

// WithPriority overrides the manifest priority. An empty value keeps the
// manifest priority; unrecognized values fall back to optional.
func WithPriority(p types.Priority) RequestOption {
	return func(o *requestOptions) {
		o.priority = p
	}
}

// WithProgress counts the request toward its tier's progress
func WithProgress() RequestOption {
	return func(o *requestOptions) {
		o.progress = true
	}
}

// WithContext adds fields to failure telemetry
func WithContext(fields map[string]any) RequestOption {
	return func(o *requestOptions) {
		if o.context == nil {
			o.context = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			o.context[k] = v
		}
	}
}

// LoadAsset requests id and waits for it. A cached asset gains a reference
// and is returned immediately.
func (m *Manager) LoadAsset(ctx context.Context, id string, opts ...RequestOption) (any, error) {
	return m.Request(id, opts...).Wait(ctx)
}

// Request requests id without waiting. Concurrent requests for an id that
// is queued or loading share one handle and one load.
func (m *Manager) Request(id string, opts ...RequestOption) *Pending {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return m.request(id, o)
}

func (m *Manager) request(id string, o requestOptions) *Pending {
	var out outbox
	m.mu.Lock()

	if value, refCount, ok := m.cache.Acquire(id); ok {
		out.add(events.TopicReferenceAcquired, events.Reference{AssetID: id, RefCount: refCount})
		if o.progress {
			tier := m.priorityFor(id, o.priority)
			m.countLocked(tier, o.counted)
			m.advanceLocked(tier, &out)
		}
		m.mu.Unlock()
		m.publish(out)
		return settled(id, value, nil)
	}

	if f, ok := m.inflight[id]; ok {
		if o.progress {
			tier := m.priorityFor(id, o.priority)
			m.countLocked(tier, o.counted)
			f.progress = append(f.progress, tier)
		}
		m.mu.Unlock()
		return f.pending
	}

	entry, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return settled(id, nil, err)
	}

	tier := o.priority
	if tier == "" {
		tier = entry.Priority
	}
	tier = types.NormalizePriority(tier)

	f := &flight{
		id:         id,
		entry:      entry,
		priority:   tier,
		requestID:  uuid.NewString(),
		context:    o.context,
		pending:    newPending(id),
		generation: m.generation,
	}
	if o.progress {
		m.countLocked(tier, o.counted)
		f.progress = append(f.progress, tier)
	}
	m.inflight[id] = f
	m.queues[tier] = append(m.queues[tier], f)
	m.processQueuesLocked(&out)

	m.mu.Unlock()
	m.publish(out)
	return f.pending
}

func (m *Manager) lookupLocked(id string) (manifest.Entry, error) {
	if m.manifest == nil {
		return manifest.Entry{}, fmt.Errorf("%w: %s (%w)", errors.ErrAssetNotFound, id, errors.ErrManifestNotLoaded)
	}
	entry, ok := m.manifest.Find(id)
	if !ok {
		return manifest.Entry{}, fmt.Errorf("%w: %s", errors.ErrAssetNotFound, id)
	}
	return entry, nil
}

func (m *Manager) priorityFor(id string, requested types.Priority) types.Priority {
	if requested == "" && m.manifest != nil {
		if entry, ok := m.manifest.Find(id); ok {
			requested = entry.Priority
		}
	}
	return types.NormalizePriority(requested)
}

func (m *Manager) countLocked(tier types.Priority, counted bool) {
	if !counted {
		m.stats[tier].total++
	}
}

func (m *Manager) advanceLocked(tier types.Priority, out *outbox) {
	s := m.stats[tier]
	s.loaded++
	if s.loaded > s.total {
		s.loaded = s.total
	}
	stats := s.snapshot()
	out.add(events.TopicProgress, events.Progress{
		Priority:   tier,
		Loaded:     stats.Loaded,
		Total:      stats.Total,
		Percentage: stats.Percentage,
	})
}

func (s *tierStats) snapshot() LoadingStats {
	stats := LoadingStats{Loaded: s.loaded, Total: s.total}
	if s.total > 0 {
		stats.Percentage = float64(s.loaded) / float64(s.total) * 100
	}
	return stats
}

// processQueuesLocked admits queued requests. A tier is only served while
// every higher tier has nothing queued and nothing executing.
func (m *Manager) processQueuesLocked(out *outbox) {
	for i, tier := range types.Priorities {
		for len(m.queues[tier]) > 0 && m.active[tier] < m.concurrency[tier] && !m.higherBusyLocked(i) {
			f := m.queues[tier][0]
			m.queues[tier][0] = nil
			m.queues[tier] = m.queues[tier][1:]
			m.startLocked(f, out)
		}
	}
}

func (m *Manager) higherBusyLocked(rank int) bool {
	for _, tier := range types.Priorities[:rank] {
		if len(m.queues[tier]) > 0 || m.active[tier] > 0 {
			return true
		}
	}
	return false
}

func (m *Manager) startLocked(f *flight, out *outbox) {
	m.active[f.priority]++
	out.add(events.TopicLoading, events.Loading{
		AssetID:  f.id,
		URL:      f.entry.URL,
		Type:     f.entry.Type,
		Priority: f.priority,
	})
	go m.execute(f)
}

func (m *Manager) execute(f *flight) {
	var (
		value any
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				value = nil
				err = errors.NewLoadError(f.entry.Type, f.entry.URL, 1, 1, errors.ReasonUnknown).
					WithCause(fmt.Errorf("loader panic: %v", r))
			}
		}()
		value, err = m.loader.LoadByType(m.ctx, f.entry.URL, f.entry.Type)
	}()
	m.complete(f, value, err)
}

func (m *Manager) complete(f *flight, value any, err error) {
	var out outbox
	m.mu.Lock()

	m.active[f.priority]--
	if f.generation == m.generation {
		if m.inflight[f.id] == f {
			delete(m.inflight, f.id)
		}
		if err == nil {
			m.cache.Insert(f.id, f.entry.Type, value)
			out.add(events.TopicLoaded, events.Loaded{AssetID: f.id, Type: f.entry.Type})
		} else {
			telemetry := m.failureTelemetry(f, err)
			m.logger.Error("Failed to load asset",
				"asset", f.id,
				"priority", f.priority,
				"reason", errors.ReasonOf(err),
				"error", err)
			out.add(events.TopicFailed, telemetry)
		}
		for _, tier := range f.progress {
			m.advanceLocked(tier, &out)
		}
	} else {
		m.logger.Debug("Load settled after clear, result not cached", "asset", f.id)
	}
	m.processQueuesLocked(&out)

	m.mu.Unlock()
	m.publish(out)
	f.pending.settle(value, err)
}

func (m *Manager) failureTelemetry(f *flight, err error) errors.Telemetry {
	fields := map[string]any{
		"assetId":   f.id,
		"priority":  string(f.priority),
		"requestId": f.requestID,
		"consumer":  ConsumerLoadAsset,
	}
	for k, v := range f.context {
		fields[k] = v
	}
	telemetry := errors.BuildTelemetryContext(err, fields)
	telemetry["error"] = err.Error()
	return telemetry
}

// ReleaseAsset drops one reference to id. The asset is torn down and
// removed when no references remain. Unknown ids are ignored.
func (m *Manager) ReleaseAsset(id string) {
	var out outbox
	m.mu.Lock()
	refCount, evicted, ok := m.cache.Release(id)
	if ok {
		out.add(events.TopicReferenceReleased, events.Reference{AssetID: id, RefCount: refCount})
		if evicted {
			out.add(events.TopicUnloaded, events.Unloaded{AssetID: id})
		}
	}
	m.mu.Unlock()
	m.publish(out)
}

// UnloadGroup evicts every cached member of a group regardless of its
// reference count and returns how many were evicted.
func (m *Manager) UnloadGroup(name string) int {
	var out outbox
	m.mu.Lock()
	members, ok := m.groups[name]
	if !ok {
		m.mu.Unlock()
		return 0
	}

	unloaded := 0
	for _, id := range members {
		if m.cache.ForceEvict(id) {
			unloaded++
			out.add(events.TopicUnloaded, events.Unloaded{AssetID: id})
		}
	}
	out.add(events.TopicGroupUnloaded, events.GroupUnloaded{GroupName: name, Unloaded: unloaded})
	m.mu.Unlock()

	m.logger.Debug("Group unloaded", "group", name, "unloaded", unloaded)
	m.publish(out)
	return unloaded
}

// UnloadUnused evicts every cached asset without references
func (m *Manager) UnloadUnused() int {
	m.mu.Lock()
	evicted := m.cache.Sweep()
	m.mu.Unlock()

	m.sink.Emit(events.TopicCleanup, events.Cleanup{Unloaded: len(evicted)})
	return len(evicted)
}

// Clear evicts everything and forgets the manifest, groups, queues and
// progress. Queued requests are rejected with errors.ErrCleared. Loads
// already executing finish and resolve their waiters but are not cached.
func (m *Manager) Clear() {
	var out outbox
	m.mu.Lock()

	var rejected []*Pending
	for _, tier := range types.Priorities {
		for _, f := range m.queues[tier] {
			rejected = append(rejected, f.pending)
		}
	}
	for _, id := range m.cache.Clear() {
		out.add(events.TopicUnloaded, events.Unloaded{AssetID: id})
	}
	m.generation++
	m.resetLocked()
	out.add(events.TopicCleared, events.Cleared{})

	m.mu.Unlock()
	m.publish(out)
	for _, p := range rejected {
		p.settle(nil, fmt.Errorf("%w: request for %s discarded", errors.ErrCleared, p.ID()))
	}
}

// GetAsset returns the cached value without taking a reference
func (m *Manager) GetAsset(id string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Get(id)
}

// RefCount returns the reference count of id, zero when not cached
func (m *Manager) RefCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache.Record(id)
	if !ok {
		return 0
	}
	return rec.RefCount
}

// GetLoadingStats returns the progress of a tier
func (m *Manager) GetLoadingStats(tier types.Priority) LoadingStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[types.NormalizePriority(tier)].snapshot()
}

// GetStats returns a snapshot of the manager. Memory is a rough estimate.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Loaded:  m.cache.Len(),
		Loading: len(m.inflight),
		Groups:  len(m.groups),
		Memory:  m.cache.Memory(),
		Queued:  make(map[types.Priority]int, len(types.Priorities)),
		Active:  make(map[types.Priority]int, len(types.Priorities)),
	}
	for _, tier := range types.Priorities {
		stats.Queued[tier] = len(m.queues[tier])
		stats.Active[tier] = m.active[tier]
	}
	return stats
}

// CacheStats returns hit, miss and eviction counters of the live cache
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}
