// Package events defines the notification topics the asset manager publishes
// and a handful of sinks to deliver them. Publishing is fire-and-forget: a
// sink never returns anything to the publisher.
package events

import (
	"log/slog"
	"sync"

	"github.com/assetpipe/assetpipe/pkg/types"
)

// Notification topics
const (
	TopicManifestLoaded    = "asset:manifest-loaded"
	TopicManifestFailed    = "asset:manifest-failed"
	TopicLoading           = "asset:loading"
	TopicLoaded            = "asset:loaded"
	TopicFailed            = "asset:failed"
	TopicReferenceAcquired = "asset:reference-acquired"
	TopicReferenceReleased = "asset:reference-released"
	TopicUnloaded          = "asset:unloaded"
	TopicPriorityLoading   = "asset:priority-loading"
	TopicProgress          = "asset:progress"
	TopicGroupUnloaded     = "asset:group-unloaded"
	TopicCleanup           = "asset:cleanup"
	TopicCleared           = "asset:cleared"
)

// ManifestLoaded is published after a manifest replaces the previous one
type ManifestLoaded struct {
	URL    string `json:"url"`
	Assets int    `json:"assets"`
	Groups int    `json:"groups"`
}

// Loading is published when a queued request starts executing
type Loading struct {
	AssetID  string         `json:"assetId"`
	URL      string         `json:"url"`
	Type     string         `json:"type"`
	Priority types.Priority `json:"priority"`
}

// Loaded is published when a load settles successfully
type Loaded struct {
	AssetID string `json:"assetId"`
	Type    string `json:"type"`
}

// Reference is published on reference-acquired and reference-released
type Reference struct {
	AssetID  string `json:"assetId"`
	RefCount int    `json:"refCount"`
}

// Unloaded is published once per evicted asset
type Unloaded struct {
	AssetID string `json:"assetId"`
}

// PriorityLoading is published when a preload queues a tier batch
type PriorityLoading struct {
	Priority types.Priority `json:"priority"`
	Count    int            `json:"count"`
}

// Progress reports tier progress for requests that opted into tracking
type Progress struct {
	Priority   types.Priority `json:"priority"`
	Loaded     int            `json:"loaded"`
	Total      int            `json:"total"`
	Percentage float64        `json:"percentage"`
}

// GroupUnloaded is published after a group was force-evicted
type GroupUnloaded struct {
	GroupName string `json:"groupName"`
	Unloaded  int    `json:"unloaded"`
}

// Cleanup is published after a sweep of unreferenced assets
type Cleanup struct {
	Unloaded int `json:"unloaded"`
}

// Cleared is published after a full reset
type Cleared struct{}

// Event is a published notification
type Event struct {
	Topic   string
	Payload any
}

// Handler receives a notification
type Handler func(Event)

// Nop discards every notification
type Nop struct{}

// Emit implements types.EventSink
func (Nop) Emit(string, any) {}

// Multi fans a notification out to several sinks in order
type Multi []types.EventSink

// Emit implements types.EventSink
func (m Multi) Emit(topic string, payload any) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(topic, payload)
		}
	}
}

// LogSink logs every notification at debug level
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements types.EventSink
func (s LogSink) Emit(topic string, payload any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("Asset event", "topic", topic, "payload", payload)
}

// Bus dispatches notifications synchronously to topic subscribers. The
// empty topic subscribes to everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates a bus. A nil logger disables panic logging.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string]map[uint64]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for topic and returns a function removing it
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]Handler)
	}
	b.handlers[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

// Emit implements types.EventSink. A panicking handler is recovered and
// does not prevent delivery to the others.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[""]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[""] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("Event handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}

// Recorder keeps every notification in order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements types.EventSink
func (r *Recorder) Emit(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topic returns the payloads recorded for topic
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var payloads []any
	for _, ev := range r.events {
		if ev.Topic == topic {
			payloads = append(payloads, ev.Payload)
		}
	}
	return payloads
}

// Count returns how many notifications were recorded for topic
func (r *Recorder) Count(topic string) int {
	return len(r.Topic(topic))
}

// Reset forgets everything recorded
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
