// Package health tracks the health of asset sources from load outcomes
package health

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/assetpipe/assetpipe/internal/loader"
	"github.com/assetpipe/assetpipe/pkg/errors"
)

// State represents the health state of a source
type State int

const (
	// StateHealthy indicates the source is serving assets
	StateHealthy State = iota

	// StateDegraded indicates repeated transient failures
	StateDegraded

	// StateUnavailable indicates the source is not serving assets
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateHealthy, StateDegraded, StateUnavailable} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown health state %q", text)
}

// SourceHealth tracks the health of one source
type SourceHealth struct {
	Name              string    `json:"name" yaml:"name"`
	State             State     `json:"state" yaml:"state"`
	LastStateChange   time.Time `json:"last_state_change" yaml:"last_state_change"`
	LastCheck         time.Time `json:"last_check" yaml:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors" yaml:"consecutive_errors"`
	Successes         int64     `json:"successes" yaml:"successes"`
	Failures          int64     `json:"failures" yaml:"failures"`
	LastErrorMessage  string    `json:"last_error_message,omitempty" yaml:"last_error_message,omitempty"`
}

// Config configures health tracking behavior
type Config struct {
	// ErrorThreshold is the number of consecutive errors before a source is degraded
	ErrorThreshold int `yaml:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a source is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// StateChangeCallback is called when a source's health state changes
type StateChangeCallback func(source string, oldState, newState State, err error)

// Tracker tracks the health of every source that loads pass through. Only
// failures that say something about the source count against it: missing
// assets, parse errors and client-side HTTP errors do not.
type Tracker struct {
	mu        sync.RWMutex
	sources   map[string]*SourceHealth
	config    Config
	callbacks []StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config Config) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = max(def.UnavailableThreshold, config.ErrorThreshold)
	}
	return &Tracker{
		sources: make(map[string]*SourceHealth),
		config:  config,
	}
}

// OnStateChange registers a callback. Callbacks run with the tracker lock
// held and must not call back into it.
func (t *Tracker) OnStateChange(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Observe records one loader attempt against its source. It satisfies
// loader.Observer.
func (t *Tracker) Observe(a loader.Attempt) {
	source := SourceOf(a.URL)
	switch {
	case a.Err == nil:
		t.RecordSuccess(source)
	case countsAgainstSource(a.Reason):
		t.RecordError(source, a.Err)
	default:
		// the source answered; the asset itself is at fault
		t.RecordSuccess(source)
	}
}

// RecordSuccess records a successful operation for a source
func (t *Tracker) RecordSuccess(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.sourceLocked(source)
	h.LastCheck = time.Now()
	h.Successes++
	h.ConsecutiveErrors = 0
	if h.State != StateHealthy {
		t.transitionLocked(h, StateHealthy, nil)
	}
}

// RecordError records an error for a source
func (t *Tracker) RecordError(source string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.sourceLocked(source)
	h.LastCheck = time.Now()
	h.Failures++
	h.ConsecutiveErrors++
	if err != nil {
		h.LastErrorMessage = err.Error()
	}

	newState := h.State
	switch {
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case h.ConsecutiveErrors >= t.config.ErrorThreshold:
		newState = StateDegraded
	}
	if newState != h.State {
		t.transitionLocked(h, newState, err)
	}
}

// GetState returns the current state of a source. Sources never seen are
// healthy.
func (t *Tracker) GetState(source string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.sources[source]; ok {
		return h.State
	}
	return StateHealthy
}

// Sources returns a copy of every tracked source ordered by name
func (t *Tracker) Sources() []SourceHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SourceHealth, 0, len(t.sources))
	for _, h := range t.sources {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst state across all sources
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, h := range t.sources {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// Check reports whether every source is healthy along with per-source
// details, for health endpoints.
func (t *Tracker) Check() (bool, any) {
	return t.Overall() == StateHealthy, t.Sources()
}

func (t *Tracker) sourceLocked(name string) *SourceHealth {
	h, ok := t.sources[name]
	if !ok {
		now := time.Now()
		h = &SourceHealth{Name: name, State: StateHealthy, LastStateChange: now, LastCheck: now}
		t.sources[name] = h
	}
	return h
}

func (t *Tracker) transitionLocked(h *SourceHealth, newState State, err error) {
	old := h.State
	h.State = newState
	h.LastStateChange = time.Now()
	for _, cb := range t.callbacks {
		cb(h.Name, old, newState, err)
	}
}

// SourceOf names the source behind a URL: scheme://host for remote URLs,
// "file" for local paths.
func SourceOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" || u.Host == "" {
		return scheme
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

func countsAgainstSource(reason errors.Reason) bool {
	switch reason {
	case errors.ReasonNotFound, errors.ReasonParseError, errors.ReasonUnsupported, errors.ReasonCanceled,
		errors.ReasonInvalidURL, errors.ReasonTooLarge:
		return false
	}
	if status, ok := reason.HTTPStatus(); ok {
		return status >= 500 || status == 408 || status == 429
	}
	return true
}
