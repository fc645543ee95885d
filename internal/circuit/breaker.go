// Package circuit guards asset sources with per-host circuit breakers so a
// dead origin fails fast instead of eating every request's timeout budget.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// State represents the breaker state
type State int

const (
	// StateClosed lets requests through
	StateClosed State = iota
	// StateOpen rejects requests until Timeout elapses
	StateOpen
	// StateHalfOpen lets MaxRequests probes through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// MaxRequests is the number of probes allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the closed-state window after which counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip overrides the consecutive-failure rule
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called with the breaker lock held; keep it cheap
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether a result counts against the host
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker implements the circuit breaker pattern for one source host
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a breaker named after the host it guards
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		threshold := config.FailureThreshold
		config.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// Execute runs fn if the breaker allows it
func (cb *Breaker) Execute(fn func() error) error {
	return cb.ExecuteWithContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

// ExecuteWithContext runs fn with ctx if the breaker allows it. A context
// cancellation does not count against the host.
func (cb *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(time.Now())

	if state == StateOpen {
		return ErrOpenState
	}

	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

// release forgets a request that never produced a verdict.
func (cb *Breaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.counts.Requests > 0 {
		cb.counts.Requests--
	}
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *Breaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *Breaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the current state
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.currentState(time.Now())
}

// Counts returns a copy of the current counts
func (cb *Breaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

// Reset closes the breaker and clears its counts
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the guarded host
func (cb *Breaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

var (
	// ErrOpenState is returned when the breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is spent
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Registry hands out one breaker per host, all sharing one Config.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates an empty registry
func NewRegistry(config Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Get returns the breaker for host, creating it on first use
func (r *Registry) Get(host string) *Breaker {
	r.mu.RLock()
	if breaker, exists := r.breakers[host]; exists {
		r.mu.RUnlock()
		return breaker
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, exists := r.breakers[host]; exists {
		return breaker
	}

	breaker := NewBreaker(host, r.config)
	r.breakers[host] = breaker
	return breaker
}

func (r *Registry) snapshot() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	sort.Slice(breakers, func(i, j int) bool { return breakers[i].name < breakers[j].name })
	return breakers
}

// ResetAll closes every breaker
func (r *Registry) ResetAll() {
	for _, breaker := range r.snapshot() {
		breaker.Reset()
	}
}

// Stats is a point-in-time view of one breaker
type Stats struct {
	Host   string `json:"host"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// Stats returns a snapshot of every breaker ordered by host
func (r *Registry) Stats() []Stats {
	breakers := r.snapshot()
	stats := make([]Stats, 0, len(breakers))
	for _, breaker := range breakers {
		stats = append(stats, Stats{
			Host:   breaker.Name(),
			State:  breaker.State(),
			Counts: breaker.Counts(),
		})
	}
	return stats
}

// HealthCheck reports an error naming every open breaker
func (r *Registry) HealthCheck() error {
	var open []string
	for _, s := range r.Stats() {
		if s.State == StateOpen {
			open = append(open, s.Host)
		}
	}

	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}

	return nil
}
