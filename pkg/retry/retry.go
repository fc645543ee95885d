// Package retry provides the bounded attempt loop used by the resource loader
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/assetpipe/assetpipe/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Delay is the wait between attempts
	Delay time.Duration `yaml:"delay" json:"delay"`

	// MaxDelay caps the delay when Multiplier grows it
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier scales the delay after each retry. 1 keeps it constant.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds ±20% randomness to each delay
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableReasons forces retry for these reasons even when the error is not flagged retryable
	RetryableReasons []errors.Reason `yaml:"retryable_reasons" json:"retryable_reasons"`

	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the loader's default retry configuration: three
// attempts one second apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  1.0,
	}
}

// Retryer runs a function until it succeeds, fails terminally, or the
// attempt budget is spent.
type Retryer struct {
	config Config
	stats  *StatsCollector
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1.0
	}

	return &Retryer{config: config}
}

// MaxAttempts returns the attempt budget.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// DoWithContext executes fn with retry logic. fn receives the 1-based attempt
// number. The last error is returned as-is when it is terminal or when the
// budget runs out, so callers can inspect it with errors.As.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var totalDelay time.Duration

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			r.record(attempt-1, false, totalDelay)
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx, attempt)
		if err == nil {
			r.record(attempt, true, totalDelay)
			return nil
		}

		if !r.shouldRetry(err, attempt) {
			r.record(attempt, false, totalDelay)
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			r.record(attempt, false, totalDelay)
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
			totalDelay += delay
		}
	}

	// unreachable: the final attempt never passes shouldRetry
	return nil
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	if errors.IsRetryable(err) {
		return true
	}

	reason := errors.ReasonOf(err)
	for _, rr := range r.config.RetryableReasons {
		if reason == rr {
			return true
		}
	}

	return false
}

// calculateDelay calculates the delay before the next attempt
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.Delay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

func (r *Retryer) record(attempts int, success bool, delay time.Duration) {
	if r.stats != nil {
		r.stats.RecordAttempt(attempts, success, delay)
	}
}

// WithStats returns a new Retryer that records every run into sc.
func (r *Retryer) WithStats(sc *StatsCollector) *Retryer {
	next := New(r.config)
	next.stats = sc
	return next
}

// Stats tracks retry statistics
type Stats struct {
	TotalRuns       int           `json:"total_runs"`
	TotalAttempts   int           `json:"total_attempts"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	Retried         int           `json:"retried"`
	AverageAttempts float64       `json:"average_attempts"`
	TotalDelay      time.Duration `json:"total_delay"`
	MaxAttemptsUsed int           `json:"max_attempts_used"`
}

// StatsCollector collects retry statistics. Safe for concurrent use.
type StatsCollector struct {
	mu    sync.Mutex
	stats Stats
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// RecordAttempt records one finished run that used attempts attempts
func (sc *StatsCollector) RecordAttempt(attempts int, success bool, delay time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.stats.TotalRuns++
	sc.stats.TotalAttempts += attempts
	if success {
		sc.stats.Succeeded++
	} else {
		sc.stats.Failed++
	}
	if attempts > 1 {
		sc.stats.Retried++
	}

	sc.stats.TotalDelay += delay
	if attempts > sc.stats.MaxAttemptsUsed {
		sc.stats.MaxAttemptsUsed = attempts
	}

	sc.stats.AverageAttempts = float64(sc.stats.TotalAttempts) / float64(sc.stats.TotalRuns)
}

// GetStats returns current statistics
func (sc *StatsCollector) GetStats() Stats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stats
}

// Reset resets statistics
func (sc *StatsCollector) Reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats = Stats{}
}
