// Package loader performs single resource loads with a per-attempt timeout
// and a bounded retry budget. It knows nothing about priority, caching or
// other requests.
package loader

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/assetpipe/assetpipe/internal/decode"
	"github.com/assetpipe/assetpipe/internal/fetch"
	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/retry"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Config holds loader settings. Non-positive values fall back to defaults.
type Config struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout"`
	BatchConcurrency  int           `yaml:"batch_concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`

	// RetryMultiplier grows RetryDelay after each retry, capped at
	// RetryMaxDelay. Values <= 1 keep the delay constant.
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RetryJitter     bool          `yaml:"retry_jitter"`

	// RetryableReasons are retried even though they are terminal by default
	RetryableReasons []errors.Reason `yaml:"retryable_reasons"`
}

// Defaults
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 30 * time.Second
)

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BatchConcurrency < 0 {
		c.BatchConcurrency = 0
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = 1
	}
	if c.RetryMaxDelay < c.RetryDelay {
		c.RetryMaxDelay = max(c.RetryDelay, DefaultTimeout)
	}
	return c
}

// Attempt describes one finished fetch+decode attempt.
type Attempt struct {
	AssetType   string
	URL         string
	Attempt     int
	MaxAttempts int
	Duration    time.Duration
	Reason      errors.Reason
	Err         error
}

// Observer is notified after every attempt. It must not block.
type Observer func(Attempt)

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithImageDecoder replaces the image decoder. nil disables image loading.
func WithImageDecoder(d types.Decoder) Option {
	return func(l *Loader) { l.decoders[types.KindImage] = d }
}

// WithDataDecoder replaces the structured data decoder. nil disables it.
func WithDataDecoder(d types.Decoder) Option {
	return func(l *Loader) { l.decoders[types.KindData] = d }
}

// WithAudioDecoder replaces the audio decoder. nil disables audio loading.
func WithAudioDecoder(d types.Decoder) Option {
	return func(l *Loader) { l.decoders[types.KindAudio] = d }
}

// WithObserver registers a per-attempt observer
func WithObserver(o Observer) Option {
	return func(l *Loader) { l.observer = o }
}

// WithRetryStats records every load's retry usage into sc
func WithRetryStats(sc *retry.StatsCollector) Option {
	return func(l *Loader) { l.retryStats = sc }
}

// Loader is the resource loader. It is safe for concurrent use.
type Loader struct {
	cfg        Config
	fetcher    types.Fetcher
	decoders   map[string]types.Decoder
	limiter    *rate.Limiter
	observer   Observer
	retryStats *retry.StatsCollector
	logger     *slog.Logger

	progress progressTracker
}

// New creates a loader. A nil fetcher makes every load fail with
// fetch-capability-missing.
func New(cfg Config, fetcher types.Fetcher, opts ...Option) *Loader {
	l := &Loader{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		decoders: map[string]types.Decoder{
			types.KindImage: decode.Image{},
			types.KindData:  decode.Data{},
			types.KindAudio: decode.Audio{},
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.RequestsPerSecond > 0 {
		burst := int(l.cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), burst)
	}
	l.progress.logger = l.logger
	return l
}

// Config returns the effective configuration
func (l *Loader) Config() Config {
	return l.cfg
}

// LoadImage loads and decodes an image
func (l *Loader) LoadImage(ctx context.Context, url string) (*types.Image, error) {
	v, err := l.load(ctx, types.KindImage, url)
	if err != nil {
		return nil, err
	}
	img, ok := v.(*types.Image)
	if !ok {
		return nil, errors.NewLoadError(types.KindImage, url, 1, l.cfg.MaxRetries, errors.ReasonParseError).
			WithRetryable(false).
			WithDetail("decoded", fmt.Sprintf("%T", v))
	}
	return img, nil
}

// LoadData loads and decodes structured JSON data
func (l *Loader) LoadData(ctx context.Context, url string) (any, error) {
	return l.load(ctx, types.KindData, url)
}

// LoadJSON is an alias of LoadData
func (l *Loader) LoadJSON(ctx context.Context, url string) (any, error) {
	return l.LoadData(ctx, url)
}

// LoadAudio loads an audio resource
func (l *Loader) LoadAudio(ctx context.Context, url string) (*types.Audio, error) {
	v, err := l.load(ctx, types.KindAudio, url)
	if err != nil {
		return nil, err
	}
	a, ok := v.(*types.Audio)
	if !ok {
		return nil, errors.NewLoadError(types.KindAudio, url, 1, l.cfg.MaxRetries, errors.ReasonParseError).
			WithRetryable(false).
			WithDetail("decoded", fmt.Sprintf("%T", v))
	}
	return a, nil
}

// LoadByType dispatches on a manifest type or one of its aliases. Unknown
// types fail immediately with unsupported-type.
func (l *Loader) LoadByType(ctx context.Context, url, assetType string) (any, error) {
	kind, ok := types.ResolveKind(assetType)
	if !ok {
		return nil, errors.NewLoadError(assetType, url, 1, 1, errors.ReasonUnsupported).
			WithRetryable(false).
			WithDetail("type", assetType)
	}
	switch kind {
	case types.KindImage:
		return l.LoadImage(ctx, url)
	case types.KindAudio:
		return l.LoadAudio(ctx, url)
	default:
		return l.LoadData(ctx, url)
	}
}

func (l *Loader) load(ctx context.Context, kind, url string) (any, error) {
	r := retry.New(retry.Config{
		MaxAttempts:      l.cfg.MaxRetries,
		Delay:            l.cfg.RetryDelay,
		MaxDelay:         l.cfg.RetryMaxDelay,
		Multiplier:       l.cfg.RetryMultiplier,
		Jitter:           l.cfg.RetryJitter,
		RetryableReasons: l.cfg.RetryableReasons,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			l.logger.Warn(fmt.Sprintf("Retry %d/%d for %s: %s", attempt+1, l.cfg.MaxRetries, kind, url),
				"reason", errors.ReasonOf(err),
				"delay", delay)
		},
	})
	maxAttempts := r.MaxAttempts()
	if l.retryStats != nil {
		r = r.WithStats(l.retryStats)
	}

	var (
		result any
		last   int
	)
	err := r.DoWithContext(ctx, func(ctx context.Context, attempt int) error {
		last = attempt
		v, err := l.attempt(ctx, kind, url, attempt, maxAttempts)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err == nil {
		return result, nil
	}

	var le *errors.LoadError
	if stderr.As(err, &le) {
		return nil, le
	}
	// the caller's context ended before an attempt could start
	return nil, errors.NewLoadError(kind, url, max(last, 1), maxAttempts, errors.ReasonCanceled).
		WithRetryable(false).
		WithCause(err)
}

type outcome struct {
	value     any
	err       error
	decodeErr bool
}

// attempt runs one fetch+decode raced against the attempt timeout.
func (l *Loader) attempt(ctx context.Context, kind, url string, attempt, maxAttempts int) (any, error) {
	start := time.Now()
	v, reason, err := l.run(ctx, kind, url)

	var le *errors.LoadError
	if err != nil {
		le = errors.NewLoadError(kind, url, attempt, maxAttempts, reason).WithCause(err)
		switch reason {
		case errors.ReasonTimeout:
			le.WithDetail("timeout", l.cfg.Timeout.Milliseconds())
		default:
			if status, ok := reason.HTTPStatus(); ok {
				le.WithDetail("status", status)
			}
		}
	}

	if l.observer != nil {
		l.observer(Attempt{
			AssetType:   kind,
			URL:         url,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Duration:    time.Since(start),
			Reason:      reason,
			Err:         err,
		})
	}

	if le != nil {
		return nil, le
	}
	return v, nil
}

func (l *Loader) run(ctx context.Context, kind, url string) (any, errors.Reason, error) {
	if l.fetcher == nil {
		return nil, errors.ReasonFetchCapabilityMissing, fmt.Errorf("no fetch capability")
	}
	dec := l.decoders[kind]
	if dec == nil {
		return nil, errors.CapabilityMissing(kind), fmt.Errorf("no %s decoder", kind)
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, errors.ReasonCanceled, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	// buffered so the goroutine never blocks after losing the race
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("decoder panic: %v", p), decodeErr: true}
			}
		}()
		data, err := l.fetcher.Fetch(actx, url)
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		v, err := dec.Decode(url, data)
		ch <- outcome{value: v, err: err, decodeErr: err != nil}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-actx.Done():
		out = outcome{err: actx.Err()}
	}

	if out.err == nil {
		return out.value, "", nil
	}
	return nil, classify(ctx, out), out.err
}

// classify maps a failed attempt to a reason code.
func classify(ctx context.Context, out outcome) errors.Reason {
	err := out.err
	var se *fetch.StatusError

	switch {
	case out.decodeErr:
		return errors.ReasonParseError
	case ctx.Err() != nil:
		return errors.ReasonCanceled
	case stderr.Is(err, context.DeadlineExceeded):
		return errors.ReasonTimeout
	case stderr.Is(err, context.Canceled):
		return errors.ReasonCanceled
	case stderr.Is(err, fetch.ErrNoFetcher):
		return errors.ReasonFetchCapabilityMissing
	case stderr.Is(err, fetch.ErrCircuitOpen):
		return errors.ReasonCircuitOpen
	case stderr.As(err, &se):
		return errors.HTTPReason(se.StatusCode)
	case stderr.Is(err, fetch.ErrNotFound):
		return errors.ReasonNotFound
	case stderr.Is(err, fetch.ErrInvalidURL):
		return errors.ReasonInvalidURL
	case stderr.Is(err, fetch.ErrTooLarge):
		return errors.ReasonTooLarge
	default:
		return errors.ReasonNetworkError
	}
}
