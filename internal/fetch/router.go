// Package fetch provides the low-level byte retrieval capability injected
// into the resource loader: HTTP, local file, S3 and MinIO sources behind a
// scheme router with per-host circuit breakers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/assetpipe/assetpipe/internal/circuit"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Router dispatches a URL to the fetcher registered for its scheme. URLs
// without a scheme are treated as file paths.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]types.Fetcher
	breakers *circuit.Registry
	logger   *slog.Logger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCircuitBreaker guards every remote host with its own breaker. Missing
// objects and 4xx responses do not count against a host.
func WithCircuitBreaker(cfg circuit.Config) RouterOption {
	return func(r *Router) {
		if cfg.IsSuccessful == nil {
			cfg.IsSuccessful = hostHealthy
		}
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = func(host string, from, to circuit.State) {
				r.logger.Warn("Source circuit state changed", "host", host, "from", from, "to", to)
			}
		}
		r.breakers = circuit.NewRegistry(cfg)
	}
}

// NewRouter creates an empty router
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		fetchers: make(map[string]types.Fetcher),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a fetcher to one or more schemes
func (r *Router) Register(f types.Fetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, scheme := range schemes {
		r.fetchers[strings.ToLower(scheme)] = f
	}
}

// Schemes lists registered schemes in order
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Fetch implements types.Fetcher
func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	scheme, host := "file", ""
	if u, err := url.Parse(rawURL); err == nil && len(u.Scheme) > 1 {
		// single-letter schemes are windows drive letters
		scheme, host = strings.ToLower(u.Scheme), u.Host
	}

	r.mu.RLock()
	f, ok := r.fetchers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoFetcher, scheme)
	}

	if r.breakers == nil || host == "" {
		return f.Fetch(ctx, rawURL)
	}

	var data []byte
	err := r.breakers.Get(scheme+"://"+host).ExecuteWithContext(ctx, func(ctx context.Context) error {
		var ferr error
		data, ferr = f.Fetch(ctx, rawURL)
		return ferr
	})
	if errors.Is(err, circuit.ErrOpenState) || errors.Is(err, circuit.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, host, err)
	}
	return data, err
}

// BreakerStats returns per-host breaker state, nil when breakers are off
func (r *Router) BreakerStats() []circuit.Stats {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.Stats()
}

// ResetBreakers closes every host breaker
func (r *Router) ResetBreakers() {
	if r.breakers != nil {
		r.breakers.ResetAll()
	}
}

// HealthCheck reports open breakers
func (r *Router) HealthCheck() error {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.HealthCheck()
}
