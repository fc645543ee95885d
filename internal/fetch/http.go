package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// MaxBytes caps the response body; 0 means unlimited.
	MaxBytes int64
	// IdleConnTimeout for the shared transport.
	IdleConnTimeout time.Duration
	MaxIdleConns    int
}

// HTTPFetcher retrieves http and https URLs.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	logger *slog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher. A nil client gets a dedicated
// transport built from opts. Per-request deadlines come from the context.
func NewHTTPFetcher(client *http.Client, opts HTTPOptions, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "assetpipe/1.0"
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 64
	}
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConns = opts.MaxIdleConns
		transport.MaxIdleConnsPerHost = opts.MaxIdleConns
		transport.IdleConnTimeout = opts.IdleConnTimeout
		client = &http.Client{Transport: transport}
	}

	return &HTTPFetcher{client: client, opts: opts, logger: logger}
}

// Fetch performs a GET and returns the body of a 2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidURL, url, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if f.opts.MaxBytes > 0 && int64(len(data)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("%w: response for %s exceeds %d bytes", ErrTooLarge, url, f.opts.MaxBytes)
	}

	f.logger.Debug("Fetched over HTTP", "url", url, "bytes", len(data), "status", resp.StatusCode)
	return data, nil
}
