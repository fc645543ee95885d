package types

import (
	"context"
)

// Fetcher retrieves the raw bytes behind a URL. It is the low-level I/O
// capability injected into the loader.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Decoder turns fetched bytes into a resource handle.
type Decoder interface {
	Decode(url string, data []byte) (any, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(url string, data []byte) (any, error)

// Decode calls f(url, data).
func (f DecoderFunc) Decode(url string, data []byte) (any, error) {
	return f(url, data)
}

// EventSink receives fire-and-forget notifications.
type EventSink interface {
	Emit(topic string, payload any)
}
