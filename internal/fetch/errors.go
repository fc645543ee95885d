package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the object, file or bucket does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrCircuitOpen is returned when the source host is being short-circuited.
	ErrCircuitOpen = errors.New("source circuit open")

	// ErrNoFetcher is returned when no fetcher handles the URL scheme.
	ErrNoFetcher = errors.New("no fetcher registered for scheme")

	// ErrInvalidURL is returned when a URL cannot address any resource.
	ErrInvalidURL = errors.New("invalid resource url")

	// ErrTooLarge is returned when a resource exceeds the configured size cap.
	ErrTooLarge = errors.New("resource too large")
)

// StatusError reports a non-2xx response from an HTTP-speaking source.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// hostHealthy reports whether a fetch result says the host is up. Missing
// objects and client errors are the caller's problem, not the host's.
func hostHealthy(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrTooLarge) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < 500 && se.StatusCode != http.StatusRequestTimeout && se.StatusCode != http.StatusTooManyRequests
	}
	return false
}
