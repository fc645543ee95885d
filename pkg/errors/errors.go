// Package errors provides the structured failure taxonomy for asset loading: reason codes, categories, load and batch errors.
package errors

import (
	stderr "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"
)

// Reason is a machine-readable code classifying why a load attempt failed.
type Reason string

// Reason codes. HTTP status failures use HTTPReason and read "http-<status>".
const (
	ReasonNetworkError   Reason = "network-error"
	ReasonTimeout        Reason = "timeout"
	ReasonNotFound       Reason = "not-found"
	ReasonHTTPNotFound   Reason = "http-404"
	ReasonParseError     Reason = "parse-error"
	ReasonUnsupported    Reason = "unsupported-type"
	ReasonInvalidURL     Reason = "invalid-url"
	ReasonTooLarge       Reason = "too-large"
	ReasonCircuitOpen    Reason = "circuit-open"
	ReasonCanceled       Reason = "canceled"
	ReasonUnknown        Reason = "unknown"
	ReasonPartialFailure Reason = "partial-failure"

	ReasonFetchCapabilityMissing Reason = "fetch-capability-missing"
	ReasonImageCapabilityMissing Reason = "image-capability-missing"
	ReasonDataCapabilityMissing  Reason = "json-capability-missing"
	ReasonAudioCapabilityMissing Reason = "audio-capability-missing"
)

// HTTPReason returns the reason code for an HTTP status failure.
func HTTPReason(status int) Reason {
	return Reason("http-" + strconv.Itoa(status))
}

// CapabilityMissing returns the reason code used when the hosting
// environment cannot perform a given kind of load at all.
func CapabilityMissing(kind string) Reason {
	return Reason(kind + "-capability-missing")
}

// HTTPStatus extracts the status from an http-<status> reason.
func (r Reason) HTTPStatus() (int, bool) {
	s, ok := strings.CutPrefix(string(r), "http-")
	if !ok {
		return 0, false
	}
	status, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return status, true
}

// Category is the coarse class of a failure.
type Category string

const (
	// CategoryTransient failures may succeed when retried.
	CategoryTransient Category = "transient-retryable"
	// CategoryTerminalRequest failures cannot be fixed by retrying the request.
	CategoryTerminalRequest Category = "terminal-request"
	// CategoryTerminalBatch marks a batch in which some members failed.
	CategoryTerminalBatch Category = "terminal-batch"
)

// IsRetryableByDefault determines if a reason is retryable by default.
func IsRetryableByDefault(reason Reason) bool {
	if status, ok := reason.HTTPStatus(); ok {
		return status >= 500 || status == 408 || status == 429
	}

	retryableReasons := map[Reason]bool{
		ReasonNetworkError: true,
		ReasonTimeout:      true,
		ReasonCircuitOpen:  true,
		ReasonUnknown:      true,
	}
	return retryableReasons[reason]
}

// GetCategory classifies a reason.
func GetCategory(reason Reason, retryable bool) Category {
	switch {
	case reason == ReasonPartialFailure:
		return CategoryTerminalBatch
	case retryable:
		return CategoryTransient
	default:
		return CategoryTerminalRequest
	}
}

// Sentinel errors for manager-level failures.
var (
	// ErrAssetNotFound is returned when an id is not present in the manifest.
	ErrAssetNotFound = stderr.New("asset not found in manifest")

	// ErrManifestNotLoaded is returned when a request arrives before any manifest.
	ErrManifestNotLoaded = stderr.New("manifest not loaded")

	// ErrInvalidManifest is returned when a manifest document fails validation.
	ErrInvalidManifest = stderr.New("invalid manifest")

	// ErrCleared is returned to waiters whose queued request was discarded by a reset.
	ErrCleared = stderr.New("asset manager cleared")
)

// LoadError describes a failed resource load.
type LoadError struct {
	AssetType   string         `json:"assetType"`
	URL         string         `json:"url"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"maxAttempts"`
	Reason      Reason         `json:"reason"`
	Retryable   bool           `json:"retryable"`
	Details     map[string]any `json:"details,omitempty"`
	Cause       error          `json:"-"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewLoadError creates a load error whose retryability follows the reason's default.
func NewLoadError(assetType, url string, attempt, maxAttempts int, reason Reason) *LoadError {
	if reason == "" {
		reason = ReasonUnknown
	}
	e := &LoadError{
		AssetType: assetType,
		URL:       url,
		Reason:    reason,
		Retryable: IsRetryableByDefault(reason),
		Timestamp: time.Now(),
	}
	e.SetAttempts(attempt, maxAttempts)
	return e
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	var context []string
	context = append(context, fmt.Sprintf("attempt %d of %d", e.Attempt, e.MaxAttempts))
	if e.Reason != "" {
		context = append(context, fmt.Sprintf("reason: %s", e.Reason))
	}
	return fmt.Sprintf("Failed to load %s asset %q (%s)", e.AssetType, e.URL, strings.Join(context, ", "))
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Is matches another LoadError with the same reason.
func (e *LoadError) Is(target error) bool {
	if t, ok := target.(*LoadError); ok {
		return e.Reason == t.Reason
	}
	return false
}

// Name identifies the error kind in telemetry.
func (e *LoadError) Name() string {
	return "AssetLoadError"
}

// Category returns the failure class.
func (e *LoadError) Category() Category {
	return GetCategory(e.Reason, e.Retryable)
}

// SetAttempts normalizes attempt to at least 1 and maxAttempts to at least attempt.
func (e *LoadError) SetAttempts(attempt, maxAttempts int) *LoadError {
	if attempt < 1 {
		attempt = 1
	}
	if maxAttempts < attempt {
		maxAttempts = attempt
	}
	e.Attempt = attempt
	e.MaxAttempts = maxAttempts
	return e
}

// WithRetryable overrides the reason's default retryability.
func (e *LoadError) WithRetryable(retryable bool) *LoadError {
	e.Retryable = retryable
	return e
}

// WithDetail adds detailed information to an error
func (e *LoadError) WithDetail(key string, value any) *LoadError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *LoadError) WithCause(cause error) *LoadError {
	e.Cause = cause
	return e
}

// String returns a detailed string representation for logging.
func (e *LoadError) String() string {
	parts := []string{
		fmt.Sprintf("Type=%s", e.AssetType),
		fmt.Sprintf("URL=%q", e.URL),
		fmt.Sprintf("Attempt=%d/%d", e.Attempt, e.MaxAttempts),
		fmt.Sprintf("Reason=%s", e.Reason),
		fmt.Sprintf("Category=%s", e.Category()),
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("LoadError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *LoadError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// BatchFailure is one failed member of a batch.
type BatchFailure struct {
	Key  string
	URL  string
	Type string
	Err  *LoadError
}

// BatchError reports a batch in which at least one member failed. Results
// holds only the successful members.
type BatchError struct {
	*LoadError
	Results  map[string]any
	Failures []BatchFailure

	combined error
}

// NewBatchError builds a partial-failure error. The batch is retryable only
// if every failure is.
func NewBatchError(results map[string]any, failures []BatchFailure) *BatchError {
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })

	retryable := true
	var combined error
	details := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		if !f.Err.Retryable {
			retryable = false
		}
		combined = multierr.Append(combined, f.Err)
		details = append(details, map[string]any{
			"url":         f.URL,
			"type":        f.Type,
			"reason":      string(f.Err.Reason),
			"attempt":     f.Err.Attempt,
			"maxAttempts": f.Err.MaxAttempts,
		})
	}

	le := NewLoadError("batch", "batch", 1, 1, ReasonPartialFailure).
		WithRetryable(retryable).
		WithDetail("successes", len(results)).
		WithDetail("failures", details)

	return &BatchError{
		LoadError: le,
		Results:   results,
		Failures:  failures,
		combined:  combined,
	}
}

// Unwrap exposes the member failures.
func (e *BatchError) Unwrap() []error {
	return multierr.Errors(e.combined)
}

// ReasonOf returns the reason code carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var be *BatchError
	if stderr.As(err, &be) {
		return be.Reason
	}
	var le *LoadError
	if stderr.As(err, &le) {
		return le.Reason
	}
	return ReasonUnknown
}

// IsRetryable reports whether err is a load failure flagged as retryable.
func IsRetryable(err error) bool {
	var be *BatchError
	if stderr.As(err, &be) {
		return be.Retryable
	}
	var le *LoadError
	if stderr.As(err, &le) {
		return le.Retryable
	}
	return false
}
