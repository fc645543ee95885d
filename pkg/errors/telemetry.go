package errors

import (
	stderr "errors"
	"fmt"
)

// Telemetry is a structured failure description merged with caller context.
type Telemetry map[string]any

const unknownFailureMessage = "Unknown asset load failure"

// BuildTelemetryContext describes err for telemetry. Fields from a
// LoadError override matching keys in context; message and errorName are
// only filled in when context does not already carry them. Untyped errors
// degrade to message and errorName.
func BuildTelemetryContext(err error, context map[string]any) Telemetry {
	telemetry := make(Telemetry, len(context)+8)
	for k, v := range context {
		telemetry[k] = v
	}

	assign := func(key string, value any) {
		if value == nil {
			return
		}
		if s, ok := value.(string); ok && s == "" {
			return
		}
		telemetry[key] = value
	}

	var name string
	var cause error
	if le := asLoadError(err); le != nil {
		assign("assetType", le.AssetType)
		assign("url", le.URL)
		assign("attempt", le.Attempt)
		assign("maxAttempts", le.MaxAttempts)
		assign("reason", string(le.Reason))
		assign("retryable", le.Retryable)
		if len(le.Details) > 0 {
			assign("details", le.Details)
		}
		name = le.Name()
		cause = le.Cause
	} else if err != nil {
		name = fmt.Sprintf("%T", err)
		cause = stderr.Unwrap(err)
	}

	if err != nil {
		if _, ok := telemetry["message"]; !ok {
			telemetry["message"] = err.Error()
		}
	}
	if name != "" {
		if _, ok := telemetry["errorName"]; !ok {
			telemetry["errorName"] = name
		}
	}

	if cause != nil {
		telemetry["causeMessage"] = cause.Error()
		telemetry["causeName"] = fmt.Sprintf("%T", cause)
	}

	if msg, ok := telemetry["message"]; !ok || msg == nil || msg == "" {
		telemetry["message"] = unknownFailureMessage
	}

	return telemetry
}

func asLoadError(err error) *LoadError {
	var be *BatchError
	if stderr.As(err, &be) {
		return be.LoadError
	}
	var le *LoadError
	if stderr.As(err, &le) {
		return le
	}
	return nil
}
