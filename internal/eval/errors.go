package eval

import "fmt"

// ErrorKind is the closed classification of evaluation failures.
type ErrorKind string

const (
	// KindConfig marks a required field missing or invalid after resolution.
	KindConfig ErrorKind = "ConfigError"

	// KindCapability marks an operation the resolved adapter does not support.
	KindCapability ErrorKind = "CapabilityError"

	// KindResponseFormat marks a vendor response that could not be normalized.
	KindResponseFormat ErrorKind = "ResponseFormatError"

	// KindRetryableTransport marks a transient vendor-side failure (5xx, 429,
	// connection reset). The pipeline retries these with backoff.
	KindRetryableTransport ErrorKind = "RetryableTransportError"

	// KindTransport marks a fatal vendor-side failure (4xx other than 429,
	// malformed request). Never retried.
	KindTransport ErrorKind = "TransportError"

	// KindExhaustedRetries marks a retryable failure that survived the full
	// retry budget.
	KindExhaustedRetries ErrorKind = "ExhaustedRetriesError"

	// KindTimeout marks a vendor call that exceeded its budget. Fatal.
	KindTimeout ErrorKind = "TimeoutError"
)

// Error is the typed error carried inside an EvalResult. Errors never
// propagate past the Invoke boundary; callers inspect the Error field.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Field names the offending configuration field for ConfigError.
	Field string `json:"field,omitempty"`

	// StatusCode is the vendor HTTP status, when one was observed.
	StatusCode int `json:"status_code,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the pipeline may retry the call.
func (e *Error) Retryable() bool {
	return e.Kind == KindRetryableTransport
}

// NewConfigError reports a missing or invalid configuration field.
func NewConfigError(field, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewCapabilityError reports an unsupported (vendor, capability) pair.
func NewCapabilityError(vendor, capability string) *Error {
	return &Error{
		Kind:    KindCapability,
		Message: fmt.Sprintf("vendor %q does not support capability %q", vendor, capability),
	}
}

// NewResponseFormatError reports a vendor response that failed normalization.
// The raw payload is preserved by the caller in result metadata.
func NewResponseFormatError(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindResponseFormat, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewRetryableTransportError reports a transient vendor failure.
func NewRetryableTransportError(statusCode int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:       KindRetryableTransport,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
		cause:      cause,
	}
}

// NewTransportError reports a fatal vendor failure.
func NewTransportError(statusCode int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:       KindTransport,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
		cause:      cause,
	}
}

// NewExhaustedRetriesError terminates a retry loop after the final attempt.
func NewExhaustedRetriesError(attempts int, last *Error) *Error {
	msg := fmt.Sprintf("giving up after %d attempts", attempts)
	if last != nil {
		msg = fmt.Sprintf("%s: %s", msg, last.Message)
		return &Error{Kind: KindExhaustedRetries, Message: msg, StatusCode: last.StatusCode, cause: last}
	}
	return &Error{Kind: KindExhaustedRetries, Message: msg}
}

// NewTimeoutError reports a vendor call exceeding its budget.
func NewTimeoutError(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}
