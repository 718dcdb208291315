package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one failure class in the API envelope
type ErrorCode string

const (
	// Input errors - surface immediately, no side effects
	ErrInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrSourceNotFound  ErrorCode = "SOURCE_NOT_FOUND"
	ErrWordLimit       ErrorCode = "WORD_LIMIT"
	ErrSchemaViolation ErrorCode = "SCHEMA_VIOLATION"
	ErrNotFound        ErrorCode = "NOT_FOUND"

	// Auth errors
	ErrAuthMissing      ErrorCode = "AUTH_MISSING"
	ErrAuthInvalidToken ErrorCode = "AUTH_INVALID_TOKEN"
	ErrAccessDenied     ErrorCode = "ACCESS_DENIED"
	ErrAdminRequired    ErrorCode = "ADMIN_REQUIRED"

	// Upstream transient - retried in the gateway, surfaced after exhaustion
	ErrLLMRateLimited      ErrorCode = "LLM_RATE_LIMITED"
	ErrLLMTransport        ErrorCode = "LLM_TRANSPORT"
	ErrStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"

	// Upstream fatal
	ErrLLMParseFailed   ErrorCode = "LLM_PARSE_FAILED"
	ErrExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrStoreWriteFailed ErrorCode = "STORE_WRITE_FAILED"

	// Consistency terminal - reported distinctly, not an error class
	ErrDuplicate ErrorCode = "DUPLICATE"
)

// recoveryStrategies maps error codes to the operator guidance returned in
// the error envelope. Unknown codes fall back to a generic message.
var recoveryStrategies = map[ErrorCode]string{
	ErrInvalidInput:        "Correct the request payload and retry.",
	ErrSourceNotFound:      "Create the source first (admin) or use an existing source_id.",
	ErrWordLimit:           "Trim the document content below the word limit and retry.",
	ErrSchemaViolation:     "The request does not match the tool schema; fix the fields named in details.",
	ErrNotFound:            "Verify the identifier; the record may have been removed.",
	ErrAuthMissing:         "Supply a bearer token in the Authorization header.",
	ErrAuthInvalidToken:    "Obtain a fresh token; this one is expired, revoked, or malformed.",
	ErrAccessDenied:        "Request access to the named group or target a group in your token.",
	ErrAdminRequired:       "Re-issue the call with a token that includes the admin group.",
	ErrLLMRateLimited:      "The provider is rate limiting; retry after the indicated delay.",
	ErrLLMTransport:        "Transient provider failure; retry with backoff.",
	ErrStoreUnavailable:    "A backing store is unreachable; retry once connectivity is restored.",
	ErrUpstreamUnavailable: "Upstream retries exhausted; retry later.",
	ErrLLMParseFailed:      "The provider returned unparseable output; retry or ingest without enrichment.",
	ErrExtractionFailed:    "Extraction failed after retries; retry later or relax graph-write requirements.",
	ErrStoreWriteFailed:    "A store write failed and the ingest was rolled back; retry the whole request.",
	ErrDuplicate:           "This content already exists in the group; no action needed.",
}

// RecoveryStrategy returns the operator guidance for a code
func RecoveryStrategy(code ErrorCode) string {
	if s, ok := recoveryStrategies[code]; ok {
		return s
	}
	return "Retry the request; contact the operator if the failure persists."
}

// Error is the typed service error carried through every layer and rendered
// into the HTTP error envelope. Details never contain tokens, secrets, or
// full document content.
type Error struct {
	Code    ErrorCode
	Message string
	Stage   string // pipeline stage for ingest failures, empty otherwise
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a service error
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a service error with a formatted message
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a service error wrapping a cause
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithStage annotates an error with the pipeline stage that failed
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithDetail attaches one structured detail field
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the error code from any error chain, defaulting to
// STORE_UNAVAILABLE for untyped errors so callers never leak internals.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrStoreUnavailable
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
