// Package errors defines the agent's error taxonomy. External I/O failures,
// malformed remote payloads, missing configuration, invariant violations and
// exceeded deadlines are distinguished so callers can decide whether to
// skip, degrade or abort.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies the origin of an error
type ErrorCategory string

const (
	// ClientError indicates the error was caused by the caller (4xx)
	ClientError ErrorCategory = "CLIENT_ERROR"
	// ServerError indicates the error originated inside the agent (5xx)
	ServerError ErrorCategory = "SERVER_ERROR"
	// ExternalError indicates the error was caused by an external dependency
	ExternalError ErrorCategory = "EXTERNAL_ERROR"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// CodeTransport covers network, timeout, non-2xx and connection failures
	// against external systems (log store, LLM, webhooks).
	CodeTransport ErrorCode = "TRANSPORT_ERROR"
	// CodeParse covers malformed responses from an external system.
	CodeParse ErrorCode = "PARSE_ERROR"
	// CodeConfigurationMissing marks an unconfigured optional collaborator
	// (sink or LLM). Downgraded to a no-op by callers, never fatal.
	CodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
	// CodeState marks an internal invariant violation. Fatal.
	CodeState ErrorCode = "STATE_ERROR"
	// CodeDeadlineExceeded marks a bounded operation that ran out of time.
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"

	// Control-surface codes
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
)

// StructuredError carries a code, category and recovery suggestion alongside
// the message.
type StructuredError struct {
	Code       ErrorCode     `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    any           `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	cause      error
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StructuredError) Unwrap() error {
	return e.cause
}

// ToJSON converts the error to a JSON string
func (e *StructuredError) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","category":"%s","message":"%s"}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// New creates a new structured error
func New(code ErrorCode, category ErrorCategory, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error
func (e *StructuredError) WithDetails(details any) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// WithCause records the underlying error
func (e *StructuredError) WithCause(err error) *StructuredError {
	e.cause = err
	return e
}

// NewTransport creates a transport error for a failed call to an external
// system.
func NewTransport(system, message string) *StructuredError {
	return New(CodeTransport, ExternalError, fmt.Sprintf("%s: %s", system, message)).
		WithSuggestion("Check connectivity to " + system + " and try again")
}

// NewTransportStatus creates a transport error from a non-2xx response.
func NewTransportStatus(system string, statusCode int, body string) *StructuredError {
	return New(CodeTransport, ExternalError, fmt.Sprintf("%s returned HTTP %d: %s", system, statusCode, body)).
		WithDetails(map[string]any{
			"system":      system,
			"status_code": statusCode,
		}).
		WithSuggestion("Check " + system + " service status")
}

// NewParse creates a parse error for a malformed external payload.
func NewParse(system, message string) *StructuredError {
	return New(CodeParse, ExternalError, fmt.Sprintf("%s returned a malformed payload: %s", system, message)).
		WithSuggestion("Verify the " + system + " API version matches what the agent expects")
}

// NewConfigurationMissing marks an optional collaborator as unconfigured.
func NewConfigurationMissing(what string) *StructuredError {
	return New(CodeConfigurationMissing, ClientError, what+" is not configured").
		WithSuggestion("Set the corresponding environment variable to enable " + what)
}

// NewState creates a fatal invariant-violation error.
func NewState(message string) *StructuredError {
	return New(CodeState, ServerError, message)
}

// NewDeadlineExceeded creates a deadline error for a bounded operation.
func NewDeadlineExceeded(operation string) *StructuredError {
	return New(CodeDeadlineExceeded, ServerError, fmt.Sprintf("operation %q exceeded its deadline", operation)).
		WithSuggestion("Try again or raise the configured timeout")
}

// NewInvalidInput creates an invalid input error for the control surface.
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, ClientError, message).
		WithSuggestion("Check the request parameters and try again")
}

// NewNotFound creates a not-found error for the control surface.
func NewNotFound(resourceType, id string) *StructuredError {
	return New(CodeResourceNotFound, ClientError, fmt.Sprintf("%s %q not found", resourceType, id)).
		WithSuggestion("Verify the ID and try again")
}

// HTTPStatus maps an error to the status code the control surface returns.
func HTTPStatus(err error) int {
	var se *StructuredError
	if !stderrors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeResourceNotFound:
		return http.StatusNotFound
	case CodeTransport, CodeParse:
		return http.StatusBadGateway
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case CodeConfigurationMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HasCode reports whether err carries the given structured code.
func HasCode(err error, code ErrorCode) bool {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return HasCode(err, CodeTransport) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return HasCode(err, CodeResourceNotFound) }
