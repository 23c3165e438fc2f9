package oauth

import "fmt"

// ValidationError indicates a request that failed local validation
// before any network call was made: a malformed or expired initial
// access token, or missing prerequisite state such as an absent
// client id or key id. Validation errors are never retried
// automatically.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProtocolError indicates a non-2xx response from the server. The
// HTTP status and the server-provided message are preserved so the
// caller can decide how to surface the failure.
type ProtocolError struct {
	Message string
	Status  int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// TransportError indicates a connectivity, timeout, or decoding
// failure. The underlying cause is preserved for error chain
// inspection; transport errors are eligible for caller-driven retry.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return "transport failure: " + e.Err.Error()
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *TransportError) Unwrap() error {
	return e.Err
}
