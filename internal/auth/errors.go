package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoProviders is returned when a registry is built without providers.
	ErrNoProviders = errors.New("at least one provider must be configured")
	// ErrProviderNotFound is returned when a key names no registered provider.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderRequired is returned when the session carries no provider key.
	ErrProviderRequired = errors.New("provider is required")
	// ErrCapabilityNotImplemented is returned when a provider lacks an optional capability.
	ErrCapabilityNotImplemented = errors.New("capability not implemented for this provider")
	// ErrInvalidState is wrapped by every state token verification failure.
	ErrInvalidState = errors.New("invalid request state")
	// ErrRefreshNotConfigured is returned by providers that have no refresh endpoint.
	ErrRefreshNotConfigured = errors.New("refresh token endpoint not configured")
)

// ValidationError lists every invalid field of a request body.
type ValidationError struct {
	Message string              `json:"message"`
	Data    map[string][]string `json:"data"`
}

// NewValidationError creates an empty ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Data: map[string][]string{}}
}

// Add records a violation for field.
func (e *ValidationError) Add(field, violation string) {
	e.Data[field] = append(e.Data[field], violation)
}

// HasErrors reports whether any violation was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Data) > 0
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Data))
	for f := range e.Data {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(fields, ", "))
}

// StateError is returned when a state token cannot be trusted. Signature,
// expiry and format failures all unwrap to ErrInvalidState.
type StateError struct {
	Reason string
	Err    error
}

func (e *StateError) Error() string {
	return ErrInvalidState.Error() + ": " + e.Reason
}

func (e *StateError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidState}
	}
	return []error{ErrInvalidState, e.Err}
}

// RemoteError is a network failure or a non-2xx answer from an identity provider.
type RemoteError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
