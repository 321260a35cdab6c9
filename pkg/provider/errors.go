package provider

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when an API key is required but missing.
	ErrNoAPIKey = errors.New("provider: API key required")

	// ErrEmptyText is returned for requests without text.
	ErrEmptyText = errors.New("provider: empty text")

	// ErrProviderUnavailable is returned when the backend is not configured or unreachable.
	ErrProviderUnavailable = errors.New("provider: unavailable")

	// ErrPathEscape is returned when a tool path resolves outside the category directory.
	ErrPathEscape = errors.New("provider: path escapes directory")

	// ErrPlanNotFound is returned for unknown plan ids.
	ErrPlanNotFound = errors.New("provider: plan not found")

	// ErrPlanNotPending is returned when confirming or denying a plan that is not awaiting approval.
	ErrPlanNotPending = errors.New("provider: plan not pending approval")

	// ErrTimeout is returned when a bounded operation runs out of time.
	ErrTimeout = errors.New("provider: timed out")
)

// Error wraps a backend failure with the provider and operation.
type Error struct {
	Provider protocol.Provider
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("provider [%s] %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps err with provider context.
func Wrap(p protocol.Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: p, Op: op, Err: err}
}

// APIError is an HTTP error returned by a backend API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Message returns the text spoken to the user for err. Provider errors are
// read aloud, so the wrapping chain is dropped.
func Message(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

func fromOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := string(reqErr.Body)
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}
