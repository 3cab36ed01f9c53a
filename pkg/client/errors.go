package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// APIError is a request the server answered with success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("branchdown: status %d: %s", e.StatusCode, e.Message)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidArgument:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// TransportError is a call that did not produce a usable envelope: the
// connection failed, the body was not an envelope, or the breaker is open.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("branchdown: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err may succeed on a later attempt: transport
// failures, rate limiting, conflicts and server-side failures. Not-found and
// invalid-argument answers are final.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode == http.StatusConflict,
		apiErr.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}

// IsCircuitOpen reports whether err was a call short-circuited by the breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
