package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches backend 401/403 responses
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound matches backend 404 responses
	ErrNotFound = errors.New("not found")

	// ErrConflict matches backend 409 responses, such as cancelling a
	// sync that already started running
	ErrConflict = errors.New("conflict")
)

// NetworkError indicates the request never reached the backend or the
// response never arrived. The backend's state is unknown.
type NetworkError struct {
	Err error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

// Unwrap returns the underlying transport error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError indicates the backend responded with a failure status.
// Use errors.Is with ErrUnauthorized, ErrNotFound, or ErrConflict to
// classify it.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Is maps well-known statuses onto the sentinel error kinds
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	default:
		return false
	}
}

// IsNetworkError reports whether err is a transport-level failure
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
