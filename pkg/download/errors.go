package download

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork is matched by every transport or HTTP status failure
var ErrNetwork = errors.New("network error")

// NetworkError describes a failed request
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNetwork) true for any *NetworkError
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Retryable reports whether another attempt could succeed
func (e *NetworkError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}
