package openfinance

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidResponse marks a 200 response that could not be used.
var ErrInvalidResponse = errors.New("invalid provider response")

// ProviderError is returned by every failed provider call.
// StatusCode is 0 when no HTTP response was received.
type ProviderError struct {
	Operation  string
	StatusCode int
	Type       string
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s failed", e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(": %s/%s", e.Type, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether a later attempt may succeed without operator
// action: transport failures, timeouts, rate limiting, server errors and
// unusable 200 responses. Other 4xx responses are permanent.
func (e *ProviderError) Transient() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}
