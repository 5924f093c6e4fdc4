package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when every attempt on every endpoint failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrNoEndpoints is returned by New when no endpoint is configured.
	ErrNoEndpoints = errors.New("at least one upstream endpoint is required")
)

// ErrorClass classifies a failed attempt.
type ErrorClass string

const (
	// ErrorClassTransport means no response was received.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassStatus means a non-2xx status other than the blocked class.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassMalformed means a 2xx response whose body was not JSON.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassBusiness means a well-formed body without the success code.
	ErrorClassBusiness ErrorClass = "business"

	// ErrorClassBlocked means access forbidden or region restricted (403/451).
	ErrorClassBlocked ErrorClass = "blocked"

	// ErrorClassCancelled means the request context ended mid-fetch.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassRequest means the request could not be built; nothing was sent.
	ErrorClassRequest ErrorClass = "request"
)

// StatusUnavailableForLegalReasons is the region-restriction status (451).
const StatusUnavailableForLegalReasons = http.StatusUnavailableForLegalReasons

// IsBlockedStatus reports whether a status code belongs to the fatal class.
func IsBlockedStatus(code int) bool {
	return code == http.StatusForbidden || code == StatusUnavailableForLegalReasons
}

// shouldRetry reports whether another attempt on the same endpoint can help.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassTransport, ErrorClassStatus, ErrorClassMalformed, ErrorClassBusiness:
		return true
	default:
		return false
	}
}

// Origin names the kind of endpoint an attempt went to.
type Origin string

const (
	OriginDirect Origin = "direct"
	OriginProxy  Origin = "proxy"
)

// ErrorRecord describes one failed attempt. It is diagnostic only.
type ErrorRecord struct {
	Origin     Origin     `json:"origin"`
	Endpoint   string     `json:"endpoint,omitempty"`
	Class      ErrorClass `json:"class"`
	StatusCode int        `json:"status,omitempty"`
	Body       string     `json:"body,omitempty"`
	Message    string     `json:"error,omitempty"`
}

// UpstreamError is the error form of a failed fetch.
type UpstreamError struct {
	Attempts int
	Last     ErrorRecord
	Err      error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	detail := string(e.Last.Class)
	if e.Last.StatusCode != 0 {
		detail = fmt.Sprintf("%s, status %d", detail, e.Last.StatusCode)
	}
	if e.Last.Message != "" {
		detail = fmt.Sprintf("%s: %s", detail, e.Last.Message)
	}
	return fmt.Sprintf("upstream fetch failed after %d attempts (last %s via %s): %v",
		e.Attempts, detail, e.Last.Origin, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
