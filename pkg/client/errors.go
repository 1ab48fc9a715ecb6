package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError describes one failed attempt against the API. StatusCode is 0 for
// network errors.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s error (status %d) for %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("API %s error (status %d) for %s: %s",
		e.ErrorClass, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether err is, or wraps, a network-level APIError.
func IsNetwork(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassNetwork
}

// classifyStatus maps an HTTP error status to its class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors will not change on a retry
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
