package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code     int
		expected ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{504, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			if got := classifyStatus(tt.code); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiError: &APIError{
				ErrorClass: ErrorClassNetwork,
				URL:        "https://api.test/v2/hotspot/a",
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "API network error (status 0) for https://api.test/v2/hotspot/a: request failed: connection refused",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 502,
				ErrorClass: ErrorClassServer,
				URL:        "https://api.test/v2/hotspot/a",
				Message:    "502 Bad Gateway",
			},
			expected: "API server error (status 502) for https://api.test/v2/hotspot/a: 502 Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	apiError := &APIError{ErrorClass: ErrorClassNetwork, Err: wrappedErr}

	if apiError.Unwrap() != wrappedErr {
		t.Errorf("Unwrap() = %v, want %v", apiError.Unwrap(), wrappedErr)
	}
	if !errors.Is(apiError, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}

	if (&APIError{StatusCode: 404}).Unwrap() != nil {
		t.Error("Unwrap() should be nil without wrapped error")
	}
}

func TestIsNetwork(t *testing.T) {
	netErr := fmt.Errorf("%w after 3 attempts: %w", ErrRetryExhausted, &APIError{ErrorClass: ErrorClassNetwork})
	if !IsNetwork(netErr) {
		t.Error("IsNetwork() = false for wrapped network error")
	}
	if IsNetwork(&APIError{StatusCode: 500, ErrorClass: ErrorClassServer}) {
		t.Error("IsNetwork() = true for server error")
	}
	if IsNetwork(errors.New("plain")) {
		t.Error("IsNetwork() = true for plain error")
	}
}
