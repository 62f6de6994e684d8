package tinvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoToken is returned before any request when the API token is not configured
var ErrNoToken = errors.New("tinvest: api token is not configured")

// APIError is implemented by every error decoded from a brokerage response
type APIError interface {
	error
	IsRetryable() bool
	RetryAfter() time.Duration
	HTTPStatus() int
}

// RateLimitError represents a rate limit error (429)
type RateLimitError struct {
	Message            string
	RetryAfterDuration time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (retry after %v)", e.Message, e.RetryAfterDuration)
}

func (e *RateLimitError) IsRetryable() bool         { return true }
func (e *RateLimitError) RetryAfter() time.Duration { return e.RetryAfterDuration }
func (e *RateLimitError) HTTPStatus() int           { return http.StatusTooManyRequests }

// AuthError represents a rejected or under-privileged token (401, 403)
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed (%d): %s", e.StatusCode, e.Message)
}

func (e *AuthError) IsRetryable() bool         { return false }
func (e *AuthError) RetryAfter() time.Duration { return 0 }
func (e *AuthError) HTTPStatus() int           { return e.StatusCode }

// ServerError represents server errors (5xx)
type ServerError struct {
	Message    string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

func (e *ServerError) IsRetryable() bool         { return true }
func (e *ServerError) RetryAfter() time.Duration { return 5 * time.Second }
func (e *ServerError) HTTPStatus() int           { return e.StatusCode }

// ClientError represents the remaining 4xx errors, including business rejections
// such as insufficient funds or a closed trading session
type ClientError struct {
	Message    string
	Code       string
	StatusCode int
}

func (e *ClientError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client error (%d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("client error (%d): %s", e.StatusCode, e.Message)
}

func (e *ClientError) IsRetryable() bool         { return false }
func (e *ClientError) RetryAfter() time.Duration { return 0 }
func (e *ClientError) HTTPStatus() int           { return e.StatusCode }

// parseAPIError maps a non-2xx response to a typed error.
// The gateway returns {"code": <grpc code>, "message": "...", "description": "<business code>"}.
func parseAPIError(statusCode int, header http.Header, body []byte) APIError {
	var errorResp struct {
		Code        int    `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(body, &errorResp)

	message := errorResp.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:            message,
			RetryAfterDuration: retryAfter(header),
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthError{Message: message, StatusCode: statusCode}
	case statusCode >= 400 && statusCode < 500:
		return &ClientError{Message: message, Code: errorResp.Description, StatusCode: statusCode}
	default:
		return &ServerError{Message: message, StatusCode: statusCode}
	}
}

// retryAfter reads the x-ratelimit-reset or Retry-After header in seconds
func retryAfter(header http.Header) time.Duration {
	for _, key := range []string{"X-Ratelimit-Reset", "Retry-After"} {
		if v := header.Get(key); v != "" {
			if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return 60 * time.Second
}

// isRetryable decides whether a failed attempt should be repeated
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoToken) {
		return false
	}

	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}

// countsAsFailure reports whether an error should trip the circuit breaker.
// Rejections caused by the request itself say nothing about broker health.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, ErrNoToken)
}
