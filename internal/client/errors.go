package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrRequestFailed = errors.New("request failed")
)

// APIError is the typed error for any non-2xx response that was not
// absorbed by cache substitution. Transport-level failures are not
// APIErrors, they surface as wrapped transport errors.
type APIError struct {
	StatusCode int
	Message    string
	Body       Payload
	// RetryAfter is the server's requested backoff, set only for
	// throttling responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	message := e.Message
	if message == "" {
		message = "Request failed"
	}
	return fmt.Sprintf("%s (status %d)", message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 401:
		return ErrUnauthorized
	case 429:
		return ErrRateLimited
	default:
		return ErrRequestFailed
	}
}

func newAPIError(statusCode int, body Payload) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    body.message(),
		Body:       body,
	}
}
