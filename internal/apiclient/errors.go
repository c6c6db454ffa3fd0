package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NetworkError indicates no HTTP response was received (DNS failure,
// connection refusal, transport timeout). Requests failing this way are
// retried with backoff before the error surfaces.
type NetworkError struct {
	Message string
	cause   error
}

func (e *NetworkError) Error() string {
	return e.Message
}

func (e *NetworkError) Unwrap() error {
	return e.cause
}

// APIError indicates an HTTP response with an error status. Not retried.
type APIError struct {
	Message string
	Status  int
	Body    []byte
}

func (e *APIError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status carried by the error.
func (e *APIError) StatusCode() int {
	return e.Status
}

// AuthError indicates an authentication failure (401) that survived the
// refresh-and-retry attempt.
type AuthError struct {
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status carried by the error.
func (e *AuthError) StatusCode() int {
	return e.Status
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// messageFromBody extracts a human-readable error message from a 4xx
// response body: a JSON "message" field, then a JSON "error" field, then
// the raw body when it is not a JSON object, then a generic fallback.
func messageFromBody(body []byte, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fmt.Sprintf("request failed with status %d", status)
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if m, ok := obj["message"].(string); ok && m != "" {
			return m
		}
		if m, ok := obj["error"].(string); ok && m != "" {
			return m
		}
		return fmt.Sprintf("request failed with status %d", status)
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
		return s
	}

	return string(trimmed)
}
