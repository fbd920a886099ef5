package control

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned when a call is made before username and password are known.
	ErrNoCredentials = errors.New("control API credentials are not set")
	// ErrMalformedResponse is returned when a response body is not the expected JSON document.
	ErrMalformedResponse = errors.New("malformed control API response")
	// ErrMissingIdentity is returned when an addImage response has no data.identity field.
	ErrMissingIdentity = errors.New("overlay identity missing from response")
	// ErrInvalidIdentity is returned when the service assigns a negative identity.
	ErrInvalidIdentity = errors.New("overlay identity is negative")
)

// APIError is the error object returned inside a JSON-RPC response body.
type APIError struct {
	// Code is the service specific error code.
	Code int `json:"code"`
	// Message is the human readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("control API error %d: %s", e.Code, e.Message)
}

// StatusError reports a non-2xx HTTP status from the control plane.
type StatusError struct {
	// Path is the CGI path that was called.
	Path string
	// StatusCode is the HTTP status returned.
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Path, e.StatusCode)
}
