package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is the base error type for HTTP API errors.
// It supports errors.Is matching by status code and errors.As extraction.
type APIError struct {
	StatusCode int
	Message    string
}

// Error returns the formatted error string.
func (e *APIError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is supports errors.Is matching by status code.
// ErrServer (500) matches any 5xx status code.
// All other sentinels require an exact status code match.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	// ErrServer matches any 5xx
	if t.StatusCode == 500 && e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	return e.StatusCode == t.StatusCode
}

// Sentinel errors for the status codes the rules endpoint produces.
var (
	ErrBadRequest   = &APIError{StatusCode: 400, Message: "bad request"}
	ErrUnauthorized = &APIError{StatusCode: 401, Message: "unauthorized"}
	ErrForbidden    = &APIError{StatusCode: 403, Message: "forbidden"}
	ErrNotFound     = &APIError{StatusCode: 404, Message: "not found"}
	ErrRateLimit    = &APIError{StatusCode: 429, Message: "rate limit exceeded"}
	ErrServer       = &APIError{StatusCode: 500, Message: "server error"}
)

// maxErrorBody is the maximum number of bytes read from an error response body.
const maxErrorBody = 4096

// errorFromResponse creates an *APIError from an HTTP response.
// It reads up to 4KB of the response body.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// FetchError reports that the desired rule list could not be obtained.
// The wrapped error is a transport error, a timeout, an *APIError or a
// decode failure. A pass that sees a FetchError must not touch the kernel.
type FetchError struct {
	NodeID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("api: fetch rules for node %s: %v", e.NodeID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
