package webmail

import (
	"errors"
	"fmt"
)

var (
	ErrFormParameterMissing = errors.New("webmail: login form parameters not found in index page")
	ErrAuthenticationFailed = errors.New("webmail: login rejected, check account and password")
	ErrSessionTokenMissing  = errors.New("webmail: session token not found in login response")
	ErrNotAuthenticated     = errors.New("webmail: not logged in")
	ErrUnexpectedResponse   = errors.New("webmail: unexpected response")
	ErrTransport            = errors.New("webmail: transport failure")
)

// Upstream envelope codes that mean the sid is no longer accepted.
const (
	codeInvalidSession = "FA_INVALID_SESSION"
	codeSessionTimeout = "FA_SESSION_TIMEOUT"
)

// APIError is returned when the upstream envelope carries result "error".
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("webmail: api error %s: %s", e.Code, e.Message)
	}
	return "webmail: api error: " + e.Message
}

// UnexpectedResponseError reports a non S_OK envelope code or a non-2xx
// HTTP status. It matches ErrUnexpectedResponse.
type UnexpectedResponseError struct {
	Code   string
	Status int
}

func (e *UnexpectedResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("webmail: unexpected response code %q", e.Code)
	}
	return fmt.Sprintf("webmail: unexpected http status %d", e.Status)
}

func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// TransportError wraps network level failures, including elapsed deadlines.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("webmail: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsSessionExpired reports whether err means the cached session must be
// discarded and a fresh login performed.
func IsSessionExpired(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var unexpected *UnexpectedResponseError
	if errors.As(err, &unexpected) {
		return unexpected.Code == codeInvalidSession || unexpected.Code == codeSessionTimeout
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeInvalidSession || apiErr.Code == codeSessionTimeout
	}
	return false
}
