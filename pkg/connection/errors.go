package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxErrorBody bounds how much of a response body is echoed in error messages.
const maxErrorBody = 512

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrNoCredentials is returned when a token renewal is required but the
	// connection was configured with a static access token only.
	ErrNoCredentials = errors.New("connection: no credentials to renew token")

	// ErrMissingURL is returned when no base URL is configured.
	ErrMissingURL = errors.New("connection: missing base url")

	// ErrConnectionClosed is returned by an AsyncConnection after Close.
	ErrConnectionClosed = errors.New("connection: closed")

	// ErrFutureCancelled is returned by Future.Wait when the request was
	// cancelled before being dispatched.
	ErrFutureCancelled = errors.New("connection: request cancelled before dispatch")
)

// ============================================================================
// ConnectivityError - transport level failures
// ============================================================================

// ConnectivityError reports a failure to exchange a request with the server:
// DNS failure, refused connection, TLS failure or timeout.
type ConnectivityError struct {
	Method string
	URL    string
	Err    error
}

func (e *ConnectivityError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: connection failed: %v", e.Method, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by an exceeded deadline.
func (e *ConnectivityError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ============================================================================
// AuthenticationError - token endpoint and repeated 401 failures
// ============================================================================

// AuthenticationError reports that a token could not be obtained, or that the
// backend still rejected a request after the token was renewed.
type AuthenticationError struct {
	// StatusCode is the HTTP status returned, or 0 when no response was involved.
	StatusCode int

	// Code is the OAuth2 error code when the server returned one.
	Code string

	// Description is a human readable reason.
	Description string

	// Err is the underlying cause, if any.
	Err error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	b.WriteString("authentication failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ============================================================================
// ResponseError - non-2xx backend responses
// ============================================================================

// ResponseError reports a non-2xx response from a backend service.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int

	// Body is the raw response body.
	Body []byte

	// Code and Description are extracted from the body when it follows one of
	// the error conventions used by the platform services.
	Code        string
	Description string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if len(e.Body) > 0 {
		msg += ": " + truncate(e.Body, maxErrorBody)
	}
	return msg
}

// ============================================================================
// DecodeError - invalid JSON in a successful response
// ============================================================================

// DecodeError reports a response body that could not be decoded as JSON.
type DecodeError struct {
	URL  string
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v: %s", e.URL, e.Err, truncate(e.Body, maxErrorBody))
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ============================================================================
// Predicates
// ============================================================================

// IsConnectivity reports whether err is a transport failure.
func IsConnectivity(err error) bool {
	var e *ConnectivityError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a transport failure caused by a deadline.
func IsTimeout(err error) bool {
	var e *ConnectivityError
	return errors.As(err, &e) && e.Timeout()
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

// IsResponse reports whether err is a non-2xx backend response.
func IsResponse(err error) bool {
	var e *ResponseError
	return errors.As(err, &e)
}

// IsDecode reports whether err is a JSON decoding failure.
func IsDecode(err error) bool {
	var e *DecodeError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a 404 backend response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// ============================================================================
// Error body parsing
// ============================================================================

// errorBody covers the error shapes returned by the platform services.
type errorBody struct {
	// OAuth2 (RFC 6749)
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`

	// Validation errors
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`

	// Aggregated errors
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// parseErrorBody extracts a code and description from an error response
// body. Unknown shapes fall back to the status text and the raw body.
func parseErrorBody(status int, body []byte) (code, description string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		// {"error": "invalid_grant", "error_description": "..."}
		var s string
		if json.Unmarshal(eb.Error, &s) == nil && s != "" {
			return s, eb.ErrorDescription
		}

		// {"error": {"message": "..."}}
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(eb.Error, &nested) == nil && nested.Message != "" {
			return nested.Code, nested.Message
		}

		// {"code": "...", "message": "..."}; numeric codes are kept as text
		if len(eb.Code) > 0 && string(eb.Code) != "null" {
			return strings.Trim(string(eb.Code), `"`), eb.Message
		}

		if eb.Message != "" {
			return "", eb.Message
		}

		if len(eb.Errors) > 0 {
			msgs := make([]string, 0, len(eb.Errors))
			for _, e := range eb.Errors {
				msgs = append(msgs, e.Message)
			}
			return "", strings.Join(msgs, "; ")
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && utf8.ValidString(text) {
		return "", truncate([]byte(text), maxErrorBody)
	}
	return "", http.StatusText(status)
}

// newResponseError builds a ResponseError from a consumed response body.
func newResponseError(method, url string, status int, body []byte) *ResponseError {
	code, desc := parseErrorBody(status, body)
	return &ResponseError{
		Method:      method,
		URL:         url,
		StatusCode:  status,
		Body:        body,
		Code:        code,
		Description: desc,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	// Step back to a rune boundary.
	cut := n
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "..."
}
