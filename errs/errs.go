// Package errs provides structured error types and helpers for the security search bridge.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category along the request path.
type Code string

const (
	// CodeIncompleteInput indicates the client stream ended before a balanced JSON object arrived.
	CodeIncompleteInput Code = "incomplete_input"
	// CodeOversizedRequest indicates the framed request exceeded the configured byte limit.
	CodeOversizedRequest Code = "oversized_request"
	// CodeMalformedRequest indicates the framed text was not a JSON object.
	CodeMalformedRequest Code = "malformed_request"
	// CodeSessionStart indicates the backend session could not be started.
	CodeSessionStart Code = "session_start"
	// CodeToken indicates token generation did not succeed within the wait budget.
	CodeToken Code = "token"
	// CodeAuthorization indicates the authorization handshake failed or timed out.
	CodeAuthorization Code = "authorization"
	// CodeServiceOpen indicates the query service could not be opened.
	CodeServiceOpen Code = "service_open"
	// CodeRequestType indicates the backend service does not know the request type.
	CodeRequestType Code = "request_type"
	// CodeUnknownFilter indicates a filter name is not part of the request schema.
	CodeUnknownFilter Code = "unknown_filter"
	// CodeInvalidFilterValue indicates a filter value could not be converted to its schema type.
	CodeInvalidFilterValue Code = "invalid_filter_value"
	// CodeBackend indicates the backend answered with an error response.
	CodeBackend Code = "backend_error"
	// CodeSessionTerminated indicates the backend session terminated mid exchange.
	CodeSessionTerminated Code = "session_terminated"
	// CodeSessionFailure indicates the backend session reported a startup failure mid exchange.
	CodeSessionFailure Code = "session_failure"
	// CodeInvalid indicates invalid input provided by the caller or configuration.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the component is closed or saturated.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the bridge.
type E struct {
	Component string
	Code      Code
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = value
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := e.Component
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Description returns the client-facing description of the failure.
func (e *E) Description() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// CodeOf extracts the code of the first *E in the error chain.
func CodeOf(err error) (Code, bool) {
	var target *E
	if errors.As(err, &target) && target != nil {
		return target.Code, true
	}
	return "", false
}

// IsCode reports whether the error chain carries an *E with the given code.
func IsCode(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
