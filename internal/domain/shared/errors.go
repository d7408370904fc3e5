package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes used across the data access core
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInactive           = "INACTIVE"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeInvalidName        = "INVALID_NAME"
	CodeParseError         = "PARSE_ERROR"
	CodeDepthExceeded      = "DEPTH_EXCEEDED"
	CodeTooManyClauses     = "TOO_MANY_CLAUSES"
	CodeConnectionReleased = "CONNECTION_RELEASED"
	CodePoolClosed         = "POOL_CLOSED"
	CodeShapeViolation     = "SHAPE_VIOLATION"
	CodeInvalidInput       = "INVALID_INPUT"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
	cause     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches domain errors by code so callers can use errors.Is against the sentinels
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error with an extra context entry
func (e *DomainError) WithDetail(key, value string) *DomainError {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	cp := *e
	cp.Message = message
	return &cp
}

// Wrap returns a copy of the error carrying cause
func (e *DomainError) Wrap(cause error) *DomainError {
	cp := *e
	cp.cause = cause
	return &cp
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound           = NewDomainError(CodeNotFound, "Resource not found")
	ErrInactive           = NewDomainError(CodeInactive, "Tenant is inactive")
	ErrConnectionFailed   = &DomainError{Code: CodeConnectionFailed, Message: "Failed to connect to tenant database", Retryable: true}
	ErrInvalidName        = NewDomainError(CodeInvalidName, "Invalid collection name")
	ErrParse              = NewDomainError(CodeParseError, "Malformed filter expression")
	ErrDepthExceeded      = NewDomainError(CodeDepthExceeded, "Filter expression nesting too deep")
	ErrTooManyClauses     = NewDomainError(CodeTooManyClauses, "Filter expression has too many clauses")
	ErrConnectionReleased = NewDomainError(CodeConnectionReleased, "Connection already released")
	ErrPoolClosed         = NewDomainError(CodePoolClosed, "Connection pool is shut down")
	ErrShapeViolation     = NewDomainError(CodeShapeViolation, "Document does not match collection shape")
	ErrInvalidInput       = NewDomainError(CodeInvalidInput, "Invalid input provided")
)

// IsRetryable reports whether err may be retried by the core
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// CodeOf returns the domain error code of err, or "" when err is not a domain error
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
