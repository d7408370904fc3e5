package dto

import (
	"errors"
	"net/http"

	"github.com/erp/datacore/internal/domain/shared"
)

// Request-level error codes. Domain failures keep the codes of the shared package.
const (
	// ErrCodeInternal is used for errors that carry no domain code
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed request bodies
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeTenantRequired is used when the tenant header is missing
	ErrCodeTenantRequired = "TENANT_REQUIRED"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured size
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeTenantRequired:  http.StatusUnauthorized,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Tenant resolution
	shared.CodeNotFound: http.StatusNotFound,
	shared.CodeInactive: http.StatusForbidden,

	// Pool
	shared.CodeConnectionFailed:   http.StatusServiceUnavailable,
	shared.CodePoolClosed:         http.StatusServiceUnavailable,
	shared.CodeConnectionReleased: http.StatusInternalServerError,

	// Caller input
	shared.CodeInvalidName:    http.StatusBadRequest,
	shared.CodeParseError:     http.StatusBadRequest,
	shared.CodeDepthExceeded:  http.StatusBadRequest,
	shared.CodeTooManyClauses: http.StatusBadRequest,
	shared.CodeInvalidInput:   http.StatusBadRequest,
	shared.CodeShapeViolation: http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorInfoFrom converts err into the response error payload and its status.
// Errors without a domain code are reported as internal and their text is
// not exposed.
func ErrorInfoFrom(err error, requestID string) (int, *ErrorInfo) {
	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError, &ErrorInfo{
			Code:      ErrCodeInternal,
			Message:   "An unexpected error occurred",
			RequestID: requestID,
		}
	}

	info := &ErrorInfo{
		Code:      domainErr.Code,
		Message:   domainErr.Message,
		Details:   domainErr.Details,
		Retryable: domainErr.Retryable,
		RequestID: requestID,
	}
	return GetHTTPStatus(domainErr.Code), info
}
