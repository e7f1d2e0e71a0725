package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited  ErrCode = "RATE_LIMITED"
	ErrCodeInternal     ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrCode = "BAD_REQUEST"
	ErrCodeForbidden    ErrCode = "FORBIDDEN"
	ErrCodeEmptyTable   ErrCode = "EMPTY_TABLE"
	ErrCodeUpstream     ErrCode = "UPSTREAM_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeForbidden,
		Message: message,
	}
}

// NewEmptyTableError reports a table that violates the non-empty constraint
func NewEmptyTableError(table string) *AppError {
	return &AppError{
		Code:    ErrCodeEmptyTable,
		Message: fmt.Sprintf("table %s is empty", table),
	}
}

// NewUpstreamError wraps a failure reported by an external API
func NewUpstreamError(service string, status int, body string) *AppError {
	return &AppError{
		Code:    ErrCodeUpstream,
		Message: fmt.Sprintf("%s returned status %d: %s", service, status, body),
	}
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsEmptyTable checks if the error is an empty table error
func IsEmptyTable(err error) bool {
	return hasCode(err, ErrCodeEmptyTable)
}

// IsBadRequest checks if the error is a bad request error
func IsBadRequest(err error) bool {
	return hasCode(err, ErrCodeBadRequest)
}
