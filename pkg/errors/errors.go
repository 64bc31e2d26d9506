package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"overlaycast/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeItemRemoved        ErrorCode = "ITEM_REMOVED"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeSessionClosed      ErrorCode = "SESSION_CLOSED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

var domainErrors = []struct {
	target error
	code   ErrorCode
	status int
}{
	{domain.ErrEventNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrItemNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrItemRemoved, ErrCodeItemRemoved, http.StatusGone},
	{domain.ErrInvalidEventID, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrNothingSelected, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrReadOnlySession, ErrCodeForbidden, http.StatusForbidden},
	{domain.ErrInvalidTransition, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrSessionNotLoaded, ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	{domain.ErrSessionClosed, ErrCodeSessionClosed, http.StatusGone},
}

// FromDomain converts err into an AppError. Existing AppErrors are returned
// as is, domain sentinels get their mapped code and anything else becomes an
// internal error.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, d := range domainErrors {
		if stderrors.Is(err, d.target) {
			return WrapError(err, d.code, d.target.Error(), d.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
}
