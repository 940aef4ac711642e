package errors

import (
	"fmt"
	"net/http"
)

// Error codes for the chat pipeline failure taxonomy.
const (
	// CodeInvalidInput marks requests rejected before any stream opens.
	CodeInvalidInput = "INVALID_INPUT"
	// CodeUpstreamFailure marks completion backend failures.
	CodeUpstreamFailure = "UPSTREAM_FAILURE"
	// CodeSideEffectFailure marks failures of non-fatal side effects
	// (memory writes, option generation).
	CodeSideEffectFailure = "SIDE_EFFECT_FAILURE"
	// CodeNotFound marks missing resources such as unknown characters.
	CodeNotFound = "NOT_FOUND"
	// CodeInternal marks unexpected errors.
	CodeInternal = "INTERNAL_ERROR"
)

// AppError is an application error carrying an HTTP status and a stable
// machine-readable code.
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates an application error.
func New(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewInvalidInputError creates a 400 error for rejected input.
func NewInvalidInputError(message string) *AppError {
	return New(http.StatusBadRequest, CodeInvalidInput, message)
}

// NewUpstreamFailureError creates a 502 error for a broken backend call.
func NewUpstreamFailureError(message string) *AppError {
	return New(http.StatusBadGateway, CodeUpstreamFailure, message)
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NewInternalError creates a 500 error.
func NewInternalError(message string) *AppError {
	return New(http.StatusInternalServerError, CodeInternal, message)
}

// FromError converts any error to an AppError. AppErrors pass through
// unchanged; everything else becomes an internal error.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(err.Error())
}

// StatusCode extracts the HTTP status from an error, defaulting to 500.
func StatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
