package core

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrServer         ErrorCode = "SERVER_ERROR"
	ErrUnreachable    ErrorCode = "UNREACHABLE"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRequestFailed  ErrorCode = "REQUEST_FAILED"
	ErrReadOnly       ErrorCode = "READ_ONLY"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternal       ErrorCode = "INTERNAL"
)

// User-facing messages for the fixed categories.
const (
	MsgSessionExpired = "Your session has expired. Please log in again (infrawizctl login)."
	MsgServerError    = "Server error. Please try again later."
	MsgUnreachable    = "Cannot connect to server. Please check that the API is running."
	MsgGenericFailure = "Something went wrong. Please try again."
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrSessionExpired:
		return http.StatusUnauthorized
	case ErrReadOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Status is the HTTP status observed from the backend, 0 when no
	// response was received.
	Status int   `json:"-"`
	Err    error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, core.NewAppError(core.ErrConflict, "")).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// UserMessage returns the message a person should see for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return MsgGenericFailure
}
