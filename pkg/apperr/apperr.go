// Package apperr defines the single handled error kind surfaced to API
// clients. Anything that is not an *Error is treated as unexpected.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Response codes.
const (
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeProgramNotFound          = "PROGRAM_NOT_FOUND"
	CodeAccessDenied             = "ACCESS_DENIED"
	CodeProgramBusy              = "PROGRAM_BUSY"
	CodeProgramRegistrationError = "PROGRAM_REGISTRATION_ERROR"
	CodeDatabaseQueryError       = "DATABASE_QUERY_ERROR"
	CodePLCNotFound              = "PLC_NOT_FOUND"
	CodeInternal                 = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeInvalidRequest:           http.StatusBadRequest,
	CodeProgramNotFound:          http.StatusNotFound,
	CodeAccessDenied:             http.StatusForbidden,
	CodeProgramBusy:              http.StatusConflict,
	CodeProgramRegistrationError: http.StatusInternalServerError,
	CodeDatabaseQueryError:       http.StatusInternalServerError,
	CodePLCNotFound:              http.StatusNotFound,
	CodeInternal:                 http.StatusInternalServerError,
}

var defaultMessages = map[string]string{
	CodeInvalidRequest:           "Invalid request",
	CodeProgramNotFound:          "Program not found",
	CodeAccessDenied:             "You do not have permission to access this program",
	CodeProgramBusy:              "Program is still being processed",
	CodeProgramRegistrationError: "Failed to register program",
	CodeDatabaseQueryError:       "Failed to query program data",
	CodePLCNotFound:              "PLC not found",
	CodeInternal:                 "An unexpected error occurred",
}

// Error is a domain failure carrying a response code and an optional cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error with the default message for code.
func New(code string) *Error {
	return &Error{Code: code, Message: defaultMessages[code]}
}

// Newf returns an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with the default message for code and err as its cause.
func Wrap(code string, err error) *Error {
	return &Error{Code: code, Message: defaultMessages[code], Err: err}
}

// CodeOf returns the response code of err, or CodeInternal when err is not handled.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err is a handled error with the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if s, ok := statusByCode[e.Code]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return defaultMessages[CodeInternal]
}
