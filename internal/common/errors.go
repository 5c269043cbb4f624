package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies one terminal outcome of a license operation
type ErrorCode string

const (
	CodeMalformedToken     ErrorCode = "MalformedToken"
	CodeBadSignature       ErrorCode = "BadSignature"
	CodeExpired            ErrorCode = "Expired"
	CodeNotFound           ErrorCode = "NotFound"
	CodeDeviceMismatch     ErrorCode = "DeviceMismatch"
	CodeToolMismatch       ErrorCode = "ToolMismatch"
	CodeLicenseInactive    ErrorCode = "LicenseInactive"
	CodeTrialAlreadyUsed   ErrorCode = "TrialAlreadyUsed"
	CodeTrialNotExtendable ErrorCode = "TrialNotExtendable"
	CodePackageNotAllowed  ErrorCode = "PackageNotAllowed"
	CodeAccessDenied       ErrorCode = "AccessDenied"
	CodeMissingDays        ErrorCode = "MissingDays"
	CodeStoreUnavailable   ErrorCode = "StoreUnavailable"

	CodeInvalidField       ErrorCode = "InvalidField"
	CodeSigningError       ErrorCode = "SigningError"
	CodeValidationFailed   ErrorCode = "ValidationFailed"
	CodeUnauthorized       ErrorCode = "Unauthorized"
	CodeInvalidCredentials ErrorCode = "InvalidCredentials"
	CodeEmailExists        ErrorCode = "EmailExists"
	CodeRateLimited        ErrorCode = "RateLimited"
)

var httpStatusByCode = map[ErrorCode]int{
	CodeMalformedToken:     http.StatusBadRequest,
	CodeBadSignature:       http.StatusBadRequest,
	CodeExpired:            http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeDeviceMismatch:     http.StatusForbidden,
	CodeToolMismatch:       http.StatusForbidden,
	CodeLicenseInactive:    http.StatusForbidden,
	CodeTrialAlreadyUsed:   http.StatusForbidden,
	CodeTrialNotExtendable: http.StatusBadRequest,
	CodePackageNotAllowed:  http.StatusBadRequest,
	CodeAccessDenied:       http.StatusForbidden,
	CodeMissingDays:        http.StatusBadRequest,
	CodeStoreUnavailable:   http.StatusServiceUnavailable,
	CodeInvalidField:       http.StatusBadRequest,
	CodeSigningError:       http.StatusInternalServerError,
	CodeValidationFailed:   http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeEmailExists:        http.StatusConflict,
	CodeRateLimited:        http.StatusTooManyRequests,
}

// HTTPStatus maps an error code to its response status
func HTTPStatus(code ErrorCode) int {
	if status, ok := httpStatusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is a typed, caller-visible failure
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code, so errors.Is works against sentinels
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError creates a typed error
func NewError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError creates a typed error around a cause
func WrapError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first AppError in err's chain
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
