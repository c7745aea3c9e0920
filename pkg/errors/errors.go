package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	StatusCode int               `json:"-"`
	Internal   error             `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches two AppErrors by code so copies made through WithInternal still
// compare equal to the sentinel they came from.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithDetails returns a copy of the AppError carrying per-field details.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Details = details
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// Login verification errors.
var (
	ErrTokenRequired = &AppError{
		Code:       "TOKEN_REQUIRED",
		Message:    "Verification token is required",
		StatusCode: http.StatusBadRequest,
	}

	ErrTokenNotFound = &AppError{
		Code:       "TOKEN_NOT_FOUND",
		Message:    "Invalid verification token",
		StatusCode: http.StatusNotFound,
	}

	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "Verification token has expired",
		StatusCode: http.StatusBadRequest,
	}

	ErrTokenAlreadyUsed = &AppError{
		Code:       "TOKEN_ALREADY_USED",
		Message:    "This login attempt has already been verified",
		StatusCode: http.StatusBadRequest,
	}

	ErrLoginAttemptFailed = &AppError{
		Code:       "LOGIN_ATTEMPT_FAILED",
		Message:    "Unable to start login verification",
		StatusCode: http.StatusInternalServerError,
	}

	ErrNotificationFailed = &AppError{
		Code:       "NOTIFICATION_FAILED",
		Message:    "Failed to send verification email",
		StatusCode: http.StatusInternalServerError,
	}

	ErrCredentialIssue = &AppError{
		Code:       "CREDENTIAL_ISSUE_FAILED",
		Message:    "Unable to issue session credentials",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidOrExpiredCredential = &AppError{
		Code:       "INVALID_OR_EXPIRED_CREDENTIAL",
		Message:    "Invalid or expired refresh token",
		StatusCode: http.StatusUnauthorized,
	}
)

// Orientation errors.
var (
	ErrOrientationState = &AppError{
		Code:       "INVALID_SESSION_STATE",
		Message:    "Orientation session is not waiting for answers",
		StatusCode: http.StatusBadRequest,
	}

	ErrOrientationFailed = &AppError{
		Code:       "ORIENTATION_FAILED",
		Message:    "Unable to complete the orientation step",
		StatusCode: http.StatusInternalServerError,
	}

	ErrOrientationUnavailable = &AppError{
		Code:       "ORIENTATION_UNAVAILABLE",
		Message:    "Orientation advisor is not configured",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// NewValidation builds a 400 error listing the offending fields.
func NewValidation(message string, details map[string]string) *AppError {
	err := NewBadRequest(message)
	if len(details) > 0 {
		err.Details = details
	}
	return err
}
