package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("resource conflict")
	ErrInternal      = errors.New("internal error")
	ErrConfiguration = errors.New("configuration error")
	ErrBusiness      = errors.New("business rejection")
	ErrGateway       = errors.New("payment gateway error")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Configuration creates a configuration error. These are fatal to the
// requested operation and are never retried automatically.
func Configuration(message string) *AppError {
	return &AppError{
		Code:       "CONFIGURATION_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        ErrConfiguration,
	}
}

// Business creates a business rejection. The caller is expected to
// re-derive correct state and may retry with corrected input.
func Business(message string) *AppError {
	return &AppError{
		Code:       "BUSINESS_REJECTED",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrBusiness,
	}
}

// Gateway creates a payment gateway transport/protocol error.
func Gateway(message string, err error) *AppError {
	return &AppError{
		Code:       "GATEWAY_ERROR",
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        errors.Join(ErrGateway, err),
	}
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
		},
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBusiness):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
