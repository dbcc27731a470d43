package fortune_gateway

import (
	"fmt"
	"net/http"
)

// GatewayError represents an error that can be returned to the client
type GatewayError struct {
	Code    int
	Message string
	Type    string
	Param   string
	// RetryAfter is the number of seconds a rate limited client should wait
	RetryAfter int
	InnerError error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.InnerError != nil {
		return fmt.Sprintf("%s: %s (inner: %v)", e.Type, e.Message, e.InnerError)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the inner error
func (e *GatewayError) Unwrap() error {
	return e.InnerError
}

// ErrorResponse is the JSON error envelope written to clients
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// ErrorDetail represents the error detail
type ErrorDetail struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Param      string `json:"param,omitempty"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// ToResponse converts the GatewayError to the client error format
func (e *GatewayError) ToResponse() *ErrorResponse {
	return &ErrorResponse{
		Error: &ErrorDetail{
			Message:    e.Message,
			Type:       e.Type,
			Param:      e.Param,
			Code:       http.StatusText(e.Code),
			RetryAfter: e.RetryAfter,
		},
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Code:    http.StatusUnauthorized,
		Message: message,
		Type:    "authentication_error",
	}
}

// NewValidationError creates a new validation error (400)
func NewValidationError(message string) *GatewayError {
	return &GatewayError{
		Code:    http.StatusBadRequest,
		Message: message,
		Type:    "invalid_request_error",
	}
}

// NewParamError creates a validation error pointing at a request parameter (400)
func NewParamError(param, message string) *GatewayError {
	err := NewValidationError(message)
	err.Param = param
	return err
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Code:    http.StatusNotFound,
		Message: message,
		Type:    "invalid_request_error",
	}
}

// NewMethodNotAllowedError creates a new method not allowed error (405)
func NewMethodNotAllowedError(method string) *GatewayError {
	return &GatewayError{
		Code:    http.StatusMethodNotAllowed,
		Message: "method not allowed: " + method,
		Type:    "invalid_request_error",
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(message string, retryAfter int) *GatewayError {
	return &GatewayError{
		Code:       http.StatusTooManyRequests,
		Message:    message,
		Type:       "rate_limit_error",
		RetryAfter: retryAfter,
	}
}

// NewProviderError creates a new provider error (502)
func NewProviderError(message string, inner error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusBadGateway,
		Message:    message,
		Type:       "api_error",
		InnerError: inner,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, inner error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    message,
		Type:       "server_error",
		InnerError: inner,
	}
}
