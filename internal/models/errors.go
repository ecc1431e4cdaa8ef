package models

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zacharyr0th/aptos-stables/pkg/logger"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Rate limiting errors
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Upstream errors
	ErrorCodeDataUnavailable  ErrorCode = "DATA_UNAVAILABLE"
	ErrorCodeQuoteUnavailable ErrorCode = "QUOTE_UNAVAILABLE"

	// Internal errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// genericMessage is the only text clients see for server side failures
const genericMessage = "Unable to fetch supply data. Please try again later."

// ErrorResponse is the flat {error, message} body every failure answers with
type ErrorResponse struct {
	Error         ErrorCode `json:"error"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// HTTPStatusCode returns the appropriate HTTP status code for each error type
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AppError represents an application error with context
type AppError struct {
	Code       ErrorCode
	Message    string
	Cause      error
	Context    map[string]interface{}
	StatusCode int
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
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

// NewAppErrorWithCause creates a new application error with underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Cause:      cause,
		StatusCode: code.HTTPStatusCode(),
		Context:    make(map[string]interface{}),
	}
}

// HandleError logs err with request context and answers with a generic body.
// The cause never reaches the client.
func HandleError(c *gin.Context, err error) {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = NewAppErrorWithCause(ErrorCodeInternalError, genericMessage, err)
	}

	appErr.WithContext("method", c.Request.Method).
		WithContext("path", c.Request.URL.Path).
		WithContext("client_ip", c.ClientIP())

	ctx := c.Request.Context()
	contextLogger := logger.GetLogger().WithContext(ctx)

	logFields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_message", appErr.Message),
		zap.Any("error_context", appErr.Context),
	}
	if appErr.Cause != nil {
		logFields = append(logFields, zap.Error(appErr.Cause))
	}

	if appErr.StatusCode >= 500 {
		contextLogger.Error("Application error", logFields...)
		c.Header("Cache-Control", "no-store")
	} else {
		contextLogger.Warn("Client error", logFields...)
	}

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:         appErr.Code,
		Message:       appErr.Message,
		CorrelationID: logger.GetCorrelationIDFromContext(ctx),
	})
}

// Common error constructors for specific scenarios

// NewDataUnavailableError creates the error for a supply request with nothing to serve
func NewDataUnavailableError(cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeDataUnavailable, genericMessage, cause)
}

// NewQuoteUnavailableError creates the error for a quote request with nothing to serve
func NewQuoteUnavailableError(cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeQuoteUnavailable, "Unable to fetch quote data. Please try again later.", cause)
}

