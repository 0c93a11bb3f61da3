package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - invalid request data or query input
	ErrorTypeValidation
	// Database errors - the graph database rejected or failed a call
	ErrorTypeDatabase
	// Network errors - the graph database could not be reached
	ErrorTypeNetwork
	// NotFound errors - a class, record or connection does not exist
	ErrorTypeNotFound
	// Conflict errors - the entity already exists
	ErrorTypeConflict
	// Forbidden errors - the operation is not allowed
	ErrorTypeForbidden
	// NotConnected errors - no usable connection for the request
	ErrorTypeNotConnected
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeDatabase:
		return "DATABASE"
	case ErrorTypeNetwork:
		return "NETWORK"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeForbidden:
		return "FORBIDDEN"
	case ErrorTypeNotConnected:
		return "NOT_CONNECTED"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors for common error types

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error
func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a database error
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityHigh, message)
}

// DatabaseErrorf wraps a database error with formatting
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityHigh, fmt.Sprintf(format, args...))
}

// NetworkError wraps a network error
func NetworkError(err error, message string) *Error {
	return Wrap(err, ErrorTypeNetwork, SeverityHigh, message)
}

// NetworkErrorf wraps a network error with formatting
func NetworkErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeNetwork, SeverityHigh, fmt.Sprintf(format, args...))
}

// NotFoundError creates a not-found error
func NotFoundError(message string) *Error {
	return New(ErrorTypeNotFound, SeverityLow, message)
}

// NotFoundErrorf creates a not-found error with formatting
func NotFoundErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeNotFound, SeverityLow, fmt.Sprintf(format, args...))
}

// ConflictErrorf creates a conflict error with formatting
func ConflictErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConflict, SeverityLow, fmt.Sprintf(format, args...))
}

// ForbiddenError creates a forbidden error
func ForbiddenError(message string) *Error {
	return New(ErrorTypeForbidden, SeverityMedium, message)
}

// NotConnectedError creates an error for requests without a usable connection
func NotConnectedError(message string) *Error {
	return New(ErrorTypeNotConnected, SeverityMedium, message)
}

// InternalError creates an internal error
func InternalError(message string) *Error {
	return New(ErrorTypeInternal, SeverityCritical, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity
	}

	return SeverityMedium
}

// GetType returns the type of an error. Untyped errors count as internal.
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether any error in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == errType
	}
	return false
}

// HTTPStatus maps an error to the status code returned by the façades.
// Anything the graph database reports without a known shape is a 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch GetType(err) {
	case ErrorTypeValidation, ErrorTypeNotConnected:
		return http.StatusBadRequest
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
