package errors

import (
	"fmt"
)

// AppError represents a structured engine error. Scope, when set,
// names the sub-result or column the error is confined to, so callers
// can tell a partially failed analysis from a fully aborted one.
type AppError struct {
	Code    string
	Message string
	Scope   string
	Cause   error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Scope != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Scope)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Scope:   appErr.Scope,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// GetScope returns the scope of an AppError, or "" for other errors.
func GetScope(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Scope
	}
	return ""
}

// Predefined error codes.
//
// Structural and configuration errors abort a call entirely; the
// complexity limit aborts identifiability search only; insufficient
// data and degenerate input are scoped to a single sub-result.
const (
	CodeStructural       = "STRUCTURAL_ERROR"
	CodeVertexNotFound   = "VERTEX_NOT_FOUND"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeComplexityLimit  = "COMPLEXITY_LIMIT_EXCEEDED"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeDegenerateInput  = "DEGENERATE_INPUT"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Common error constructors

func Structural(message string) *AppError {
	return New(CodeStructural, message)
}

func VertexNotFound(name string) *AppError {
	return &AppError{
		Code:    CodeVertexNotFound,
		Message: fmt.Sprintf("variable %q not found", name),
		Scope:   name,
	}
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func ComplexityLimit(message string) *AppError {
	return New(CodeComplexityLimit, message)
}

// InsufficientData marks a single quantity as unestimable. Other
// quantities in the same call keep computing.
func InsufficientData(quantity, message string) *AppError {
	return &AppError{
		Code:    CodeInsufficientData,
		Message: message,
		Scope:   quantity,
	}
}

// DegenerateInput marks a single input column (e.g. a zero-variance
// instrument) as unusable without failing sibling columns.
func DegenerateInput(column, message string) *AppError {
	return &AppError{
		Code:    CodeDegenerateInput,
		Message: message,
		Scope:   column,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

// Error checking helpers

func isCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// IsStructural reports whether the error invalidates the whole call
// (unknown variables or cyclic graph input).
func IsStructural(err error) bool {
	return isCode(err, CodeStructural) || isCode(err, CodeVertexNotFound)
}

func IsVertexNotFound(err error) bool {
	return isCode(err, CodeVertexNotFound)
}

func IsConfigInvalid(err error) bool {
	return isCode(err, CodeConfigInvalid)
}

func IsComplexityLimit(err error) bool {
	return isCode(err, CodeComplexityLimit)
}

func IsInsufficientData(err error) bool {
	return isCode(err, CodeInsufficientData)
}

func IsDegenerateInput(err error) bool {
	return isCode(err, CodeDegenerateInput)
}
