package core

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code, so a copy made with WithCause
// still satisfies errors.Is(err, ErrElementNotFound).
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors (like Appium W3C error codes)
var (
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_mismatch",
		Message:  "text does not match expected value",
	}

	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	ErrDeviceDisconnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}

	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// NotFoundError is returned when a scrolling search exhausts its attempt budget.
type NotFoundError struct {
	Target       string
	AttemptsUsed int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find %q after %d attempts", e.Target, e.AttemptsUsed)
}

// Is lets callers test for ErrElementNotFound without knowing the concrete type.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// TimeoutError is returned when a readiness poll exhausts its attempt budget.
type TimeoutError struct {
	AttemptsUsed int
	Criteria     string
}

func (e *TimeoutError) Error() string {
	if e.Criteria == "" {
		return fmt.Sprintf("not ready after %d attempts", e.AttemptsUsed)
	}
	return fmt.Sprintf("%s: not ready after %d attempts", e.Criteria, e.AttemptsUsed)
}

// Is lets callers test for ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// GestureDispatchError wraps a driver failure to deliver a gesture.
type GestureDispatchError struct {
	Spec GestureSpec
	Err  error
}

func (e *GestureDispatchError) Error() string {
	return fmt.Sprintf("dispatch swipe %s->%s: %v", e.Spec.Start, e.Spec.End, e.Err)
}

func (e *GestureDispatchError) Unwrap() error {
	return e.Err
}

// ProbeFailureError wraps an error raised by a readiness check.
// It is distinct from "not ready yet", which is a false result.
type ProbeFailureError struct {
	Attempt int
	Err     error
}

func (e *ProbeFailureError) Error() string {
	return fmt.Sprintf("readiness probe failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *ProbeFailureError) Unwrap() error {
	return e.Err
}

// CategoryOf classifies any error for reporting.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var execErr *ExecutionError
	var probeErr *ProbeFailureError
	var gestureErr *GestureDispatchError
	switch {
	case errors.Is(err, ErrElementNotFound), errors.Is(err, ErrTextMismatch):
		return ErrCategoryAssertion
	case errors.Is(err, ErrTimeout):
		return ErrCategoryTimeout
	case errors.As(err, &probeErr), errors.As(err, &gestureErr), IsSessionError(err):
		return ErrCategoryConnection
	case errors.As(err, &execErr):
		return execErr.Category
	}
	return ErrCategoryUnknown
}

// sessionErrorMarkers are substrings of driver errors that mean the session is gone
// rather than the element being temporarily absent.
var sessionErrorMarkers = []string{
	"invalid session id",
	"session not created",
	"connection refused",
	"connection reset",
	"broken pipe",
	"device offline",
}

// IsSessionError reports whether err indicates the automation session died.
func IsSessionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceDisconnected) || errors.Is(err, ErrServerUnreachable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sessionErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
