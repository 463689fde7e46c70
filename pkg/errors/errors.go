// Package errors provides a structured error system for ledgate with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for device operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Resource Acquisition Errors
	ErrCodeAcquisitionFailed  ErrorCode = "ACQUISITION_FAILED"
	ErrCodeRegistrationFailed ErrorCode = "REGISTRATION_FAILED"
	ErrCodeNamespaceFailed    ErrorCode = "NAMESPACE_FAILED"
	ErrCodeLineFailed         ErrorCode = "LINE_FAILED"

	// Access Errors
	ErrCodeDeviceBusy      ErrorCode = "DEVICE_BUSY"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// State Management Errors
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"

	// Transfer Errors
	ErrCodeIOFault ErrorCode = "IO_FAULT"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryResource      ErrorCategory = "resource"
	CategoryAccess        ErrorCategory = "access"
	CategoryState         ErrorCategory = "state"
	CategoryTransfer      ErrorCategory = "transfer"
	CategoryInternal      ErrorCategory = "internal"
)

// DeviceError represents a structured error with context and metadata.
type DeviceError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *DeviceError) Is(target error) bool {
	if deviceErr, ok := target.(*DeviceError); ok {
		return e.Code == deviceErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *DeviceError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("DeviceError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new device error with default values.
func NewError(code ErrorCode, message string) *DeviceError {
	return &DeviceError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeAcquisitionFailed, ErrCodeRegistrationFailed, ErrCodeNamespaceFailed, ErrCodeLineFailed:
		return CategoryResource
	case ErrCodeDeviceBusy, ErrCodeSessionNotFound:
		return CategoryAccess
	case ErrCodeNotInitialized, ErrCodeAlreadyStarted, ErrCodeInvalidState:
		return CategoryState
	case ErrCodeIOFault:
		return CategoryTransfer
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Retryable means the caller may try again; nothing in ledgate retries on its own.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeDeviceBusy:        true,
		ErrCodeAcquisitionFailed: true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:      400, // Bad Request
		ErrCodeConfigValidation:   400,
		ErrCodeIOFault:            400,
		ErrCodeSessionNotFound:    404, // Not Found
		ErrCodeDeviceBusy:         409, // Conflict
		ErrCodeAlreadyStarted:     409,
		ErrCodeInvalidState:       409,
		ErrCodeNotInitialized:     503, // Service Unavailable
		ErrCodeAcquisitionFailed:  503,
		ErrCodeRegistrationFailed: 503,
		ErrCodeNamespaceFailed:    503,
		ErrCodeLineFailed:         503,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *DeviceError) WithContext(key, value string) *DeviceError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *DeviceError) WithDetail(key string, value interface{}) *DeviceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *DeviceError) WithComponent(component string) *DeviceError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *DeviceError) WithOperation(operation string) *DeviceError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *DeviceError) WithCause(cause error) *DeviceError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *DeviceError) WithStack() *DeviceError {
	e.Stack = CaptureStack(2)
	return e
}

// Detail keys used by acquisition failures.
const (
	DetailStep      = "step"
	DetailStepIndex = "step_index"
)

// NewAcquisitionFailure reports that ladder step index (zero based) named step failed with cause.
func NewAcquisitionFailure(step string, index int, cause error) *DeviceError {
	return NewError(ErrCodeAcquisitionFailed, fmt.Sprintf("step %d (%s) failed", index+1, step)).
		WithComponent("ladder").
		WithOperation(step).
		WithDetail(DetailStep, step).
		WithDetail(DetailStepIndex, index).
		WithCause(cause).
		WithStack()
}

// NewBusyError reports a claim attempted while the device is held.
func NewBusyError(operation string) *DeviceError {
	return NewError(ErrCodeDeviceBusy, "device already bound").
		WithComponent("gate").
		WithOperation(operation)
}

// NewIOFault reports a failed byte transfer.
func NewIOFault(operation string, cause error) *DeviceError {
	return NewError(ErrCodeIOFault, "byte transfer failed").
		WithComponent("transfer").
		WithOperation(operation).
		WithCause(cause)
}

// GetCode returns the code of the first DeviceError in err's chain.
func GetCode(err error) (ErrorCode, bool) {
	var deviceErr *DeviceError
	if stderrors.As(err, &deviceErr) {
		return deviceErr.Code, true
	}
	return "", false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	got, ok := GetCode(err)
	return ok && got == code
}

// IsBusy reports whether err is a busy rejection.
func IsBusy(err error) bool {
	return HasCode(err, ErrCodeDeviceBusy)
}

// IsIOFault reports whether err is a byte transfer fault.
func IsIOFault(err error) bool {
	return HasCode(err, ErrCodeIOFault)
}

// FailedStep returns the ladder step named by an acquisition failure.
func FailedStep(err error) (string, bool) {
	var deviceErr *DeviceError
	if !stderrors.As(err, &deviceErr) || deviceErr.Code != ErrCodeAcquisitionFailed {
		return "", false
	}
	step, ok := deviceErr.Details[DetailStep].(string)
	return step, ok
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	var deviceErr *DeviceError
	if stderrors.As(err, &deviceErr) && deviceErr.HTTPStatus != 0 {
		return deviceErr.HTTPStatus
	}
	return 500
}
