package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeDeviceBusy, "busy").Retryable {
			t.Error("DeviceBusy should be retryable by default")
		}
		if NewError(ErrCodeIOFault, "fault").Retryable {
			t.Error("IOFault should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeAcquisitionFailed, CategoryResource},
		{ErrCodeRegistrationFailed, CategoryResource},
		{ErrCodeNamespaceFailed, CategoryResource},
		{ErrCodeLineFailed, CategoryResource},
		{ErrCodeDeviceBusy, CategoryAccess},
		{ErrCodeSessionNotFound, CategoryAccess},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeIOFault, CategoryTransfer},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetCategory(tt.code)
			if result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestGetDefaultHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{ErrCodeInvalidConfig, 400},
		{ErrCodeIOFault, 400},
		{ErrCodeSessionNotFound, 404},
		{ErrCodeDeviceBusy, 409},
		{ErrCodeInvalidState, 409},
		{ErrCodeNotInitialized, 503},
		{ErrCodeAcquisitionFailed, 503},
		{ErrCodeInternalError, 500},
		{ErrorCode("UNKNOWN_CODE"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetDefaultHTTPStatus(tt.code)
			if result != tt.wantStatus {
				t.Errorf("GetDefaultHTTPStatus(%v) = %d, want %d", tt.code, result, tt.wantStatus)
			}
		})
	}
}

func TestDeviceError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *DeviceError
		want string
	}{
		{
			name: "with component and operation",
			err: &DeviceError{
				Code:      ErrCodeDeviceBusy,
				Component: "gate",
				Operation: "open",
				Message:   "device already bound",
			},
			want: "[gate:open] DEVICE_BUSY: device already bound",
		},
		{
			name: "with component only",
			err: &DeviceError{
				Code:      ErrCodeInvalidConfig,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "minimal error",
			err: &DeviceError{
				Code:    ErrCodeUnknownError,
				Message: "something went wrong",
			},
			want: "UNKNOWN_ERROR: something went wrong",
		},
		{
			name: "with cause",
			err: &DeviceError{
				Code:    ErrCodeIOFault,
				Message: "byte transfer failed",
				Cause:   errors.New("short buffer"),
			},
			want: "IO_FAULT: byte transfer failed: short buffer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.want {
				t.Errorf("Error() = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestDeviceError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying cause")
	err := &DeviceError{
		Code:    ErrCodeInternalError,
		Message: "wrapper",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestDeviceError_Is(t *testing.T) {
	t.Parallel()

	err1 := &DeviceError{Code: ErrCodeDeviceBusy, Message: "busy"}
	err2 := &DeviceError{Code: ErrCodeDeviceBusy, Message: "different message"}
	err3 := &DeviceError{Code: ErrCodeInvalidConfig, Message: "invalid"}
	stdErr := errors.New("standard error")

	if !err1.Is(err2) {
		t.Error("errors with same code should match with Is()")
	}
	if err1.Is(err3) {
		t.Error("errors with different codes should not match with Is()")
	}
	if err1.Is(stdErr) {
		t.Error("DeviceError should not match standard error with Is()")
	}
}

func TestDeviceError_String(t *testing.T) {
	t.Parallel()

	err := &DeviceError{
		Code:      ErrCodeAcquisitionFailed,
		Category:  CategoryResource,
		Message:   "step 3 (node) failed",
		Component: "ladder",
		Operation: "node",
		Retryable: true,
		Details:   map[string]interface{}{"step_index": 2},
		Cause:     errors.New("mount refused"),
	}

	result := err.String()

	expectedParts := []string{
		"Code=ACQUISITION_FAILED",
		"Category=resource",
		`Message="step 3 (node) failed"`,
		"Component=ladder",
		"Operation=node",
		"Retryable=true",
		"Details=",
		"Cause=",
	}

	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("String() missing expected part: %q\nGot: %s", part, result)
		}
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	stack := CaptureStack(0)
	if stack == "" {
		t.Error("CaptureStack() returned empty string")
	}
	if !strings.Contains(stack, ":") {
		t.Error("Stack trace should contain file:line format")
	}
}

func TestNewAcquisitionFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("EBUSY")
	err := NewAcquisitionFailure("line-claim", 3, cause)

	if err.Code != ErrCodeAcquisitionFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeAcquisitionFailed)
	}
	if err.Operation != "line-claim" {
		t.Errorf("Operation = %q, want line-claim", err.Operation)
	}
	if err.Details[DetailStepIndex] != 3 {
		t.Errorf("step index = %v, want 3", err.Details[DetailStepIndex])
	}
	if !errors.Is(err, cause) {
		t.Error("acquisition failure should wrap its cause")
	}
	if !strings.Contains(err.Stack, "TestNewAcquisitionFailure") {
		t.Errorf("Stack should start at the caller, got:\n%s", err.Stack)
	}
	if strings.Contains(err.Stack, "errors.go:") {
		t.Errorf("Stack should skip this package's frames, got:\n%s", err.Stack)
	}

	wrapped := fmt.Errorf("init: %w", err)
	step, ok := FailedStep(wrapped)
	if !ok || step != "line-claim" {
		t.Errorf("FailedStep() = %q, %v; want line-claim, true", step, ok)
	}
}

func TestFailedStep_NotAcquisition(t *testing.T) {
	t.Parallel()

	if _, ok := FailedStep(NewBusyError("open")); ok {
		t.Error("FailedStep should not report a step for a busy error")
	}
	if _, ok := FailedStep(errors.New("plain")); ok {
		t.Error("FailedStep should not report a step for a plain error")
	}
}

func TestClassifiers(t *testing.T) {
	t.Parallel()

	busy := fmt.Errorf("open: %w", NewBusyError("open"))
	fault := NewIOFault("read", errors.New("bad buffer"))

	if !IsBusy(busy) {
		t.Error("IsBusy should see through wrapping")
	}
	if IsBusy(fault) {
		t.Error("IsBusy should be false for an IO fault")
	}
	if !IsIOFault(fault) {
		t.Error("IsIOFault should be true for an IO fault")
	}
	if HTTPStatus(busy) != 409 {
		t.Errorf("HTTPStatus(busy) = %d, want 409", HTTPStatus(busy))
	}
	if HTTPStatus(errors.New("plain")) != 500 {
		t.Error("HTTPStatus should default to 500 for plain errors")
	}

	code, ok := GetCode(fault)
	if !ok || code != ErrCodeIOFault {
		t.Errorf("GetCode() = %v, %v; want IO_FAULT, true", code, ok)
	}
}
