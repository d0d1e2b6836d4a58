// Package errors provides a structured error system for VVMViz with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Is reports whether any error in err's chain matches target.
// Re-exported so callers don't need a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// ErrorCode represents a structured error code for VVMViz operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Dataset errors
	ErrCodeVariableNotFound   ErrorCode = "VARIABLE_NOT_FOUND"
	ErrCodeInvalidRange       ErrorCode = "INVALID_RANGE"
	ErrCodeDatasetOpen        ErrorCode = "DATASET_OPEN"
	ErrCodeDatasetRead        ErrorCode = "DATASET_READ"
	ErrCodeSimulationNotFound ErrorCode = "SIMULATION_NOT_FOUND"
	ErrCodeSimulationScan     ErrorCode = "SIMULATION_SCAN"
	ErrCodeTerrainUnavailable ErrorCode = "TERRAIN_UNAVAILABLE"

	// Archive store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStageFailed      ErrorCode = "STAGE_FAILED"
	ErrCodeBucketNotFound   ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeAccessDenied     ErrorCode = "ACCESS_DENIED"

	// Session errors
	ErrCodeSessionBusy   ErrorCode = "SESSION_BUSY"
	ErrCodeNoSimulation  ErrorCode = "NO_SIMULATION"
	ErrCodeLoadCancelled ErrorCode = "LOAD_CANCELLED"

	// State management errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDataset       ErrorCategory = "dataset"
	CategoryStore         ErrorCategory = "store"
	CategorySession       ErrorCategory = "session"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// VVMError represents a structured error with context and metadata.
type VVMError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *VVMError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *VVMError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *VVMError) Is(target error) bool {
	if vvmErr, ok := target.(*VVMError); ok {
		return e.Code == vvmErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *VVMError) String() string {
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

	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
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

	return fmt.Sprintf("VVMError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *VVMError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new VVMViz error with default values.
func NewError(code ErrorCode, message string) *VVMError {
	return &VVMError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "VARIABLE_") || strings.HasPrefix(codeStr, "DATASET_") ||
		strings.HasPrefix(codeStr, "SIMULATION_") || strings.HasPrefix(codeStr, "INVALID_RANGE") ||
		strings.HasPrefix(codeStr, "TERRAIN_"):
		return CategoryDataset
	case strings.HasPrefix(codeStr, "STORE_") || strings.HasPrefix(codeStr, "STAGE_") ||
		strings.HasPrefix(codeStr, "BUCKET_") || strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStore
	case strings.HasPrefix(codeStr, "SESSION_") || strings.HasPrefix(codeStr, "NO_SIMULATION") ||
		strings.HasPrefix(codeStr, "LOAD_"):
		return CategorySession
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeStoreUnavailable: true,
		ErrCodeStageFailed:      true,
		ErrCodeSessionBusy:      true,
		ErrCodeInternalError:    true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:      true,
		ErrCodeMissingConfig:      true,
		ErrCodeConfigValidation:   true,
		ErrCodeVariableNotFound:   true,
		ErrCodeInvalidRange:       true,
		ErrCodeSimulationNotFound: true,
		ErrCodeNoSimulation:       true,
		ErrCodeSessionBusy:        true,
		ErrCodeAccessDenied:       true,
	}
	return userFacingCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:      400, // Bad Request
		ErrCodeConfigValidation:   400,
		ErrCodeInvalidRange:       400,
		ErrCodeAccessDenied:       403, // Forbidden
		ErrCodeVariableNotFound:   404, // Not Found
		ErrCodeSimulationNotFound: 404,
		ErrCodeBucketNotFound:     404,
		ErrCodeSessionBusy:        409, // Conflict
		ErrCodeAlreadyStarted:     409,
		ErrCodeNoSimulation:       412, // Precondition Failed
		ErrCodeInternalError:      500, // Internal Server Error
		ErrCodeDatasetOpen:        502, // Bad Gateway
		ErrCodeDatasetRead:        502,
		ErrCodeStoreUnavailable:   503, // Service Unavailable
		ErrCodeStageFailed:        502,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500 // Default to Internal Server Error
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *VVMError) WithContext(key, value string) *VVMError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *VVMError) WithDetail(key string, value interface{}) *VVMError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *VVMError) WithComponent(component string) *VVMError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *VVMError) WithOperation(operation string) *VVMError {
	e.Operation = operation
	return e
}

// WithRequestID sets the request correlation ID for an error
func (e *VVMError) WithRequestID(id string) *VVMError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause
func (e *VVMError) WithCause(cause error) *VVMError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *VVMError) WithStack() *VVMError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *VVMError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred. Please contact support if this persists."
	}

	messages := map[ErrorCode]string{
		ErrCodeInvalidConfig:      "Invalid configuration",
		ErrCodeMissingConfig:      "Configuration file not found",
		ErrCodeConfigValidation:   "Configuration validation failed",
		ErrCodeVariableNotFound:   "Variable not found in simulation output",
		ErrCodeInvalidRange:       "Requested range is outside the dataset bounds",
		ErrCodeSimulationNotFound: "Simulation directory not found",
		ErrCodeNoSimulation:       "No simulation loaded",
		ErrCodeSessionBusy:        "A frame update is already in progress",
		ErrCodeAccessDenied:       "Access denied - check permissions",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// HTTPStatusFor maps any error to an HTTP status, unwrapping to the first
// structured error it finds. Plain errors map to 500.
func HTTPStatusFor(err error) int {
	var vvmErr *VVMError
	if As(err, &vvmErr) && vvmErr.HTTPStatus != 0 {
		return vvmErr.HTTPStatus
	}
	return 500
}
