package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeLowConfidence     = "LOW_CONFIDENCE"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrCodeDependencyFailure = "DEPENDENCY_FAILURE"
	ErrCodeAgentUnavailable  = "AGENT_UNAVAILABLE"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeNetwork           = "NETWORK_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeWaveFailed        = "WAVE_FAILED"
	ErrCodeRunAborted        = "RUN_ABORTED"
	ErrCodeStore             = "STORE_ERROR"
)

// ExecutionErrorType is the closed taxonomy of agent execution failures.
type ExecutionErrorType string

const (
	ErrorTypeTimeout            ExecutionErrorType = "timeout"
	ErrorTypeLowConfidence      ExecutionErrorType = "low_confidence"
	ErrorTypeInputValidation    ExecutionErrorType = "input_validation"
	ErrorTypeResourceExhausted  ExecutionErrorType = "resource_exhausted"
	ErrorTypeDependencyFailure  ExecutionErrorType = "dependency_failure"
	ErrorTypeAgentUnavailable   ExecutionErrorType = "agent_unavailable"
	ErrorTypeNetworkError       ExecutionErrorType = "network_error"
	ErrorTypeConfigurationError ExecutionErrorType = "configuration_error"
	ErrorTypeUnknown            ExecutionErrorType = "unknown"
)

// ExecutionErrorTypes lists every error type in declaration order.
var ExecutionErrorTypes = []ExecutionErrorType{
	ErrorTypeTimeout,
	ErrorTypeLowConfidence,
	ErrorTypeInputValidation,
	ErrorTypeResourceExhausted,
	ErrorTypeDependencyFailure,
	ErrorTypeAgentUnavailable,
	ErrorTypeNetworkError,
	ErrorTypeConfigurationError,
	ErrorTypeUnknown,
}

// Valid reports whether t is one of the nine known error types.
func (t ExecutionErrorType) Valid() bool {
	for _, known := range ExecutionErrorTypes {
		if t == known {
			return true
		}
	}
	return false
}

// codeTypes maps error codes onto the execution error taxonomy.
// Codes absent from the table carry no type of their own.
var codeTypes = map[string]ExecutionErrorType{
	ErrCodeTimeout:           ErrorTypeTimeout,
	ErrCodeLowConfidence:     ErrorTypeLowConfidence,
	ErrCodeValidation:        ErrorTypeInputValidation,
	ErrCodeResourceExhausted: ErrorTypeResourceExhausted,
	ErrCodeDependencyFailure: ErrorTypeDependencyFailure,
	ErrCodeAgentUnavailable:  ErrorTypeAgentUnavailable,
	ErrCodeCircuitOpen:       ErrorTypeAgentUnavailable,
	ErrCodeNotFound:          ErrorTypeConfigurationError,
	ErrCodeNetwork:           ErrorTypeNetworkError,
	ErrCodeConfiguration:     ErrorTypeConfigurationError,
}

// Error is the structured error type for all agentwave operations.
// Agents should return it so the executor can classify failures without
// inspecting message text.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Type returns the execution error type carried by the code.
// The second result is false when the code has no mapping.
func (e *Error) Type() (ExecutionErrorType, bool) {
	t, ok := codeTypes[e.Code]
	return t, ok
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
