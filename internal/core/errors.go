package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatRecoverable ErrorCategory = "recoverable" // Agent failure worth retrying
	ErrCatTimeout     ErrorCategory = "timeout"     // Agent exceeded its deadline
	ErrCatFatal       ErrorCategory = "fatal"       // Agent failure that must not be retried
	ErrCatDeadlock    ErrorCategory = "deadlock"    // Registry cannot make progress
	ErrCatAbort       ErrorCategory = "abort"       // Run cancelled from outside
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input or configuration
	ErrCatState       ErrorCategory = "state"       // State corruption/conflict
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatRateLimit   ErrorCategory = "rate_limit"  // Upstream API rate limited
	ErrCatAuth        ErrorCategory = "auth"        // Authentication failure
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrRecoverable creates a RecoverableAgentError.
func ErrRecoverable(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRecoverable,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a TimeoutError. Timeouts are recoverable.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrFatalAgent creates a FatalAgentError.
func ErrFatalAgent(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatFatal,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrDependencyDeadlock reports that no required agent can become ready.
func ErrDependencyDeadlock(pending []AgentID) *DomainError {
	return &DomainError{
		Category:  ErrCatDeadlock,
		Code:      CodeDependencyDeadlock,
		Message:   fmt.Sprintf("no progress possible, pending agents %v have unsatisfiable inputs", pending),
		Retryable: false,
		Details:   map[string]interface{}{"pending": pending},
	}
}

// ErrWorkflowAbort reports external cancellation of a run.
func ErrWorkflowAbort(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAbort,
		Code:      CodeWorkflowAborted,
		Message:   message,
		Retryable: false,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// ClassifyError maps an error returned by a collaborator to an outcome kind.
// Errors outside the domain taxonomy are assumed to be transient.
func ClassifyError(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	var domErr *DomainError
	if errors.As(err, &domErr) {
		switch domErr.Category {
		case ErrCatTimeout:
			return OutcomeTimeout
		case ErrCatAbort:
			return OutcomeAborted
		case ErrCatFatal, ErrCatValidation, ErrCatAuth, ErrCatDeadlock:
			return OutcomeFatal
		}
		if IsRetryable(err) {
			return OutcomeRecoverable
		}
		return OutcomeFatal
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeAborted
	}
	return OutcomeRecoverable
}

// Predefined error codes
const (
	CodeTimeout            = "TIMEOUT"
	CodeDependencyDeadlock = "DEPENDENCY_DEADLOCK"
	CodeWorkflowAborted    = "WORKFLOW_ABORTED"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeStateCorrupted     = "STATE_CORRUPTED"
	CodeStateInvariant     = "STATE_INVARIANT"
	CodeLockAcquireFailed  = "LOCK_ACQUIRE_FAILED"

	// Registry codes
	CodeDAGCycle        = "DAG_CYCLE"
	CodeDuplicateAgent  = "DUPLICATE_AGENT"
	CodeUnknownAgent    = "UNKNOWN_AGENT"
	CodeUnsafeRequire   = "REQUIRES_NON_CRITICAL"
	CodeAgentNotBound   = "AGENT_NOT_BOUND"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeEmptyRequest    = "EMPTY_REQUEST"
	CodeRequestTooLong  = "REQUEST_TOO_LONG"
	CodeNoAgents        = "NO_AGENTS"
	CodeRunAlreadyFinal = "RUN_ALREADY_FINAL"

	// Agent codes
	CodeAgentFailed      = "AGENT_FAILED"
	CodeAgentPanic       = "AGENT_PANIC"
	CodeMissingInput     = "MISSING_INPUT"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeUpstreamFailed   = "UPSTREAM_FAILED"
	CodeNoTicker         = "NO_TICKER"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
)

// MaxRequestLength is the maximum allowed request length.
const MaxRequestLength = 10000
