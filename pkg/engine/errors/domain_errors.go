package errors

import (
	"errors"
	"fmt"
)

// Domain enumerates the possible error domains
type Domain string

const (
	DomainEngine    Domain = "engine"
	DomainResolver  Domain = "resolver"
	DomainPool      Domain = "pool"
	DomainSandbox   Domain = "sandbox"
	DomainExecution Domain = "execution"
	DomainFeed      Domain = "feed"
)

// Code enumerates possible error codes for each domain
type Code string

// Engine error codes
const (
	CodeNotInitialized Code = "not_initialized"
	CodeShutdown       Code = "shutdown"
	CodeInternalError  Code = "internal_error"
)

// Resolver error codes
const (
	CodeDeploymentNotFound Code = "deployment_not_found"
	CodeBundleInvalid      Code = "bundle_invalid"
	CodeResolverError      Code = "resolver_error"
)

// Pool and sandbox error codes
const (
	CodeContextEvicting Code = "context_evicting"
	CodeSandboxInit     Code = "sandbox_init_failed"
	CodeSandboxClosed   Code = "sandbox_closed"
	CodePoolShutdown    Code = "pool_shutdown"
)

// Execution error codes
const (
	CodeExecutionTimeout   Code = "execution_timeout"
	CodeExecutionCancelled Code = "execution_cancelled"
	CodeRuntimeFault       Code = "runtime_fault"
	CodeRejected           Code = "rejected"
)

// DomainError represents a domain-specific error.
type DomainError struct {
	// The error domain (engine, pool, sandbox, etc.)
	ErrDomain Domain

	// Error code unique within the domain
	ErrCode Code

	// Human-readable error message
	Message string

	// Optional fields for context
	FunctionID string
	VersionID  string
	Details    map[string]interface{}

	// Original error that caused this one, if any
	Cause error
}

// Error returns the error message.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.ErrDomain, e.ErrCode, e.Message)

	if e.FunctionID != "" {
		if e.VersionID != "" {
			msg = fmt.Sprintf("%s (deployment: %s/%s)", msg, e.FunctionID, e.VersionID)
		} else {
			msg = fmt.Sprintf("%s (function: %s)", msg, e.FunctionID)
		}
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the cause of this error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same domain and code,
// so sentinel values compare correctly through errors.Is even when an error
// carries deployment context.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return e.ErrDomain == de.ErrDomain && e.ErrCode == de.ErrCode
}

// New creates a new DomainError.
func New(domain Domain, code Code, message string) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
	}
}

// WithDeployment adds deployment context to a copy of the error. Sentinel
// values stay untouched so they remain safe to compare against.
func (e *DomainError) WithDeployment(functionID, versionID string) *DomainError {
	clone := *e
	clone.FunctionID = functionID
	clone.VersionID = versionID
	return &clone
}

// WithCause adds the causing error to a copy of the error.
func (e *DomainError) WithCause(cause error) *DomainError {
	clone := *e
	clone.Cause = cause
	return &clone
}

// WithDetails adds additional context details to a copy of the error.
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	clone := *e
	clone.Details = details
	return &clone
}

// Wrap wraps an error with domain context.
func Wrap(domain Domain, code Code, message string, err error) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
		Cause:     err,
	}
}

// HasCode checks if an error is a DomainError with the specified domain and code.
func HasCode(err error, domain Domain, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.ErrDomain == domain && de.ErrCode == code
	}
	return false
}

// Common engine errors
var (
	ErrEngineNotInitialized = New(DomainEngine, CodeNotInitialized, "Engine not initialized")
	ErrEngineShutdown       = New(DomainEngine, CodeShutdown, "Engine is shutting down")
)

// Resolver errors
var (
	ErrDeploymentNotFound = New(DomainResolver, CodeDeploymentNotFound, "Deployment not found")
	ErrBundleInvalid      = New(DomainResolver, CodeBundleInvalid, "Deployment bundle is invalid")
)

// Pool and sandbox errors
var (
	ErrSandboxInit     = New(DomainSandbox, CodeSandboxInit, "Sandbox initialization failed")
	ErrSandboxClosed   = New(DomainSandbox, CodeSandboxClosed, "Sandbox is closed")
	ErrContextEvicting = New(DomainPool, CodeContextEvicting, "Execution context is evicting")
	ErrPoolShutdown    = New(DomainPool, CodePoolShutdown, "Context pool is shut down")
)

// Execution errors
var (
	ErrExecutionTimeout = New(DomainExecution, CodeExecutionTimeout, "Invocation deadline exceeded")
	ErrRuntimeFault     = New(DomainExecution, CodeRuntimeFault, "Uncaught error inside the sandbox")
	ErrRejected         = New(DomainExecution, CodeRejected, "Invocation rejected by admission control")
)
