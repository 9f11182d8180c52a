package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error. Classes drive the CLI
// exit code and the metrics label; none of them are retried automatically.
type ErrorClass string

const (
	// ErrorClassConfiguration covers unknown options, invalid values, violated
	// exclusive groups, broken recipes and policy denials. Always detected
	// before any requirement is probed.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassRequirement indicates a fatal requirement whose probe reported
	// the capability as absent.
	ErrorClassRequirement ErrorClass = "requirement_unsatisfied"

	// ErrorClassBuild indicates the native build returned a nonzero status.
	ErrorClassBuild ErrorClass = "build_invocation"

	// ErrorClassInternal indicates a bug or a broken collaborator (e.g. a probe
	// plugin that trapped).
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Options lists the option names involved in a configuration error.
	Options []string `json:"options,omitempty"`

	// Requirement is the requirement name for requirement failures.
	Requirement string `json:"requirement,omitempty"`

	// Remediation is multi-line text intended for direct display to the user.
	Remediation string `json:"remediation,omitempty"`

	// Step is the build step that failed.
	Step string `json:"step,omitempty"`

	// ExitCode is the native process exit status for build failures.
	ExitCode int `json:"exit_code,omitempty"`

	// Diagnostics is the captured output of the failed build step, verbatim.
	Diagnostics string `json:"diagnostics,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if len(e.Options) > 0 {
		fmt.Fprintf(&sb, " (options=%s)", strings.Join(e.Options, ", "))
	}
	if e.Requirement != "" {
		fmt.Fprintf(&sb, " (requirement=%s)", e.Requirement)
	}
	if e.Step != "" {
		fmt.Fprintf(&sb, " (step=%s, exit=%d)", e.Step, e.ExitCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a configuration error naming the offending options.
func NewConfigurationError(message string, options ...string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Options: options,
	}
}

// NewUnknownOptionError creates the configuration error reported for
// option names the recipe neither declares nor marks ignorable.
func NewUnknownOptionError(names ...string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Code:    ErrCodeUnknownOption,
		Message: "unknown option",
		Options: names,
	}
}

// NewRequirementUnsatisfiedError creates an error for a fatal requirement
// whose capability is absent on the host.
func NewRequirementUnsatisfiedError(name, remediation string) *EngineError {
	return &EngineError{
		Class:       ErrorClassRequirement,
		Code:        ErrCodeRequirementUnsatisfied,
		Message:     fmt.Sprintf("requirement %q is not satisfied", name),
		Requirement: name,
		Remediation: remediation,
	}
}

// NewBuildInvocationFailure creates an error for a build step that exited
// with a nonzero status. Diagnostics are stored verbatim.
func NewBuildInvocationFailure(step string, exitCode int, diagnostics string, err error) *EngineError {
	return &EngineError{
		Class:       ErrorClassBuild,
		Code:        ErrCodeBuildFailed,
		Message:     "build step failed",
		Step:        step,
		ExitCode:    exitCode,
		Diagnostics: diagnostics,
		Err:         err,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithErr sets the underlying error.
func (e *EngineError) WithErr(err error) *EngineError {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or ErrorClassInternal for errors that
// carry no classification.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsConfigurationError returns true if the error is a configuration error.
func IsConfigurationError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsRequirementUnsatisfied returns true if a fatal requirement was not met.
func IsRequirementUnsatisfied(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRequirement
	}
	return false
}

// IsBuildInvocationFailure returns true if the native build failed.
func IsBuildInvocationFailure(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassBuild
	}
	return false
}

// Common error codes.
const (
	ErrCodeUnknownOption          = "UNKNOWN_OPTION"
	ErrCodeInvalidValue           = "INVALID_OPTION_VALUE"
	ErrCodeExclusiveGroup         = "EXCLUSIVE_GROUP"
	ErrCodeRecipeInvalid          = "RECIPE_INVALID"
	ErrCodePolicyDenied           = "POLICY_DENIED"
	ErrCodeOptionFileInvalid      = "OPTION_FILE_INVALID"
	ErrCodeHookFailed             = "HOOK_FAILED"
	ErrCodeDependencyCycle        = "DEPENDENCY_CYCLE"
	ErrCodeRequirementUnsatisfied = "REQUIREMENT_UNSATISFIED"
	ErrCodeProbeFailed            = "PROBE_FAILED"
	ErrCodeBuildFailed            = "BUILD_FAILED"
	ErrCodeBuildCanceled          = "BUILD_CANCELED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)
