// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for loom.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies loom errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeParse indicates a descriptor or template could not be parsed.
	CodeParse ErrorCode = "PARSE_ERROR"

	// CodeCycle indicates a dependency cycle in a skill graph.
	CodeCycle ErrorCode = "CYCLE_ERROR"

	// CodeVersionConflict indicates a duplicate (name, version) pair.
	CodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// CodeSkillFailure indicates a skill invocation failed.
	CodeSkillFailure ErrorCode = "SKILL_EXECUTION_FAILURE"

	// CodeGateRejected indicates a gate denied phase advancement.
	CodeGateRejected ErrorCode = "GATE_REJECTION"

	// CodeMemoryVisibility indicates a cross-scope memory access.
	CodeMemoryVisibility ErrorCode = "MEMORY_VISIBILITY_VIOLATION"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeAborted indicates the owning run was aborted.
	CodeAborted ErrorCode = "ABORTED"
)

// LoomError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type LoomError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *LoomError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *LoomError) MarshalJSON() ([]byte, error) {
	type Alias LoomError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new LoomError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *LoomError {
	return &LoomError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *LoomError) WithContext(key string, value interface{}) *LoomError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *LoomError) WithAttribute(key, value string) *LoomError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *LoomError) WithRecoverable(recoverable bool) *LoomError {
	e.Recoverable = recoverable
	return e
}

// AsLoomError attempts to convert an error to a LoomError.
// Returns the error as LoomError if it is one, or wraps it otherwise.
func AsLoomError(err error) *LoomError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LoomError); ok {
		return le
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err (or any error in its chain head) is a
// LoomError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	le, ok := err.(*LoomError)
	return ok && le.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *LoomError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
