// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error used across the agent factory.
//
// Every error that crosses a package boundary carries a Code so callers can
// branch on the condition without string matching:
//
//	if errors.IsCode(err, errors.CodeAlreadyClosed) { ... }
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates skill inputs failed schema validation
	// or an API was called with an invalid argument.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeSkillFailure indicates skill logic failed at runtime.
	CodeSkillFailure ErrorCode = "SKILL_FAILURE"

	// CodeTracerWrite indicates a span could not be persisted.
	CodeTracerWrite ErrorCode = "TRACER_WRITE_FAILURE"

	// CodeAlreadyClosed indicates a span was closed twice.
	CodeAlreadyClosed ErrorCode = "ALREADY_CLOSED"

	// CodeOrphanSpan indicates a span stayed pending past its scope.
	CodeOrphanSpan ErrorCode = "ORPHAN_SPAN"

	// CodeNestingViolation indicates a parent closed before its children.
	CodeNestingViolation ErrorCode = "NESTING_VIOLATION"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidQuery indicates a malformed trace query.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// CodeCancelled indicates the enclosing operation was cancelled.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeLLMError indicates a model adapter error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// Error is a typed error with context for observability.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string            `json:"code"`
		Message     string            `json:"message"`
		Cause       string            `json:"cause,omitempty"`
		Context     map[string]any    `json:"context,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		Recoverable bool              `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       cause,
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		Attributes: make(map[string]string),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTel spans.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as *Error. Untyped errors are wrapped as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var te *Error
		if !stderrors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.Err
	}
	return false
}

// IsRecoverable reports whether err is a typed error marked recoverable.
func IsRecoverable(err error) bool {
	var te *Error
	return stderrors.As(err, &te) && te.Recoverable
}
