// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the factory CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// PrintError writes the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	if e.Err == nil {
		PrintSimpleError(e, asJSON)
		return
	}
	if asJSON {
		payload, _ := json.Marshal(map[string]any{"error": map[string]string{
			"code":    string(e.Err.Code),
			"message": e.Err.Error(),
			"hint":    e.Hint,
		}})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", FormatErrorCode(e.Err.Code), e.Err.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// WrapTimeoutError wraps a timeout error with CLI hints.
func WrapTimeoutError(err error, operation string) *CLIError {
	e := errors.New(errors.CodeTimeout, operation+" timed out", err).
		WithContext("operation", operation).
		WithRecoverable(true)
	return NewCLIError(e, "try increasing the timeout with --timeout")
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, name string) *CLIError {
	e := errors.New(errors.CodeNotFound, fmt.Sprintf("%s '%s' not found", resource, name), nil).
		WithContext("resource", resource).
		WithContext("name", name)
	return NewCLIError(e, fmt.Sprintf("run 'factory %ss list' to see what is available", resource))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'factory help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewServerError wraps a failure of the local runtime.
func NewServerError(err error, operation string) *CLIError {
	e := asError(err).WithContext("operation", operation)
	return NewCLIError(e, "run with --set log.level=debug for details")
}

// asError returns the typed error in err's chain, wrapping err when there is
// none.
func asError(err error) *errors.Error {
	return errors.As(err)
}

// PrintSimpleError prints an error that carries no hint.
func PrintSimpleError(err error, asJSON bool) {
	code := errors.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	if asJSON {
		payload, _ := json.Marshal(map[string]any{"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		}})
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", FormatErrorCode(code), err.Error())
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeSkillFailure:
		return "Skill Failure"
	case errors.CodeTracerWrite:
		return "Trace Write Failure"
	case errors.CodeAlreadyClosed:
		return "Span Already Closed"
	case errors.CodeOrphanSpan:
		return "Orphan Span"
	case errors.CodeNestingViolation:
		return "Nesting Violation"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeInvalidQuery:
		return "Invalid Query"
	case errors.CodeCancelled:
		return "Cancelled"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeLLMError:
		return "LLM Error"
	default:
		return string(code)
	}
}
