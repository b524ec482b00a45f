// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// Status is the outcome of one execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Result is the outcome of one Execute call. It is built once and never
// modified after it is returned.
type Result struct {
	Status Status
	// Output holds "result", "skill" and "version". It is nil on FAILURE.
	Output        map[string]any
	Error         string
	ExecutionTime time.Duration
	Skill         string
	Version       string
	SpanID        string
	TraceID       string
}

// OK reports whether the execution succeeded.
func (r *Result) OK() bool { return r != nil && r.Status == StatusSuccess }

// Value returns the skill's own output.
func (r *Result) Value() any {
	if r == nil || r.Output == nil {
		return nil
	}
	return r.Output["result"]
}

// Err returns nil on SUCCESS and a typed error otherwise. PARTIAL results are
// marked recoverable since their output is usable.
func (r *Result) Err() error {
	if r == nil {
		return errors.New(errors.CodeInternal, "nil result", nil)
	}
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusPartial:
		return errors.New(errors.CodeSkillFailure, "partial result: "+r.Error, nil).
			WithContext("skill", r.Skill).
			WithContext("span_id", r.SpanID).
			WithRecoverable(true)
	}
	code := errors.CodeSkillFailure
	switch {
	case r.Error == cancelledMessage:
		code = errors.CodeCancelled
	case strings.HasPrefix(r.Error, validationPrefix):
		code = errors.CodeInvalidInput
	}
	return errors.New(code, r.Error, nil).
		WithContext("skill", r.Skill).
		WithContext("span_id", r.SpanID)
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status          Status         `json:"status"`
		Output          map[string]any `json:"output,omitempty"`
		Error           string         `json:"error,omitempty"`
		ExecutionTimeMs float64        `json:"execution_time_ms"`
		Skill           string         `json:"skill"`
		Version         string         `json:"version,omitempty"`
		SpanID          string         `json:"span_id,omitempty"`
		TraceID         string         `json:"trace_id,omitempty"`
	}{
		Status:          r.Status,
		Output:          r.Output,
		Error:           r.Error,
		ExecutionTimeMs: float64(r.ExecutionTime.Microseconds()) / 1000,
		Skill:           r.Skill,
		Version:         r.Version,
		SpanID:          r.SpanID,
		TraceID:         r.TraceID,
	})
}
