// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"errors"
	"strings"
)

// Skill is a pluggable capability. Run holds the skill-specific logic and is
// only ever called by an Executor after inputs validated against
// Metadata().Inputs, with defaults applied.
//
// Run returns SUCCESS with a nil error, PARTIAL by returning its output
// together with an error built by PartialFailure, and FAILURE with any other
// error.
type Skill interface {
	Metadata() Metadata
	Run(ctx context.Context, inputs map[string]any) (any, error)
}

// RunFunc is the logic of a skill built with NewFunc.
type RunFunc func(ctx context.Context, inputs map[string]any) (any, error)

type funcSkill struct {
	meta Metadata
	run  RunFunc
}

// NewFunc returns a Skill backed by fn.
func NewFunc(meta Metadata, fn RunFunc) Skill {
	return &funcSkill{meta: meta, run: fn}
}

func (s *funcSkill) Metadata() Metadata { return s.meta }

func (s *funcSkill) Run(ctx context.Context, inputs map[string]any) (any, error) {
	return s.run(ctx, inputs)
}

// PartialError marks a result that produced usable output while some of its
// sub-operations failed.
type PartialError struct {
	Errs []error
}

// PartialFailure returns a *PartialError wrapping the non-nil errs. It never
// returns nil so that a PARTIAL outcome always carries an error message.
func PartialFailure(errs ...error) error {
	pe := &PartialError{}
	for _, err := range errs {
		if err != nil {
			pe.Errs = append(pe.Errs, err)
		}
	}
	return pe
}

func (e *PartialError) Error() string {
	if len(e.Errs) == 0 {
		return "partial result"
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e *PartialError) Unwrap() []error { return e.Errs }

// IsPartial reports whether err marks a PARTIAL outcome.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}
