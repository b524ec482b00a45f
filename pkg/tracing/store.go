// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"time"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// Write is one unit of persistence handed to a Store.
type Write struct {
	Span Span
	// Final marks the write that closes Span. Final writes upsert the span
	// and insert Ancestors that are not yet stored, in one transaction.
	Final     bool
	Ancestors []Span
}

// Store persists spans and answers queries over them.
//
// Save must be idempotent per span id and must never modify a span that is
// already stored with a terminal status.
type Store interface {
	Save(ctx context.Context, w Write) error
	// Get returns a CodeNotFound error for unknown ids.
	Get(ctx context.Context, id string) (Span, error)
	// Descendants returns every span below id, ordered by start time.
	Descendants(ctx context.Context, id string) ([]Span, error)
	List(ctx context.Context, filter Filter) ([]Span, error)
	Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)
	Close() error
}

// Filter selects spans. Zero fields match everything. Results are ordered
// newest first.
type Filter struct {
	TraceID   string
	Types     []SpanType
	Status    Status
	Model     string
	Since     time.Time
	Until     time.Time
	RootsOnly bool
	Limit     int
}

// Group-by keys accepted by AggregateQuery.
const (
	GroupBySpanType = "span_type"
	GroupByModel    = "model"
	GroupByProvider = "provider"
	GroupByStatus   = "status"
	GroupByName     = "name"
	GroupByTrace    = "trace_id"
)

var groupByColumns = map[string]bool{
	GroupBySpanType: true,
	GroupByModel:    true,
	GroupByProvider: true,
	GroupByStatus:   true,
	GroupByName:     true,
	GroupByTrace:    true,
}

// AggregateQuery sums numeric span fields per group over a time range.
// Since and Until bound started_at; a zero value leaves that side open.
type AggregateQuery struct {
	GroupBy string
	Since   time.Time
	Until   time.Time
	Status  Status
	Types   []SpanType
	TraceID string
}

// AggregateRow is one group of an aggregate query.
type AggregateRow struct {
	Key          string  `json:"key"`
	Count        int     `json:"count"`
	Errors       int     `json:"errors"`
	InputTokens  int64   `json:"tokens_in"`
	OutputTokens int64   `json:"tokens_out"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMs   float64 `json:"duration_ms"`
}

// AvgDurationMs is the mean duration of the group's spans.
func (r AggregateRow) AvgDurationMs() float64 {
	if r.Count == 0 {
		return 0
	}
	return r.DurationMs / float64(r.Count)
}

func (f Filter) validate() error {
	if f.Limit < 0 {
		return errors.Newf(errors.CodeInvalidQuery, "limit must be >= 0, got %d", f.Limit)
	}
	if err := validateRange(f.Since, f.Until); err != nil {
		return err
	}
	if f.Status != "" {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return errors.Newf(errors.CodeInvalidQuery, "unknown status %q", f.Status)
		}
	}
	return validateTypes(f.Types)
}

func (q AggregateQuery) validate() error {
	if !groupByColumns[q.GroupBy] {
		return errors.Newf(errors.CodeInvalidQuery, "cannot group by %q", q.GroupBy).
			WithContext("allowed", []string{GroupBySpanType, GroupByModel, GroupByProvider, GroupByStatus, GroupByName, GroupByTrace})
	}
	if err := validateRange(q.Since, q.Until); err != nil {
		return err
	}
	if q.Status != "" {
		if _, ok := ParseStatus(string(q.Status)); !ok {
			return errors.Newf(errors.CodeInvalidQuery, "unknown status %q", q.Status)
		}
	}
	return validateTypes(q.Types)
}

func validateRange(since, until time.Time) error {
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return errors.Newf(errors.CodeInvalidQuery, "invalid time range: until %s is before since %s",
			until.Format(time.RFC3339), since.Format(time.RFC3339))
	}
	return nil
}

func validateTypes(types []SpanType) error {
	for _, t := range types {
		if !t.Valid() {
			return errors.Newf(errors.CodeInvalidQuery, "invalid span type %q", t)
		}
	}
	return nil
}

func notFound(id string) error {
	return errors.Newf(errors.CodeNotFound, "span %s not found", id).WithContext("span_id", id)
}
