// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"sort"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// Queries first flush queued writes, so a span whose EndSpan has returned is
// never read back as pending.

// Get returns one stored span.
func (t *Tracer) Get(ctx context.Context, id string) (Span, error) {
	if id == "" {
		return Span{}, errors.New(errors.CodeInvalidQuery, "span id is required", nil)
	}
	if err := t.Flush(ctx); err != nil {
		return Span{}, err
	}
	return t.store.Get(ctx, id)
}

// Recent returns the n most recent root spans, newest first.
func (t *Tracer) Recent(ctx context.Context, n int) ([]Span, error) {
	if n <= 0 {
		return nil, errors.Newf(errors.CodeInvalidQuery, "limit must be positive, got %d", n)
	}
	return t.List(ctx, Filter{RootsOnly: true, Limit: n})
}

// List returns stored spans matching f, newest first.
func (t *Tracer) List(ctx context.Context, f Filter) ([]Span, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := t.Flush(ctx); err != nil {
		return nil, err
	}
	return t.store.List(ctx, f)
}

// Errors returns the most recent spans that closed with ERROR.
func (t *Tracer) Errors(ctx context.Context, limit int) ([]Span, error) {
	return t.List(ctx, Filter{Status: StatusError, Limit: limit})
}

// Subtree returns the span id with all of its descendants.
func (t *Tracer) Subtree(ctx context.Context, id string) (*Node, error) {
	root, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	desc, err := t.store.Descendants(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildTree(root, desc), nil
}

// TraceSpans returns every span of a trace, oldest first.
func (t *Tracer) TraceSpans(ctx context.Context, traceID string) ([]Span, error) {
	if traceID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "trace id is required", nil)
	}
	spans, err := t.List(ctx, Filter{TraceID: traceID})
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, errors.Newf(errors.CodeNotFound, "trace %s not found", traceID).WithContext("trace_id", traceID)
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartedAt.Before(spans[j].StartedAt) })
	return spans, nil
}

// Aggregate sums tokens, cost and duration per group.
func (t *Tracer) Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := t.Flush(ctx); err != nil {
		return nil, err
	}
	return t.store.Aggregate(ctx, q)
}

// TraceSummary describes one trace by its root span.
type TraceSummary struct {
	Root        Span    `json:"root"`
	SpanCount   int     `json:"span_count"`
	ErrorCount  int     `json:"error_count"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// Summaries returns the n most recent traces with their totals.
func (t *Tracer) Summaries(ctx context.Context, n int) ([]TraceSummary, error) {
	roots, err := t.Recent(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]TraceSummary, 0, len(roots))
	for _, root := range roots {
		rows, err := t.store.Aggregate(ctx, AggregateQuery{GroupBy: GroupByTrace, TraceID: root.TraceID})
		if err != nil {
			return nil, err
		}
		sum := TraceSummary{Root: root}
		for _, r := range rows {
			sum.SpanCount += r.Count
			sum.ErrorCount += r.Errors
			sum.TotalTokens += r.InputTokens + r.OutputTokens
			sum.TotalCost += r.CostUSD
		}
		out = append(out, sum)
	}
	return out, nil
}

// BuildTree links spans into a tree under root. Spans whose parent is not in
// the set are dropped.
func BuildTree(root Span, descendants []Span) *Node {
	nodes := map[string]*Node{root.ID: {Span: root}}
	for _, s := range descendants {
		nodes[s.ID] = &Node{Span: s}
	}
	for _, s := range descendants {
		if parent, ok := nodes[s.ParentID]; ok {
			parent.Children = append(parent.Children, nodes[s.ID])
		}
	}
	for _, n := range nodes {
		sort.SliceStable(n.Children, func(i, j int) bool {
			return n.Children[i].StartedAt.Before(n.Children[j].StartedAt)
		})
	}
	return nodes[root.ID]
}
