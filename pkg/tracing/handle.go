// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Handle is an open span owned by the code that started it. Handles are safe
// for concurrent use; the span data behind them is immutable once closed.
type Handle struct {
	tracer   *Tracer
	parent   *Handle
	otel     trace.Span
	id       string
	traceID  string
	spanType SpanType
	// counted is set when this span is included in parent.openChildren.
	counted bool

	mu           sync.Mutex
	span         Span
	closed       bool
	openChildren int
}

// ID returns the span id, or "" for a nil handle.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.id
}

// TraceID returns the id of the root span of this span's trace.
func (h *Handle) TraceID() string {
	if h == nil {
		return ""
	}
	return h.traceID
}

// Type returns the span type.
func (h *Handle) Type() SpanType {
	if h == nil {
		return ""
	}
	return h.spanType
}

// Snapshot returns a copy of the span as currently known.
func (h *Handle) Snapshot() Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.span.clone()
}

// Closed reports whether EndSpan has been called on h.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// OpenChildren returns the number of child spans still open.
func (h *Handle) OpenChildren() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openChildren
}

// adopt registers a new child. It returns the parent's start time and whether
// the parent was already closed, in which case the child is not counted.
func (h *Handle) adopt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.span.StartedAt, true
	}
	h.openChildren++
	return h.span.StartedAt, false
}

func (h *Handle) childClosed() {
	h.mu.Lock()
	if h.openChildren > 0 {
		h.openChildren--
	}
	h.mu.Unlock()
}

// ancestors returns snapshots of every enclosing span, root first.
func (h *Handle) ancestors() []Span {
	var out []Span
	for p := h.parent; p != nil; p = p.parent {
		out = append(out, p.Snapshot())
	}
	slices.Reverse(out)
	return out
}
