// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/telemetry"
)

// Orphan is a pending span that outlived its logical scope.
type Orphan struct {
	Span   Span   `json:"span"`
	Reason string `json:"reason"`
	// InProcess is set when the span is still open in this tracer.
	InProcess bool `json:"in_process"`
}

// CheckOrphans finds pending spans that should have been closed:
//   - spans open in this process for longer than OrphanAfter
//   - spans still open although their parent has closed
//   - spans stored as pending for longer than OrphanAfter that no handle in
//     this process owns
//
// Each orphan is reported once through the reporter with CodeOrphanSpan.
// Orphans are surfaced, not closed.
func (t *Tracer) CheckOrphans(ctx context.Context) ([]Orphan, error) {
	if err := t.Flush(ctx); err != nil {
		return nil, err
	}
	now := t.now()
	cutoff := now.Add(-t.cfg.OrphanAfter)

	var orphans []Orphan
	t.open.Range(func(_, v any) bool {
		h := v.(*Handle)
		span := h.Snapshot()
		switch {
		case span.StartedAt.Before(cutoff):
			orphans = append(orphans, Orphan{Span: span, InProcess: true,
				Reason: fmt.Sprintf("pending for %s", now.Sub(span.StartedAt).Round(time.Millisecond))})
		case h.parent != nil && h.parent.Closed():
			orphans = append(orphans, Orphan{Span: span, InProcess: true, Reason: "parent closed while span open"})
		}
		return true
	})

	stored, err := t.store.List(ctx, Filter{Status: StatusPending, Until: cutoff})
	if err != nil {
		return orphans, errors.New(errors.CodeInternal, "list pending spans", err)
	}
	for _, span := range stored {
		if _, open := t.open.Load(span.ID); open {
			continue
		}
		orphans = append(orphans, Orphan{Span: span, Reason: "pending in store with no open handle"})
	}

	for _, o := range orphans {
		if _, seen := t.reported.LoadOrStore(o.Span.ID, struct{}{}); seen {
			continue
		}
		orphanCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(telemetry.AttrSpanType, string(o.Span.Type)),
			attribute.Bool("in_process", o.InProcess),
		))
		t.reporter.Report(ctx, errors.Newf(errors.CodeOrphanSpan, "orphan span %s: %s", o.Span.ID, o.Reason).
			WithContext("in_process", o.InProcess), o.Span)
	}
	if len(orphans) > 0 {
		t.log.WarnContext(ctx, "tracing.orphans.detected", slog.Int("count", len(orphans)))
	}
	return orphans, nil
}
