package skilltest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// CheckContract verifies that res and the spans recorded for it agree: one
// closed skill span per invocation, a span status that matches the result
// status, and no span left open below it. Pending writes are flushed first.
// It returns the span tree of the invocation.
func CheckContract(t testing.TB, tracer *tracing.Tracer, res *skills.Result) *tracing.Node {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Flush(ctx); err != nil {
		t.Fatalf("flush spans: %v", err)
	}
	tree, err := contractTree(ctx, tracer, res)
	if err != nil {
		t.Fatalf("%v", err)
	}
	for _, problem := range ContractProblems(res, tree) {
		t.Errorf("skill %s: %s", res.Skill, problem)
	}
	return tree
}

func contractTree(ctx context.Context, tracer *tracing.Tracer, res *skills.Result) (*tracing.Node, error) {
	if res == nil {
		return nil, fmt.Errorf("nil result")
	}
	if res.SpanID == "" {
		return nil, fmt.Errorf("skill %s: result carries no span id", res.Skill)
	}
	tree, err := tracer.Subtree(ctx, res.SpanID)
	if err != nil {
		return nil, fmt.Errorf("skill %s: span %s: %w", res.Skill, res.SpanID, err)
	}
	return tree, nil
}

// ContractProblems lists every way res and its span tree disagree. It is
// empty when the invocation honored the contract.
func ContractProblems(res *skills.Result, tree *tracing.Node) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if tree.Type != tracing.TypeSkill {
		add("root span has type %s, want %s", tree.Type, tracing.TypeSkill)
	}
	if tree.Name != res.Skill {
		add("root span is named %q, want %q", tree.Name, res.Skill)
	}
	if tree.TraceID != res.TraceID {
		add("result trace %s differs from span trace %s", res.TraceID, tree.TraceID)
	}
	if !tree.Closed() {
		add("skill span is still %s", tree.Status)
	}

	switch res.Status {
	case skills.StatusSuccess:
		if tree.Status != tracing.StatusSuccess {
			add("SUCCESS result but span status %s", tree.Status)
		}
		if res.Error != "" {
			add("SUCCESS result carries error %q", res.Error)
		}
	case skills.StatusFailure:
		if tree.Status != tracing.StatusError || tree.Error == "" {
			add("FAILURE result but span status %s with error %q", tree.Status, tree.Error)
		}
		if res.Output != nil {
			add("FAILURE result carries output")
		}
		if res.Error == "" {
			add("FAILURE result has no error message")
		}
	case skills.StatusPartial:
		if tree.Status != tracing.StatusError || !strings.HasPrefix(tree.Error, "partial: ") {
			add("PARTIAL result but span status %s with error %q", tree.Status, tree.Error)
		}
		if res.Output == nil {
			add("PARTIAL result has no output")
		}
	default:
		add("unknown result status %q", res.Status)
	}

	for _, c := range tree.Children {
		c.Walk(func(n *tracing.Node) {
			if !n.Closed() {
				add("child %s %s (%s) left %s", n.Type, n.Name, n.ID, n.Status)
			}
		})
	}
	return problems
}
