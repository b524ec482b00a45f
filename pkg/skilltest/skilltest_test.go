package skilltest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

func newExecutor(t *testing.T) *skills.Executor {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracing.New(tracing.DefaultConfig(), tracing.WithLogger(log))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	provider := llm.Traced(llm.NewScriptedProvider("forty-two"), tr,
		llm.Pricing{"test-model": {InputPer1K: 1, OutputPer1K: 1}})

	reg := skills.NewRegistry()
	register := func(name string, fn skills.RunFunc) {
		reg.MustRegister(func() skills.Skill {
			return skills.NewFunc(skills.Metadata{Name: name, Version: "1.0.0", Description: name}, fn)
		})
	}
	register("greet", func(_ context.Context, in map[string]any) (any, error) {
		return "hello " + in["who"].(string), nil
	})
	register("ask", func(ctx context.Context, _ map[string]any) (any, error) {
		resp, err := provider.Chat(ctx, llm.UserPrompt("test-model", "", "meaning of life"))
		if err != nil {
			return nil, err
		}
		return resp.Content, nil
	})
	register("broken", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full")
	})
	register("half", func(context.Context, map[string]any) (any, error) {
		return []string{"a"}, skills.PartialFailure(errors.New("b unavailable"))
	})
	register("explode", func(context.Context, map[string]any) (any, error) {
		panic("boom")
	})
	return skills.NewExecutor(tr, skills.WithRegistry(reg), skills.WithLogger(log))
}

func TestScenarios(t *testing.T) {
	exec := newExecutor(t)

	scenarios := []*Scenario{
		NewScenario("greets", "greet").
			WithInputs(map[string]any{"who": "gopher"}).
			ExpectStatus(skills.StatusSuccess).
			ExpectOutput(Equals("hello gopher")).
			ExpectSpanCount(1).
			ExpectNoErrorSpans().
			ExpectMaxDuration(5 * time.Second),
		NewScenario("model call is a child span", "ask").
			ExpectStatus(skills.StatusSuccess).
			ExpectOutput(HasPrefix("forty")).
			ExpectSpan(tracing.TypeLLMCall, "").
			ExpectSpanCount(2).
			ExpectMaxCost(0.1),
		NewScenario("failure", "broken").
			ExpectStatus(skills.StatusFailure).
			ExpectError(Equals("disk full")).
			ExpectOutput(Equals("")),
		NewScenario("partial", "half").
			ExpectStatus(skills.StatusPartial).
			ExpectError(Contains("unavailable")).
			ExpectOutput(Equals(`["a"]`)),
		NewScenario("panic", "explode").
			ExpectStatus(skills.StatusFailure).
			ExpectError(Regex(`^panic: boom$`)),
		NewScenario("unknown skill", "nope").
			ExpectStatus(skills.StatusFailure).
			ExpectError(Equals("unknown skill: nope")),
	}
	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			s.Run(t, exec).Assert(t, s)
		})
	}
}

func TestScenarioSetupAndTeardown(t *testing.T) {
	exec := newExecutor(t)
	var calls []string
	s := NewScenario("hooks", "greet").
		WithInputs(map[string]any{"who": "x"}).
		WithSetup(func() error { calls = append(calls, "setup"); return nil }).
		WithTeardown(func() error { calls = append(calls, "teardown"); return nil })
	s.Run(t, exec)
	if strings.Join(calls, ",") != "setup,teardown" {
		t.Fatalf("unexpected hook order %v", calls)
	}
}

func TestScenarioCancelledContext(t *testing.T) {
	exec := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScenario("cancelled", "greet").
		WithContext(ctx).
		WithInputs(map[string]any{"who": "x"}).
		ExpectStatus(skills.StatusFailure).
		ExpectError(Equals("cancelled"))
	s.Run(t, exec).Assert(t, s)
}

func TestExpectationsReportMismatch(t *testing.T) {
	exec := newExecutor(t)
	r := NewScenario("greets", "greet").WithInputs(map[string]any{"who": "a"}).Run(t, exec)

	failing := []Expectation{
		&statusExpectation{status: skills.StatusFailure},
		&outputExpectation{matcher: Contains("bye")},
		&errorExpectation{matcher: Contains("x")},
		&spanExpectation{spanType: tracing.TypeToolCall},
		&spanCountExpectation{n: 3},
		&maxDurationExpectation{max: 0},
	}
	for _, exp := range failing {
		if err := exp.Check(r); err == nil {
			t.Errorf("expected %q to fail", exp.Description())
		}
	}
}

func TestContractProblems(t *testing.T) {
	now := time.Now()
	closed := tracing.Span{ID: "s1", TraceID: "t1", Type: tracing.TypeSkill, Name: "greet",
		Status: tracing.StatusSuccess, StartedAt: now, EndedAt: &now}

	tests := []struct {
		name string
		res  skills.Result
		tree tracing.Node
		want string
	}{
		{
			name: "honored",
			res:  skills.Result{Status: skills.StatusSuccess, Skill: "greet", SpanID: "s1", TraceID: "t1", Output: map[string]any{}},
			tree: tracing.Node{Span: closed},
		},
		{
			name: "status mismatch",
			res:  skills.Result{Status: skills.StatusFailure, Error: "x", Skill: "greet", SpanID: "s1", TraceID: "t1"},
			tree: tracing.Node{Span: closed},
			want: "FAILURE result but span status success",
		},
		{
			name: "wrong span type",
			res:  skills.Result{Status: skills.StatusSuccess, Skill: "greet", SpanID: "s1", TraceID: "t1"},
			tree: tracing.Node{Span: func() tracing.Span { s := closed; s.Type = tracing.TypeToolCall; return s }()},
			want: "root span has type tool_call",
		},
		{
			name: "open child",
			res:  skills.Result{Status: skills.StatusSuccess, Skill: "greet", SpanID: "s1", TraceID: "t1"},
			tree: tracing.Node{Span: closed, Children: []*tracing.Node{{Span: tracing.Span{
				ID: "c1", Type: tracing.TypeLLMCall, Name: "chat", Status: tracing.StatusPending,
			}}}},
			want: "child llm_call chat (c1) left pending",
		},
		{
			name: "partial without prefix",
			res:  skills.Result{Status: skills.StatusPartial, Error: "x", Skill: "greet", SpanID: "s1", TraceID: "t1", Output: map[string]any{}},
			tree: tracing.Node{Span: func() tracing.Span {
				s := closed
				s.Status, s.Error = tracing.StatusError, "x"
				return s
			}()},
			want: "PARTIAL result but span status error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := tt.tree
			problems := ContractProblems(&tt.res, &tree)
			if tt.want == "" {
				if len(problems) != 0 {
					t.Fatalf("unexpected problems %v", problems)
				}
				return
			}
			if !strings.Contains(strings.Join(problems, "\n"), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, problems)
			}
		})
	}
}

func TestTreeCost(t *testing.T) {
	tree := &tracing.Node{
		Span: tracing.Span{Type: tracing.TypeSkill},
		Children: []*tracing.Node{
			{Span: tracing.Span{Type: tracing.TypeLLMCall, CostUSD: 0.25}},
			{Span: tracing.Span{Type: tracing.TypeToolCall, CostUSD: 9}},
			{Span: tracing.Span{Type: tracing.TypeWorkflowStep}, Children: []*tracing.Node{
				{Span: tracing.Span{Type: tracing.TypeLLMCall, CostUSD: 0.5}},
			}},
		},
	}
	if got := TreeCost(tree); got != 0.75 {
		t.Fatalf("TreeCost = %v, want 0.75", got)
	}
}
