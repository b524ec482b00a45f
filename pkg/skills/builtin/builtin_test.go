package builtin

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/skilltest"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

func setup(t *testing.T, responses ...string) (*skills.Executor, *tracing.Tracer) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracing.New(tracing.DefaultConfig(), tracing.WithLogger(log))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	reg := skills.NewRegistry()
	provider := llm.Traced(llm.NewScriptedProvider(responses...), tr, llm.DefaultPricing())
	if err := Register(reg, Deps{Tracer: tr, Provider: provider, Model: "mock-planner"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return skills.NewExecutor(tr, skills.WithRegistry(reg), skills.WithLogger(log)), tr
}

func TestTextStats(t *testing.T) {
	exec, _ := setup(t)
	res := exec.ExecuteByName(context.Background(), "text-stats", map[string]any{
		"text": "Go is fun.\ngo is fast\n",
		"top":  2,
	})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	out := res.Value().(TextStatsOutput)
	if out.Words != 6 || out.Lines != 2 || out.Characters != 22 {
		t.Fatalf("unexpected counts %+v", out)
	}
	want := []WordCount{{"go", 2}, {"is", 2}}
	if !reflect.DeepEqual(out.TopWords, want) {
		t.Fatalf("top words = %v, want %v", out.TopWords, want)
	}
}

func TestTextStatsRequiresText(t *testing.T) {
	exec, _ := setup(t)
	res := exec.ExecuteByName(context.Background(), "text-stats", map[string]any{})
	if res.Status != skills.StatusFailure || !strings.Contains(res.Error, "text") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProjectPlanner(t *testing.T) {
	plan := "1. Design schema\n2. Write store (after: 1)\n3. Write CLI (after: 1, 2)\n4. Docs"
	exec, tr := setup(t, plan)

	res := exec.ExecuteByName(context.Background(), "project-planner", map[string]any{"goal": "trace store"})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	out := res.Value().(map[string]any)
	if !reflect.DeepEqual(out["order"], []int{1, 2, 3, 4}) {
		t.Fatalf("unexpected order %v", out["order"])
	}

	tree, err := tr.Subtree(context.Background(), res.SpanID)
	if err != nil {
		t.Fatalf("subtree: %v", err)
	}
	var names []string
	for _, c := range tree.Children {
		names = append(names, c.Name)
	}
	if !reflect.DeepEqual(names, []string{"generate_plan", "parse_tasks", "order_tasks"}) {
		t.Fatalf("unexpected step spans %v", names)
	}
	gen := tree.Children[0]
	if len(gen.Children) != 1 || gen.Children[0].Type != tracing.TypeLLMCall || gen.Children[0].Model != "mock-planner" {
		t.Fatalf("expected llm call under generate_plan")
	}
}

func TestProjectPlannerCycleIsPartial(t *testing.T) {
	exec, tr := setup(t, "1. A (after: 2)\n2. B (after: 1)\n3. C")

	res := exec.ExecuteByName(context.Background(), "project-planner", map[string]any{"goal": "loop"})
	if res.Status != skills.StatusPartial || !strings.Contains(res.Error, "dependency cycle among tasks 1, 2") {
		t.Fatalf("expected partial cycle result, got %+v", res)
	}
	out := res.Value().(map[string]any)
	if out["plan"] == "" || len(out["tasks"].([]Task)) != 3 {
		t.Fatalf("partial result must keep plan and tasks: %v", out)
	}
	if _, ok := out["order"]; ok {
		t.Fatalf("no order expected on a cycle")
	}
	span, err := tr.Get(context.Background(), res.SpanID)
	if err != nil || span.Status != tracing.StatusError {
		t.Fatalf("expected error span, got %+v %v", span, err)
	}
}

func TestProjectPlannerEmptyPlanFails(t *testing.T) {
	exec, _ := setup(t, "I cannot help with that.")
	res := exec.ExecuteByName(context.Background(), "project-planner", map[string]any{"goal": "x"})
	if res.Status != skills.StatusFailure || !strings.Contains(res.Error, "no tasks") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProjectPlannerMaxTasks(t *testing.T) {
	tests := []struct {
		name     string
		maxTasks any
		status   skills.Status
		tasks    int
		errMsg   string
	}{
		{name: "negative", maxTasks: -1, status: skills.StatusFailure, errMsg: "max_tasks must be at least 1, got -1"},
		{name: "zero", maxTasks: 0, status: skills.StatusFailure, errMsg: "max_tasks must be at least 1, got 0"},
		{name: "truncates", maxTasks: 2, status: skills.StatusSuccess, tasks: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, _ := setup(t, "1. A\n2. B (after: 1)\n3. C")
			res := exec.ExecuteByName(context.Background(), "project-planner", map[string]any{
				"goal":      "bounded",
				"max_tasks": tt.maxTasks,
			})
			if res.Status != tt.status {
				t.Fatalf("status = %s, want %s (%+v)", res.Status, tt.status, res)
			}
			if tt.errMsg != "" {
				if !strings.Contains(res.Error, tt.errMsg) || strings.Contains(res.Error, "panic") {
					t.Fatalf("unexpected error %q", res.Error)
				}
				return
			}
			out := res.Value().(map[string]any)
			if got := len(out["tasks"].([]Task)); got != tt.tasks {
				t.Fatalf("tasks = %d, want %d", got, tt.tasks)
			}
		})
	}
}

func TestBuiltinScenarios(t *testing.T) {
	exec, _ := setup(t, "1. Sketch\n2. Build (after: 1)")

	scenarios := []*skilltest.Scenario{
		skilltest.NewScenario("planner", "project-planner").
			WithInputs(map[string]any{"goal": "demo"}).
			ExpectStatus(skills.StatusSuccess).
			ExpectSpan(tracing.TypeWorkflowStep, "generate_plan").
			ExpectSpan(tracing.TypeLLMCall, "").
			ExpectSpanCount(5).
			ExpectNoErrorSpans().
			ExpectOutput(skilltest.Contains(`"order":[1,2]`)),
		skilltest.NewScenario("text stats", "text-stats").
			WithInputs(map[string]any{"text": "one two"}).
			ExpectStatus(skills.StatusSuccess).
			ExpectSpanCount(1).
			ExpectOutput(skilltest.Contains(`"words":2`)),
		skilltest.NewScenario("planner without goal", "project-planner").
			ExpectStatus(skills.StatusFailure).
			ExpectError(skilltest.HasPrefix("Validation failed: ")).
			ExpectSpanCount(1),
	}
	for _, s := range scenarios {
		s.Run(t, exec).Assert(t, s)
	}
}

func TestParseTasks(t *testing.T) {
	tasks, problems := ParseTasks("intro\n- first\n- second (depends on: 1, x)\n  3) third (after 2)")
	if len(problems) != 1 {
		t.Fatalf("expected one unreadable dependency, got %v", problems)
	}
	want := []Task{
		{ID: 1, Title: "first"},
		{ID: 2, Title: "second", DependsOn: []int{1}},
		{ID: 3, Title: "third", DependsOn: []int{2}},
	}
	if !reflect.DeepEqual(tasks, want) {
		t.Fatalf("tasks = %+v, want %+v", tasks, want)
	}
}

func TestOrderTasks(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []Task
		want    []int
		wantErr string
	}{
		{"independent", []Task{{ID: 2}, {ID: 1}}, []int{1, 2}, ""},
		{"chain", []Task{{ID: 1, DependsOn: []int{3}}, {ID: 2}, {ID: 3, DependsOn: []int{2}}}, []int{2, 3, 1}, ""},
		{"unknown", []Task{{ID: 1, DependsOn: []int{9}}}, nil, "unknown task 9"},
		{"duplicate", []Task{{ID: 1}, {ID: 1}}, nil, "duplicate task id 1"},
		{"self cycle", []Task{{ID: 1, DependsOn: []int{1}}}, nil, "dependency cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderTasks(tt.tasks)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v %v, want %v", got, err, tt.want)
			}
		})
	}
}
