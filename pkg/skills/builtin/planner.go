// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const plannerSystemPrompt = `You are a project planner. Break the goal into a numbered list of tasks.
Write one task per line as "N. Title". When a task needs earlier tasks, end the
line with "(after: N, M)".`

// Task is one planned unit of work. DependsOn holds task ids.
type Task struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	DependsOn []int  `json:"depends_on,omitempty"`
}

// ProjectPlanner asks a model for a plan, parses it into tasks and orders
// them by their dependencies. Each of the three steps runs in its own
// workflow_step span under the skill span.
//
// A plan whose dependencies form a cycle, or reference tasks that do not
// exist, is returned as a PARTIAL result with the plan and tasks.
type ProjectPlanner struct {
	meta skills.Metadata
	env  Deps
}

// NewProjectPlanner returns the project-planner skill.
func NewProjectPlanner(env Deps) *ProjectPlanner {
	return &ProjectPlanner{
		meta: skills.Metadata{
			Name:        "project-planner",
			Version:     "1.0.0",
			Description: "Breaks a goal into tasks with dependencies and returns them in execution order.",
			Author:      "agentfactory",
			Tags:        []string{"planning", "llm", "builtin"},
			Inputs: skills.Schema{
				Type: "object",
				Properties: map[string]skills.Property{
					"goal":      {Type: "string", Description: "What the project should achieve"},
					"max_tasks": {Type: "integer", Description: "Upper bound on planned tasks", Default: 10},
				},
				Required: []string{"goal"},
			},
			Examples: []map[string]any{{"goal": "ship a CLI for span queries"}},
		},
		env: env,
	}
}

func (p *ProjectPlanner) Metadata() skills.Metadata { return p.meta }

func (p *ProjectPlanner) Run(ctx context.Context, inputs map[string]any) (any, error) {
	goal, _ := inputs["goal"].(string)
	maxTasks := toInt(inputs["max_tasks"], 10)
	if maxTasks < 1 {
		return nil, fmt.Errorf("max_tasks must be at least 1, got %d", maxTasks)
	}
	tr := p.env.Tracer

	var plan string
	err := tr.Trace(ctx, tracing.TypeWorkflowStep, "generate_plan", map[string]any{"goal": goal},
		func(ctx context.Context) (map[string]any, error) {
			req := llm.UserPrompt(p.env.Model, plannerSystemPrompt,
				fmt.Sprintf("Goal: %s\nUse at most %d tasks.", goal, maxTasks))
			resp, err := p.env.Provider.Chat(ctx, req)
			if err != nil {
				return nil, err
			}
			plan = resp.Content
			return map[string]any{"chars": len(plan)}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	var tasks []Task
	var problems []error
	err = tr.Trace(ctx, tracing.TypeWorkflowStep, "parse_tasks", nil,
		func(context.Context) (map[string]any, error) {
			tasks, problems = ParseTasks(plan)
			if len(tasks) > maxTasks {
				tasks = tasks[:maxTasks]
			}
			if len(tasks) == 0 {
				return nil, errors.New("plan contains no tasks")
			}
			return map[string]any{"tasks": len(tasks), "problems": len(problems)}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	var order []int
	orderErr := tr.Trace(ctx, tracing.TypeWorkflowStep, "order_tasks", map[string]any{"tasks": len(tasks)},
		func(context.Context) (map[string]any, error) {
			var err error
			order, err = OrderTasks(tasks)
			return map[string]any{"ordered": len(order)}, err
		})

	out := map[string]any{"goal": goal, "plan": plan, "tasks": tasks}
	if orderErr != nil {
		problems = append(problems, orderErr)
	} else {
		out["order"] = order
	}
	if len(problems) > 0 {
		return out, skills.PartialFailure(problems...)
	}
	return out, nil
}

var (
	taskLine = regexp.MustCompile(`^\s*(?:(\d+)[.)]|[-*])\s+(.+?)\s*$`)
	afterRef = regexp.MustCompile(`\((?:after|depends on):?\s*([^)]*)\)\s*$`)
)

// ParseTasks reads "N. Title (after: A, B)" lines. Bulleted lines are
// numbered by position. Dependencies that cannot be read are reported and
// skipped.
func ParseTasks(plan string) ([]Task, []error) {
	var tasks []Task
	var problems []error
	for _, line := range strings.Split(plan, "\n") {
		m := taskLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id := len(tasks) + 1
		if m[1] != "" {
			id, _ = strconv.Atoi(m[1])
		}
		title := m[2]
		var dependsOn []int
		if dm := afterRef.FindStringSubmatch(title); dm != nil {
			title = strings.TrimSpace(title[:len(title)-len(dm[0])])
			for _, ref := range strings.Split(dm[1], ",") {
				ref = strings.TrimSpace(ref)
				if ref == "" {
					continue
				}
				n, err := strconv.Atoi(ref)
				if err != nil {
					problems = append(problems, fmt.Errorf("task %d: unreadable dependency %q", id, ref))
					continue
				}
				dependsOn = append(dependsOn, n)
			}
		}
		tasks = append(tasks, Task{ID: id, Title: title, DependsOn: dependsOn})
	}
	return tasks, problems
}

// OrderTasks returns task ids so that every task follows its dependencies.
// Ties keep the lower id first. Unknown dependencies and cycles are errors.
func OrderTasks(tasks []Task) ([]int, error) {
	indegree := make(map[int]int, len(tasks))
	for _, t := range tasks {
		if _, dup := indegree[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %d", t.ID)
		}
		indegree[t.ID] = 0
	}

	dependents := make(map[int][]int)
	for _, t := range tasks {
		for _, d := range t.DependsOn {
			if _, ok := indegree[d]; !ok {
				return nil, fmt.Errorf("task %d depends on unknown task %d", t.ID, d)
			}
			indegree[t.ID]++
			dependents[d] = append(dependents[d], t.ID)
		}
	}

	var ready []int
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	order := make([]int, 0, len(tasks))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) < len(tasks) {
		var stuck []string
		for _, t := range tasks {
			if indegree[t.ID] > 0 {
				stuck = append(stuck, strconv.Itoa(t.ID))
			}
		}
		return order, fmt.Errorf("dependency cycle among tasks %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

func toInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
