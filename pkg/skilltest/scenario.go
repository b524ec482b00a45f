// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package skilltest provides utilities for testing skills against the
// execution contract.
//
// A Scenario runs one skill through an Executor, collects the result and the
// recorded span tree, and checks declarative expectations against both:
//
//	scenario := skilltest.NewScenario("planner splits goal", "project-planner").
//	    WithInputs(map[string]any{"goal": "ship"}).
//	    ExpectStatus(skills.StatusSuccess).
//	    ExpectSpan(tracing.TypeLLMCall, "chat").
//	    ExpectOutput(skilltest.Contains("Define"))
//
//	scenario.Run(t, exec).Assert(t, scenario)
package skilltest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// Scenario defines one skill invocation and what it should produce.
type Scenario struct {
	name          string
	skill         string
	inputs        map[string]any
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Result *skills.Result
	// Tree is the span tree rooted at the invocation's skill span.
	Tree     *tracing.Node
	Duration time.Duration
}

// Output renders the skill's output as text. Strings are returned as is,
// anything else as JSON.
func (r *ScenarioResult) Output() string {
	v := r.Result.Value()
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(payload)
}

// NewScenario creates a scenario that runs the registered skill.
func NewScenario(name, skill string) *Scenario {
	return &Scenario{
		name:    name,
		skill:   skill,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithInputs sets the skill inputs.
func (s *Scenario) WithInputs(inputs map[string]any) *Scenario {
	s.inputs = inputs
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectStatus expects the given result status.
func (s *Scenario) ExpectStatus(status skills.Status) *Scenario {
	return s.Expect(&statusExpectation{status: status})
}

// ExpectOutput adds an output expectation.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectError expects a result error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectSpan expects a span of the given type below the skill span. An empty
// name matches any name.
func (s *Scenario) ExpectSpan(spanType tracing.SpanType, name string) *Scenario {
	return s.Expect(&spanExpectation{spanType: spanType, name: name})
}

// ExpectSpanCount expects the tree to hold exactly n spans, the skill span
// included.
func (s *Scenario) ExpectSpanCount(n int) *Scenario {
	return s.Expect(&spanCountExpectation{n: n})
}

// ExpectNoErrorSpans expects every span of the tree to have succeeded.
func (s *Scenario) ExpectNoErrorSpans() *Scenario {
	return s.Expect(&noErrorSpansExpectation{})
}

// ExpectMaxCost expects the summed cost of the tree's LLM calls to stay at
// or below usd.
func (s *Scenario) ExpectMaxCost(usd float64) *Scenario {
	return s.Expect(&maxCostExpectation{max: usd})
}

// ExpectMaxDuration expects the scenario to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario. The execution contract is checked on the way
// out, so a skill that breaks it fails the test before any expectation runs.
func (s *Scenario) Run(t *testing.T, exec *skills.Executor) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	res := exec.ExecuteByName(ctx, s.skill, s.inputs)
	duration := time.Since(start)

	tree := CheckContract(t, exec.Tracer(), res)
	return &ScenarioResult{Result: res, Tree: tree, Duration: duration}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern)}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }

func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }

func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	re *regexp.Regexp
}

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }

func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.re.String()) }

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }

func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

// Expectation implementations

type statusExpectation struct {
	status skills.Status
}

func (e *statusExpectation) Check(r *ScenarioResult) error {
	if r.Result.Status != e.status {
		return fmt.Errorf("status %s (error %q)", r.Result.Status, r.Result.Error)
	}
	return nil
}

func (e *statusExpectation) Description() string {
	return fmt.Sprintf("status is %s", e.status)
}

type outputExpectation struct {
	matcher StringMatcher
}

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if out := r.Output(); !e.matcher.Match(out) {
		return fmt.Errorf("output %q does not match: %s", out, e.matcher.Description())
	}
	return nil
}

func (e *outputExpectation) Description() string {
	return "output " + e.matcher.Description()
}

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Result.Error == "" {
		return fmt.Errorf("expected an error, got status %s", r.Result.Status)
	}
	if !e.matcher.Match(r.Result.Error) {
		return fmt.Errorf("error %q does not match: %s", r.Result.Error, e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return "error " + e.matcher.Description()
}

type spanExpectation struct {
	spanType tracing.SpanType
	name     string
}

func (e *spanExpectation) Check(r *ScenarioResult) error {
	found := false
	for _, c := range r.Tree.Children {
		c.Walk(func(n *tracing.Node) {
			if n.Type == e.spanType && (e.name == "" || n.Name == e.name) {
				found = true
			}
		})
	}
	if !found {
		return fmt.Errorf("no %s span named %q in tree of %d spans", e.spanType, e.name, r.Tree.Count())
	}
	return nil
}

func (e *spanExpectation) Description() string {
	if e.name == "" {
		return fmt.Sprintf("has a %s span", e.spanType)
	}
	return fmt.Sprintf("has %s span %q", e.spanType, e.name)
}

type spanCountExpectation struct {
	n int
}

func (e *spanCountExpectation) Check(r *ScenarioResult) error {
	if got := r.Tree.Count(); got != e.n {
		return fmt.Errorf("tree has %d spans", got)
	}
	return nil
}

func (e *spanCountExpectation) Description() string {
	return fmt.Sprintf("tree has %d spans", e.n)
}

type noErrorSpansExpectation struct{}

func (e *noErrorSpansExpectation) Check(r *ScenarioResult) error {
	var failed []string
	r.Tree.Walk(func(n *tracing.Node) {
		if n.Status == tracing.StatusError {
			failed = append(failed, fmt.Sprintf("%s %s: %s", n.Type, n.Name, n.Error))
		}
	})
	if len(failed) > 0 {
		return fmt.Errorf("error spans: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (e *noErrorSpansExpectation) Description() string {
	return "no error spans"
}

type maxCostExpectation struct {
	max float64
}

func (e *maxCostExpectation) Check(r *ScenarioResult) error {
	if cost := TreeCost(r.Tree); cost > e.max {
		return fmt.Errorf("cost $%.6f", cost)
	}
	return nil
}

func (e *maxCostExpectation) Description() string {
	return fmt.Sprintf("cost at most $%.6f", e.max)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %v, expected at most %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("completes within %v", e.max)
}

// TreeCost sums the cost of the LLM call spans in n.
func TreeCost(n *tracing.Node) float64 {
	var total float64
	n.Walk(func(n *tracing.Node) {
		if n.Type == tracing.TypeLLMCall {
			total += n.CostUSD
		}
	})
	return total
}
