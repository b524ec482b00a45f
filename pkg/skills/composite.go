package skills

import (
	"context"
	"fmt"
)

// Composite runs sub-skills in order through an Executor, so each step gets
// its own SKILL span nested under the composite's span. A step's map output
// is merged into the inputs of the next step.
//
// A FAILURE step stops the run and fails the composite. A PARTIAL step does
// not stop it but makes the composite PARTIAL.
type Composite struct {
	meta  Metadata
	exec  *Executor
	steps []Skill
}

// NewComposite builds a composite. Empty metadata fields default to version
// 1.0.0 and the step names as dependencies.
func NewComposite(meta Metadata, exec *Executor, steps ...Skill) *Composite {
	if meta.Version == "" {
		meta.Version = defaultVersion
	}
	if len(meta.Dependencies) == 0 {
		for _, s := range steps {
			meta.Dependencies = append(meta.Dependencies, s.Metadata().Name)
		}
	}
	return &Composite{meta: meta, exec: exec, steps: steps}
}

func (c *Composite) Metadata() Metadata { return c.meta }

// StepResult is the record of one composite step.
type StepResult struct {
	Skill  string `json:"skill"`
	Status Status `json:"status"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	SpanID string `json:"span_id"`
}

func (c *Composite) Run(ctx context.Context, inputs map[string]any) (any, error) {
	current := make(map[string]any, len(inputs))
	for k, v := range inputs {
		current[k] = v
	}

	steps := make([]StepResult, 0, len(c.steps))
	var partial []error
	var last any
	for _, step := range c.steps {
		res := c.exec.Execute(ctx, step, current)
		steps = append(steps, StepResult{
			Skill:  res.Skill,
			Status: res.Status,
			Output: res.Value(),
			Error:  res.Error,
			SpanID: res.SpanID,
		})
		switch res.Status {
		case StatusFailure:
			return map[string]any{"steps": steps}, fmt.Errorf("sub-skill %s failed: %s", res.Skill, res.Error)
		case StatusPartial:
			partial = append(partial, fmt.Errorf("sub-skill %s partial: %s", res.Skill, res.Error))
		}
		last = res.Value()
		if out, ok := last.(map[string]any); ok {
			for k, v := range out {
				current[k] = v
			}
		}
	}

	output := map[string]any{"steps": steps, "final": last}
	if len(partial) > 0 {
		return output, PartialFailure(partial...)
	}
	return output, nil
}
