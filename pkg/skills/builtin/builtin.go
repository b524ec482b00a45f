// Package builtin holds the skills shipped with the factory.
package builtin

import (
	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// Deps are the collaborators built-in skills may need. Provider should
// already be wrapped with llm.Traced so model calls are recorded.
type Deps struct {
	Tracer   *tracing.Tracer
	Provider llm.Provider
	Model    string
}

// Register adds every built-in skill to reg.
func Register(reg *skills.Registry, deps Deps) error {
	if err := reg.Register(func() skills.Skill { return TextStats() }); err != nil {
		return err
	}
	if deps.Provider != nil && deps.Tracer != nil {
		if err := reg.Register(func() skills.Skill { return NewProjectPlanner(deps) }); err != nil {
			return err
		}
	}
	return nil
}
