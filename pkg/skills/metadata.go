// Package skills defines the execution contract shared by every pluggable
// capability: declared metadata and input schema, validation before any
// logic runs, one SKILL span per invocation and a structured Result.
//
// Skills never run on their own; callers go through an Executor:
//
//	exec := skills.NewExecutor(tracer, skills.WithRegistry(reg))
//	res := exec.ExecuteByName(ctx, "text-stats", map[string]any{"text": "hello"})
package skills

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Metadata is the static descriptor of a skill. It is created once per skill
// type and treated as read-only afterwards.
type Metadata struct {
	Name         string           `json:"name" yaml:"name"`
	Version      string           `json:"version" yaml:"version"`
	Description  string           `json:"description" yaml:"description"`
	Author       string           `json:"author,omitempty" yaml:"author"`
	Tags         []string         `json:"tags,omitempty" yaml:"tags"`
	Dependencies []string         `json:"dependencies,omitempty" yaml:"dependencies"`
	Inputs       Schema           `json:"inputs" yaml:"inputs"`
	Outputs      Schema           `json:"outputs" yaml:"outputs"`
	Examples     []map[string]any `json:"examples,omitempty" yaml:"examples"`
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	semverPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)
)

// Validate checks the fields a registry relies on.
func (m Metadata) Validate() error {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must match %s", name, namePattern.String())
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("version %q is not a semantic version", m.Version)
	}
	if utf8.RuneCountInString(m.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	return m.Inputs.check()
}

// HasTag reports whether the skill carries tag.
func (m Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
