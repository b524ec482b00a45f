package skills

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const (
	manifestFile     = "SKILL.md"
	manifestYAMLFile = "skill.yaml"
	defaultVersion   = "1.0.0"
)

// Manifest is a skill declared on disk: metadata in YAML frontmatter and a
// prompt template as the markdown body.
type Manifest struct {
	Metadata
	Model       string
	Temperature float64
	System      string
	Body        string
	Path        string
	Dir         string
}

type frontmatter struct {
	Name         string           `yaml:"name"`
	Version      string           `yaml:"version"`
	Description  string           `yaml:"description"`
	Author       string           `yaml:"author"`
	Tags         []string         `yaml:"tags"`
	Dependencies []string         `yaml:"dependencies"`
	Inputs       Schema           `yaml:"inputs"`
	Outputs      Schema           `yaml:"outputs"`
	Examples     []map[string]any `yaml:"examples"`
	Model        string           `yaml:"model"`
	Temperature  float64          `yaml:"temperature"`
	System       string           `yaml:"system"`
	Prompt       string           `yaml:"prompt"`
}

// LoadManifestDir scans root for skill subdirectories holding a SKILL.md or,
// failing that, a skill.yaml.
func LoadManifestDir(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := findManifest(filepath.Join(root, entry.Name()))
		if path == "" {
			continue
		}
		m, err := LoadManifest(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func findManifest(dir string) string {
	for _, name := range []string{manifestFile, manifestYAMLFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadManifest parses a single SKILL.md or skill.yaml file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}

	var fm, body string
	if filepath.Base(path) == manifestYAMLFile {
		fm = string(data)
	} else {
		fm, body, err = splitFrontmatter(string(data))
		if err != nil {
			return Manifest{}, err
		}
	}

	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Manifest{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	if body == "" {
		body = parsed.Prompt
	}
	if parsed.Version == "" {
		parsed.Version = defaultVersion
	}

	m := Manifest{
		Metadata: Metadata{
			Name:         parsed.Name,
			Version:      parsed.Version,
			Description:  parsed.Description,
			Author:       parsed.Author,
			Tags:         dedupe(parsed.Tags),
			Dependencies: parsed.Dependencies,
			Inputs:       parsed.Inputs,
			Outputs:      parsed.Outputs,
			Examples:     parsed.Examples,
		},
		Model:       parsed.Model,
		Temperature: parsed.Temperature,
		System:      strings.TrimSpace(parsed.System),
		Body:        strings.TrimSpace(body),
		Path:        path,
		Dir:         filepath.Dir(path),
	}
	if m.Inputs.Type == "" && len(m.Inputs.Properties) > 0 {
		m.Inputs.Type = "object"
	}
	if err := validateManifest(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	fm := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	return fm, body, nil
}

func validateManifest(m Manifest) error {
	if err := m.Metadata.Validate(); err != nil {
		return err
	}
	dirName := filepath.Base(m.Dir)
	if dirName != m.Name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if strings.TrimSpace(m.Description) == "" {
		return errors.New("description is required")
	}
	return nil
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// RegisterManifests loads every manifest under dir as a prompt skill backed
// by provider and adds it to reg. Discovery runs inside a skill_load span.
func RegisterManifests(ctx context.Context, tracer *tracing.Tracer, reg *Registry, dir string, provider llm.Provider) ([]string, error) {
	ctx, h := tracer.StartSpan(ctx, tracing.TypeSkillLoad, "skill_discovery", map[string]any{"dir": dir})
	names, err := registerManifests(reg, dir, provider)
	if err != nil {
		_ = tracer.EndSpan(ctx, h, tracing.StatusError, tracing.WithError(err),
			tracing.WithOutput(map[string]any{"registered": names}))
		return names, err
	}
	_ = tracer.EndSpan(ctx, h, tracing.StatusSuccess,
		tracing.WithOutput(map[string]any{"registered": names, "count": len(names)}))
	return names, nil
}

func registerManifests(reg *Registry, dir string, provider llm.Provider) ([]string, error) {
	manifests, err := LoadManifestDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range manifests {
		s, err := NewPromptSkill(m, provider)
		if err != nil {
			return names, fmt.Errorf("skill %s: %w", m.Name, err)
		}
		if err := reg.RegisterSkill(s); err != nil {
			return names, err
		}
		names = append(names, m.Name)
	}
	return names, nil
}
