package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/jllopis/agentfactory/pkg/llm"
)

// PromptSkill renders its manifest body with the validated inputs and sends
// the result to a model.
type PromptSkill struct {
	manifest Manifest
	tmpl     *template.Template
	provider llm.Provider
}

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NewPromptSkill parses the manifest body as a text/template. Inputs the
// template references but the caller omits are an error at run time.
func NewPromptSkill(m Manifest, provider llm.Provider) (*PromptSkill, error) {
	if provider == nil {
		return nil, errors.New("prompt skill requires a model provider")
	}
	if strings.TrimSpace(m.Body) == "" {
		return nil, errors.New("prompt skill has an empty body")
	}
	tmpl, err := template.New(m.Name).Funcs(promptFuncs).Option("missingkey=error").Parse(m.Body)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptSkill{manifest: m, tmpl: tmpl, provider: provider}, nil
}

func (s *PromptSkill) Metadata() Metadata { return s.manifest.Metadata }

// Manifest returns the manifest the skill was built from.
func (s *PromptSkill) Manifest() Manifest { return s.manifest }

func (s *PromptSkill) Run(ctx context.Context, inputs map[string]any) (any, error) {
	prompt, err := s.Render(inputs)
	if err != nil {
		return nil, err
	}
	req := llm.UserPrompt(s.manifest.Model, s.manifest.System, prompt)
	req.Temperature = s.manifest.Temperature
	resp, err := s.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"response": resp.Content,
		"model":    resp.Model,
		"tokens":   resp.Usage.TotalTokens,
	}, nil
}

// Render executes the prompt template against inputs.
func (s *PromptSkill) Render(inputs map[string]any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, inputs); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
