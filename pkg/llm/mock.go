package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Model:   req.Model,
		Usage:   estimateUsage(req, m.Response),
	}, nil
}

// EchoProvider answers with the last user message. It backs offline runs of
// prompt skills.
type EchoProvider struct{}

func (EchoProvider) Name() string { return "echo" }

func (EchoProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last string
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			last = m.Content
		}
	}
	if last == "" {
		return nil, fmt.Errorf("echo: no user message")
	}
	return &ChatResponse{Content: last, Model: req.Model, Usage: estimateUsage(req, last)}, nil
}

// estimateUsage approximates token counts as one token per word.
func estimateUsage(req ChatRequest, completion string) Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(strings.Fields(m.Content))
	}
	out := len(strings.Fields(completion))
	return Usage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out}
}
