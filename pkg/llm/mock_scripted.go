package llm

import (
	"context"
	"sync"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// ScriptedProvider replays canned responses in order, one per call, and
// records what it was asked. Every reply reports the same Usage.
type ScriptedProvider struct {
	mu        sync.Mutex
	Responses []string
	Usage     Usage
	// Err, when set, is returned by every call instead of a response.
	Err      error
	Requests []ChatRequest
}

func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{
		Responses: responses,
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}

func (s *ScriptedProvider) Name() string { return "scripted" }

// Chat returns the next response. Running out of responses is a
// non-recoverable LLM error.
func (s *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	switch {
	case s.Err != nil:
		return nil, s.Err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case len(s.Responses) == 0:
		return nil, errors.Newf(errors.CodeLLMError, "scripted provider exhausted after %d calls", len(s.Requests)-1)
	}
	next := s.Responses[0]
	s.Responses = s.Responses[1:]
	return &ChatResponse{Content: next, Model: req.Model, Usage: s.Usage}, nil
}

// Calls returns how many requests were received.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
