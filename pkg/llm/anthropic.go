// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/agentfactory/pkg/errors"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	reqOpts   []option.RequestOption
}

// AnthropicOption configures the AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicModel sets the model used when a request names none.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithAnthropicMaxTokens sets the response token limit used when a request
// sets none.
func WithAnthropicMaxTokens(tokens int64) AnthropicOption {
	return func(p *AnthropicProvider) {
		if tokens > 0 {
			p.maxTokens = tokens
		}
	}
}

// WithAnthropicAPIKey sets the API key. By default the SDK reads
// ANTHROPIC_API_KEY.
func WithAnthropicAPIKey(key string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if key != "" {
			p.reqOpts = append(p.reqOpts, option.WithAPIKey(key))
		}
	}
}

// WithAnthropicBaseURL points the client at another endpoint.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if url != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithAnthropicRequestOptions passes SDK options through, e.g. retry limits.
func WithAnthropicRequestOptions(opts ...option.RequestOption) AnthropicOption {
	return func(p *AnthropicProvider) {
		p.reqOpts = append(p.reqOpts, opts...)
	}
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		model:     defaultAnthropicModel,
		maxTokens: defaultAnthropicMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.reqOpts...)
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat sends req to the Messages API. System messages become the system
// prompt. Rate limits and 5xx replies are marked recoverable.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		e := errors.New(errors.CodeLLMError, "anthropic message failed", err)
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			return nil, e.WithContext("status", apiErr.StatusCode).
				WithRecoverable(apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError)
		}
		return nil, e.WithRecoverable(ctx.Err() == nil)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	in, out := int(message.Usage.InputTokens), int(message.Usage.OutputTokens)
	respModel := string(message.Model)
	if respModel == "" {
		respModel = model
	}
	return &ChatResponse{
		Content: text,
		Model:   respModel,
		Usage: Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}
