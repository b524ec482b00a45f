// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const previewChars = 200

// TracedProvider records every call of the wrapped provider as an llm_call
// span carrying model, provider, token counts and cost.
type TracedProvider struct {
	next    Provider
	tracer  *tracing.Tracer
	pricing Pricing
	name    string
}

// Traced wraps p. A nil pricing table records zero cost.
func Traced(p Provider, tracer *tracing.Tracer, pricing Pricing) *TracedProvider {
	return &TracedProvider{next: p, tracer: tracer, pricing: pricing, name: ProviderName(p)}
}

func (p *TracedProvider) Name() string { return p.name }

// Chat opens a span under the active span of ctx, calls the provider and
// closes the span with usage. Provider errors close the span ERROR and are
// returned as CodeLLMError, keeping the provider's recoverable flag.
//
// The span is named after the requested model, or after the provider when
// the request leaves the model to the provider's default.
func (p *TracedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	input := map[string]any{
		"provider": p.name,
		"messages": len(req.Messages),
		"prompt":   telemetry.Truncate(lastUserMessage(req), previewChars),
	}
	name := "llm:" + p.name
	if req.Model != "" {
		input["model"] = req.Model
		name = "llm:" + req.Model
	}
	ctx, h := p.tracer.StartSpan(ctx, tracing.TypeLLMCall, name, input)

	resp, err := p.next.Chat(ctx, req)
	if err != nil {
		_ = p.tracer.EndSpan(context.WithoutCancel(ctx), h, tracing.StatusError,
			tracing.WithError(err),
			tracing.WithUsage(tracing.Usage{Model: req.Model, Provider: p.name}))
		if errors.CodeOf(err) == errors.CodeLLMError {
			return nil, err
		}
		return nil, errors.New(errors.CodeLLMError, "chat "+p.name, err).
			WithRecoverable(errors.IsRecoverable(err))
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	_ = p.tracer.EndSpan(ctx, h, tracing.StatusSuccess,
		tracing.WithOutput(map[string]any{
			"content":      telemetry.Truncate(resp.Content, previewChars),
			"total_tokens": resp.Usage.TotalTokens,
		}),
		tracing.WithUsage(tracing.Usage{
			Model:        model,
			Provider:     p.name,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			CostUSD:      p.pricing.Cost(model, resp.Usage),
		}))
	return resp, nil
}

func lastUserMessage(req ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
