package llm

import "strings"

// Price is the cost of a model in USD per thousand tokens.
type Price struct {
	InputPer1K  float64 `koanf:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `koanf:"output_per_1k" json:"output_per_1k"`
}

// Pricing maps model names to prices. A key ending in "*" matches any
// model with that prefix.
type Pricing map[string]Price

// DefaultPricing returns list prices for the models the factory ships
// adapters for. Local models are free.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-sonnet-4-5-20250929": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-haiku-4-5-20251001":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"llama*":                     {},
		"mock*":                      {},
	}
}

// Lookup returns the price for model. Exact keys win over prefixes; among
// prefixes the longest wins.
func (p Pricing) Lookup(model string) (Price, bool) {
	if price, ok := p[model]; ok {
		return price, true
	}
	best, found := "", false
	for key := range p {
		prefix, ok := strings.CutSuffix(key, "*")
		if !ok || !strings.HasPrefix(model, prefix) {
			continue
		}
		if !found || len(prefix) > len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return Price{}, false
	}
	return p[best+"*"], true
}

// Cost returns the USD cost of usage on model, zero for unknown models.
func (p Pricing) Cost(model string, u Usage) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*price.InputPer1K +
		float64(u.CompletionTokens)/1000*price.OutputPer1K
}

// Merge returns a copy of p with overrides applied.
func (p Pricing) Merge(overrides Pricing) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
