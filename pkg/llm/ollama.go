package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/agentfactory/pkg/errors"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaProvider talks to a local Ollama server through /api/chat.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

// OllamaOption configures the OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaModel sets the model used when a request names none.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOllamaHTTPClient replaces the default client, which times out after
// two minutes.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// NewOllama creates a provider for the server at baseURL, or the local
// default when it is empty.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	p := &OllamaProvider{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/chat",
		model:    defaultOllamaModel,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OllamaProvider) Name() string { return "ollama" }

// String identifies the endpoint in logs.
func (p *OllamaProvider) String() string { return "ollama(" + p.endpoint + ")" }

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChat struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaReply struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

// Chat sends req without streaming. Transport failures, 429 and 5xx replies
// are marked recoverable; an unknown model is not.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	chat := ollamaChat{Model: req.Model, Messages: req.Messages}
	if chat.Model == "" {
		chat.Model = p.model
	}
	if req.Temperature != 0 || req.MaxTokens > 0 {
		chat.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	body, err := json.Marshal(chat)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "encode ollama request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "ollama request failed", err).
			WithContext("endpoint", p.endpoint).
			WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "read ollama response", err).WithRecoverable(ctx.Err() == nil)
	}
	var reply ollamaReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode != http.StatusOK {
		msg := reply.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, errors.Newf(errors.CodeLLMError, "ollama returned %d: %s", resp.StatusCode, truncate(msg, 256)).
			WithContext("status", resp.StatusCode).
			WithContext("model", chat.Model).
			WithRecoverable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError)
	}
	if decodeErr != nil {
		return nil, errors.New(errors.CodeLLMError, "decode ollama response", decodeErr)
	}

	model := reply.Model
	if model == "" {
		model = chat.Model
	}
	return &ChatResponse{
		Content: reply.Message.Content,
		Model:   model,
		Usage: Usage{
			PromptTokens:     reply.PromptEvalCount,
			CompletionTokens: reply.EvalCount,
			TotalTokens:      reply.PromptEvalCount + reply.EvalCount,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
