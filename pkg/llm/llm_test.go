package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ferrors "github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

func newTracer(t *testing.T) *tracing.Tracer {
	t.Helper()
	tr := tracing.New(tracing.DefaultConfig(), tracing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Errorf("expected estimated usage 3, got %d", resp.Usage.TotalTokens)
	}
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider("one", "two")
	ctx := context.Background()
	for _, want := range []string{"one", "two"} {
		resp, err := p.Chat(ctx, UserPrompt("m", "", "q"))
		if err != nil || resp.Content != want {
			t.Fatalf("got %v, %v; want %q", resp, err, want)
		}
	}
	if _, err := p.Chat(ctx, UserPrompt("m", "", "q")); !ferrors.IsCode(err, ferrors.CodeLLMError) || ferrors.IsRecoverable(err) {
		t.Fatalf("expected a non-recoverable exhaustion error, got %v", err)
	}
	if p.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", p.Calls())
	}
}

func TestEchoProvider(t *testing.T) {
	resp, err := EchoProvider{}.Chat(context.Background(), UserPrompt("m", "be brief", "repeat me"))
	if err != nil || resp.Content != "repeat me" {
		t.Fatalf("got %v, %v", resp, err)
	}
	if _, err := (EchoProvider{}).Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected error without a user message")
	}
}

func TestPricing(t *testing.T) {
	p := DefaultPricing().Merge(Pricing{
		"gpt*":      {InputPer1K: 1, OutputPer1K: 1},
		"gpt-large": {InputPer1K: 10, OutputPer1K: 20},
		"gpt-x*":    {InputPer1K: 2, OutputPer1K: 2},
	})
	tests := []struct {
		model string
		usage Usage
		want  float64
	}{
		{"gpt-large", Usage{PromptTokens: 1000, CompletionTokens: 500}, 20},
		{"gpt-xl", Usage{PromptTokens: 500, CompletionTokens: 500}, 2},
		{"gpt-small", Usage{PromptTokens: 1000}, 1},
		{"llama3", Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0},
		{"unknown", Usage{PromptTokens: 1000}, 0},
		{"claude-haiku-4-5-20251001", Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0.0015},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := p.Cost(tt.model, tt.usage); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTracedRecordsUsage(t *testing.T) {
	tr := newTracer(t)
	scripted := NewScriptedProvider("answer")
	scripted.Usage = Usage{PromptTokens: 1000, CompletionTokens: 2000, TotalTokens: 3000}
	p := Traced(scripted, tr, Pricing{"m": {InputPer1K: 0.01, OutputPer1K: 0.02}})

	ctx := context.Background()
	ctx, parent := tr.StartSpan(ctx, tracing.TypeSkill, "caller", nil)
	if _, err := p.Chat(ctx, UserPrompt("m", "", "question")); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if err := tr.EndSpan(ctx, parent, tracing.StatusSuccess); err != nil {
		t.Fatalf("end: %v", err)
	}

	spans, err := tr.List(context.Background(), tracing.Filter{TraceID: parent.TraceID(), Types: []tracing.SpanType{tracing.TypeLLMCall}})
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected one llm span, got %d (%v)", len(spans), err)
	}
	span := spans[0]
	if span.ParentID != parent.ID() {
		t.Errorf("llm span not nested under caller")
	}
	if span.Provider != "scripted" || span.Model != "m" || span.InputTokens != 1000 || span.OutputTokens != 2000 {
		t.Errorf("unexpected usage: %+v", span)
	}
	if math.Abs(span.CostUSD-0.05) > 1e-9 {
		t.Errorf("cost = %v, want 0.05", span.CostUSD)
	}
}

func TestTracedDefaultModelSpan(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaChat) {
		_ = json.NewEncoder(w).Encode(ollamaReply{
			Model:           req.Model,
			Message:         Message{Role: RoleAssistant, Content: "ok"},
			PromptEvalCount: 2,
			EvalCount:       1,
		})
	})
	tr := newTracer(t)
	p := Traced(NewOllama(srv.URL), tr, nil)

	ctx, parent := tr.StartSpan(context.Background(), tracing.TypeSkill, "caller", nil)
	if _, err := p.Chat(ctx, UserPrompt("", "", "hello")); err != nil {
		t.Fatalf("chat: %v", err)
	}
	_ = tr.EndSpan(ctx, parent, tracing.StatusSuccess)

	spans, err := tr.List(context.Background(), tracing.Filter{TraceID: parent.TraceID(), Types: []tracing.SpanType{tracing.TypeLLMCall}})
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected one llm span, got %d (%v)", len(spans), err)
	}
	span := spans[0]
	if span.Name != "llm:ollama" || span.Model != defaultOllamaModel {
		t.Fatalf("unexpected span name %q model %q", span.Name, span.Model)
	}
	if _, ok := span.Input["model"]; ok {
		t.Fatalf("empty model must not be recorded as input: %v", span.Input)
	}
}

func TestTracedWrapsErrors(t *testing.T) {
	tr := newTracer(t)
	p := Traced(&MockProvider{Err: errors.New("boom")}, tr, nil)

	_, err := p.Chat(context.Background(), UserPrompt("m", "", "q"))
	if !ferrors.IsCode(err, ferrors.CodeLLMError) {
		t.Fatalf("expected LLM error, got %v", err)
	}
	spans, _ := tr.Errors(context.Background(), 10)
	if len(spans) != 1 || spans[0].Error != "boom" {
		t.Fatalf("expected one error span, got %+v", spans)
	}
}

func ollamaServer(t *testing.T, handle func(w http.ResponseWriter, req ollamaChat)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChat
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handle(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaChat(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaChat) {
		if req.Stream || req.Options == nil || req.Options.NumPredict != 64 {
			http.Error(w, "bad options", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaReply{
			Model:           req.Model,
			Message:         Message{Role: RoleAssistant, Content: "hi"},
			DoneReason:      "stop",
			PromptEvalCount: 7,
			EvalCount:       3,
		})
	})

	req := UserPrompt("llama3", "", "hello")
	req.MaxTokens = 64
	resp, err := NewOllama(srv.URL + "/").Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hi" || resp.Usage.TotalTokens != 10 || resp.Model != "llama3" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOllamaDefaultModel(t *testing.T) {
	var got string
	srv := ollamaServer(t, func(w http.ResponseWriter, req ollamaChat) {
		got = req.Model
		_ = json.NewEncoder(w).Encode(ollamaReply{Message: Message{Role: RoleAssistant, Content: "ok"}})
	})

	resp, err := NewOllama(srv.URL, WithOllamaModel("qwen2.5")).Chat(context.Background(), UserPrompt("", "", "hello"))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "qwen2.5" || resp.Model != "qwen2.5" {
		t.Fatalf("expected default model, server saw %q, response %q", got, resp.Model)
	}
}

func TestOllamaErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		recoverable bool
		message     string
	}{
		{"overloaded", http.StatusServiceUnavailable, "overloaded", true, "overloaded"},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, true, "slow down"},
		{"unknown model", http.StatusNotFound, `{"error":"model 'nope' not found"}`, false, "model 'nope' not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ollamaServer(t, func(w http.ResponseWriter, _ ollamaChat) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := NewOllama(srv.URL).Chat(context.Background(), UserPrompt("nope", "", "hello"))
			if !ferrors.IsCode(err, ferrors.CodeLLMError) {
				t.Fatalf("expected LLM error, got %v", err)
			}
			if ferrors.IsRecoverable(err) != tt.recoverable {
				t.Fatalf("recoverable = %v, want %v", ferrors.IsRecoverable(err), tt.recoverable)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("error %q does not mention %q", err, tt.message)
			}
		})
	}
}
