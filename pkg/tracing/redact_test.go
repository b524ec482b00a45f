package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestRedactorString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact ana@example.com today", "contact [EMAIL] today"},
		{"card", "card 4111-1111-1111-1111", "card [CREDIT_CARD]"},
		{"ssn", "ssn 123-45-6789", "ssn [SSN]"},
		{"ip", "from 10.0.0.12", "from [IP_ADDRESS]"},
		{"phone", "call 555-123-4567", "call [PHONE]"},
		{"clean", "nothing to hide", "nothing to hide"},
	}
	r := NewRedactor(RedactMask)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.String(tt.in); got != tt.want {
				t.Fatalf("String(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactorHashIsStable(t *testing.T) {
	r := NewRedactor(RedactHash)
	a := r.String("a@example.com")
	b := r.String("a@example.com")
	c := r.String("b@example.com")
	if a != b || a == c || !strings.HasPrefix(a, "[EMAIL_") {
		t.Fatalf("unexpected hashes %q %q %q", a, b, c)
	}
}

func TestRedactorOptions(t *testing.T) {
	r := NewRedactor(RedactMask, WithPIIKinds(PIIEmail), WithPattern("ticket", `TCK-[0-9]+`, "[TICKET]"))
	got := r.String("a@b.io 555-123-4567 TCK-42")
	if got != "[EMAIL] 555-123-4567 [TICKET]" {
		t.Fatalf("unexpected %q", got)
	}
	var nilRedactor *Redactor
	if nilRedactor.String("a@b.io") != "a@b.io" {
		t.Fatal("nil redactor must pass through")
	}
}

func TestTracerRedactsPayloads(t *testing.T) {
	tr, _ := newTestTracer(t, WithRedactor(NewRedactor(RedactMask)))
	ctx := context.Background()

	in := map[string]any{
		"to":    "ana@example.com",
		"count": 3,
		"cc":    []any{"bo@example.com", map[string]any{"ip": "192.168.1.1"}},
	}
	cctx, h := tr.StartSpan(ctx, TypeToolCall, "send_mail", in)
	if err := tr.EndSpan(cctx, h, StatusError, WithErrorMessage("bounce from ana@example.com")); err != nil {
		t.Fatalf("end: %v", err)
	}
	span := mustGet(t, tr, h.ID())

	if span.Input["to"] != "[EMAIL]" || span.Input["count"] != float64(3) {
		t.Fatalf("unexpected input %v", span.Input)
	}
	cc := span.Input["cc"].([]any)
	if cc[0] != "[EMAIL]" || cc[1].(map[string]any)["ip"] != "[IP_ADDRESS]" {
		t.Fatalf("nested values not redacted: %v", cc)
	}
	if span.Error != "bounce from [EMAIL]" {
		t.Fatalf("unexpected error %q", span.Error)
	}
	if in["to"] != "ana@example.com" {
		t.Fatal("caller's map was modified")
	}
}
