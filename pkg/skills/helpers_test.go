package skills

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/agentfactory/pkg/tracing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *tracing.Tracer) {
	t.Helper()
	cfg := tracing.DefaultConfig()
	cfg.WriteInitialDelay = time.Millisecond
	tr := tracing.New(cfg, tracing.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	all := append([]ExecutorOption{WithLogger(quietLogger())}, opts...)
	return NewExecutor(tr, all...), tr
}

func mustSpan(t *testing.T, tr *tracing.Tracer, id string) tracing.Span {
	t.Helper()
	span, err := tr.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get span %s: %v", id, err)
	}
	return span
}

func requiredParamMeta(name string) Metadata {
	return Metadata{
		Name:    name,
		Version: "1.0.0",
		Inputs: Schema{
			Type: "object",
			Properties: map[string]Property{
				"required_param": {Type: "string"},
				"count":          {Type: "integer", Default: 42},
			},
			Required: []string{"required_param"},
		},
	}
}

// processSkill returns {"processed": required_param, "count": count} and
// counts how often its logic ran.
func processSkill(calls *atomic.Int64) Skill {
	return NewFunc(requiredParamMeta("process"), func(_ context.Context, in map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"processed": in["required_param"], "count": in["count"]}, nil
	})
}
