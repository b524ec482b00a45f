package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ferrors "github.com/jllopis/agentfactory/pkg/errors"
)

type captureReporter struct {
	mu      sync.Mutex
	reports []report
}

type report struct {
	err  error
	span Span
}

func (c *captureReporter) Report(_ context.Context, err error, span Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report{err: err, span: span})
}

func (c *captureReporter) count(code ferrors.ErrorCode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.reports {
		if ferrors.IsCode(r.err, code) {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyStore fails the first n saves, then delegates.
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakyStore) Save(ctx context.Context, w Write) error {
	s.mu.Lock()
	s.calls++
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.MemoryStore.Save(ctx, w)
}

// blockingStore holds every save until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, w Write) error {
	<-s.release
	return s.MemoryStore.Save(ctx, w)
}

func testConfig() Config {
	return Config{
		Workers:           4,
		WriteAttempts:     3,
		WriteInitialDelay: time.Millisecond,
		WriteMaxDelay:     2 * time.Millisecond,
		OrphanAfter:       time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracer(t *testing.T, opts ...Option) (*Tracer, *captureReporter) {
	t.Helper()
	rep := &captureReporter{}
	all := append([]Option{WithReporter(rep), WithLogger(quietLogger())}, opts...)
	tr := New(testConfig(), all...)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr, rep
}

func mustGet(t *testing.T, tr *Tracer, id string) Span {
	t.Helper()
	span, err := tr.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return span
}
