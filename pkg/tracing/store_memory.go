// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps spans in process memory. It is the default store and the
// reference behavior for SQLiteStore.
type MemoryStore struct {
	mu       sync.RWMutex
	spans    map[string]Span
	children map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spans:    make(map[string]Span),
		children: make(map[string][]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, w Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Final {
		for _, a := range w.Ancestors {
			if _, ok := s.spans[a.ID]; !ok {
				s.put(a)
			}
		}
	}
	existing, ok := s.spans[w.Span.ID]
	switch {
	case !ok:
		s.put(w.Span)
	case w.Final && existing.Status == StatusPending:
		s.spans[w.Span.ID] = w.Span.clone()
	}
	return nil
}

func (s *MemoryStore) put(span Span) {
	s.spans[span.ID] = span.clone()
	if span.ParentID != "" {
		s.children[span.ParentID] = append(s.children[span.ParentID], span.ID)
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	span, ok := s.spans[id]
	if !ok {
		return Span{}, notFound(id)
	}
	return span.clone(), nil
}

func (s *MemoryStore) Descendants(_ context.Context, id string) ([]Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.spans[id]; !ok {
		return nil, notFound(id)
	}
	var out []Span
	queue := slices.Clone(s.children[id])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, s.spans[next].clone())
		queue = append(queue, s.children[next]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Span, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Span, 0)
	for _, span := range s.spans {
		if matches(span, f) {
			out = append(out, span.clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Aggregate(_ context.Context, q AggregateQuery) ([]AggregateRow, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	f := Filter{TraceID: q.TraceID, Types: q.Types, Status: q.Status, Since: q.Since, Until: q.Until}
	groups := make(map[string]*AggregateRow)
	s.mu.RLock()
	for _, span := range s.spans {
		if !matches(span, f) {
			continue
		}
		key := groupKey(span, q.GroupBy)
		row, ok := groups[key]
		if !ok {
			row = &AggregateRow{Key: key}
			groups[key] = row
		}
		row.Count++
		if span.Status == StatusError {
			row.Errors++
		}
		row.InputTokens += int64(span.InputTokens)
		row.OutputTokens += int64(span.OutputTokens)
		row.CostUSD += span.CostUSD
		row.DurationMs += span.DurationMs
	}
	s.mu.RUnlock()
	return sortedRows(groups), nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored spans.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

func matches(span Span, f Filter) bool {
	if f.TraceID != "" && span.TraceID != f.TraceID {
		return false
	}
	if f.RootsOnly && span.ParentID != "" {
		return false
	}
	if f.Status != "" && span.Status != f.Status {
		return false
	}
	if f.Model != "" && span.Model != f.Model {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, span.Type) {
		return false
	}
	if !f.Since.IsZero() && span.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && span.StartedAt.After(f.Until) {
		return false
	}
	return true
}

func groupKey(span Span, groupBy string) string {
	switch groupBy {
	case GroupByModel:
		return span.Model
	case GroupByProvider:
		return span.Provider
	case GroupByStatus:
		return string(span.Status)
	case GroupByName:
		return span.Name
	case GroupByTrace:
		return span.TraceID
	default:
		return string(span.Type)
	}
}

func sortNewestFirst(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartedAt.Equal(spans[j].StartedAt) {
			return spans[i].ID < spans[j].ID
		}
		return spans[i].StartedAt.After(spans[j].StartedAt)
	})
}

func sortedRows(groups map[string]*AggregateRow) []AggregateRow {
	rows := make([]AggregateRow, 0, len(groups))
	for _, r := range groups {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CostUSD != rows[j].CostUSD {
			return rows[i].CostUSD > rows[j].CostUSD
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}
