// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// SQLiteStore persists spans in a SQLite table. Timestamps are stored as
// unix nanoseconds.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// The returned store owns the connection pool.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open span store %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStore wraps an existing database handle and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, stderrors.New("db is nil")
	}
	if err := ensureSpanSchema(db); err != nil {
		return nil, fmt.Errorf("span store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const spanColumns = `id, parent_id, trace_id, span_type, name, status, input_summary, output_summary,
	error, started_at, ended_at, duration_ms, tokens_in, tokens_out, cost_usd, model, provider, flags`

func (s *SQLiteStore) Save(ctx context.Context, w Write) error {
	if !w.Final {
		return insertSpan(ctx, s.db, w.Span, "ON CONFLICT(id) DO NOTHING")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range w.Ancestors {
		if err := insertSpan(ctx, tx, a, "ON CONFLICT(id) DO NOTHING"); err != nil {
			return err
		}
	}
	err = insertSpan(ctx, tx, w.Span, `ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		output_summary = excluded.output_summary,
		error = excluded.error,
		ended_at = excluded.ended_at,
		duration_ms = excluded.duration_ms,
		tokens_in = excluded.tokens_in,
		tokens_out = excluded.tokens_out,
		cost_usd = excluded.cost_usd,
		model = excluded.model,
		provider = excluded.provider,
		flags = excluded.flags
		WHERE spans.status = 'pending'`)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSpan(ctx context.Context, db execer, span Span, conflict string) error {
	input, err := encodeJSON(span.Input)
	if err != nil {
		return err
	}
	output, err := encodeJSON(span.Output)
	if err != nil {
		return err
	}
	flags, err := encodeJSON(span.Flags)
	if err != nil {
		return err
	}
	var ended sql.NullInt64
	if span.EndedAt != nil {
		ended = sql.NullInt64{Int64: span.EndedAt.UnixNano(), Valid: true}
	}
	_, err = db.ExecContext(ctx, `INSERT INTO spans (`+spanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) `+conflict,
		span.ID, span.ParentID, span.TraceID, string(span.Type), span.Name, string(span.Status),
		input, output, span.Error, span.StartedAt.UnixNano(), ended, span.DurationMs,
		span.InputTokens, span.OutputTokens, span.CostUSD, span.Model, span.Provider, flags,
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Span, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+spanColumns+` FROM spans WHERE id = ?`, id)
	span, err := scanSpan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Span{}, notFound(id)
	}
	return span, err
}

func (s *SQLiteStore) Descendants(ctx context.Context, id string) ([]Span, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM spans WHERE parent_id = ?
			UNION ALL
			SELECT s.id FROM spans s JOIN subtree ON s.parent_id = subtree.id
		)
		SELECT `+spanColumns+` FROM spans
		WHERE id IN (SELECT id FROM subtree)
		ORDER BY started_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Span, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	where, args := whereClause(f)
	query := `SELECT ` + spanColumns + ` FROM spans` + where + ` ORDER BY started_at DESC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (s *SQLiteStore) Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	// q.GroupBy is checked against groupByColumns by validate.
	where, args := whereClause(Filter{TraceID: q.TraceID, Types: q.Types, Status: q.Status, Since: q.Since, Until: q.Until})
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+q.GroupBy+` AS group_key,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(duration_ms), 0)
		FROM spans`+where+`
		GROUP BY group_key
		ORDER BY 6 DESC, group_key ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		if err := rows.Scan(&r.Key, &r.Count, &r.Errors, &r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []AggregateRow{}
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func whereClause(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, values ...any) {
		clauses = append(clauses, clause)
		args = append(args, values...)
	}
	if f.TraceID != "" {
		add("trace_id = ?", f.TraceID)
	}
	if f.RootsOnly {
		add("parent_id = ''")
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.Model != "" {
		add("model = ?", f.Model)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "span_type IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.Since.IsZero() {
		add("started_at >= ?", f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		add("started_at <= ?", f.Until.UnixNano())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpan(row scanner) (Span, error) {
	var (
		span                 Span
		spanType, status     string
		input, output, flags string
		started              int64
		ended                sql.NullInt64
	)
	err := row.Scan(&span.ID, &span.ParentID, &span.TraceID, &spanType, &span.Name, &status,
		&input, &output, &span.Error, &started, &ended, &span.DurationMs,
		&span.InputTokens, &span.OutputTokens, &span.CostUSD, &span.Model, &span.Provider, &flags)
	if err != nil {
		return Span{}, err
	}
	span.Type = SpanType(spanType)
	span.Status = Status(status)
	span.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		span.EndedAt = &t
	}
	span.Input = decodeMap(input)
	span.Output = decodeMap(output)
	if flags != "" {
		_ = json.Unmarshal([]byte(flags), &span.Flags)
	}
	return span, nil
}

func collectSpans(rows *sql.Rows) ([]Span, error) {
	defer rows.Close()
	out := make([]Span, 0)
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, span)
	}
	return out, rows.Err()
}

func encodeJSON(v any) (string, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return "", nil
		}
	case []string:
		if len(x) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.New(errors.CodeTracerWrite, "encode span payload", err)
	}
	return string(data), nil
}

func decodeMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"_raw": raw}
	}
	return out
}

func ensureSpanSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			trace_id TEXT NOT NULL,
			span_type TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			input_summary TEXT NOT NULL DEFAULT '',
			output_summary TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			duration_ms REAL NOT NULL DEFAULT 0,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			flags TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id);
		CREATE INDEX IF NOT EXISTS idx_spans_parent ON spans(parent_id);
		CREATE INDEX IF NOT EXISTS idx_spans_type ON spans(span_type);
		CREATE INDEX IF NOT EXISTS idx_spans_status ON spans(status);
		CREATE INDEX IF NOT EXISTS idx_spans_started ON spans(started_at);
	`)
	return err
}
