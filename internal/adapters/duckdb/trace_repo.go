package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const (
	traceColumns = `id, name, status, root_span_id, start_time, end_time, duration_ms, span_count`
	spanColumns  = `id, trace_id, parent_id, name, kind, status, input, output, error, attributes, start_time, end_time, duration_ms`
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SaveTrace upserts a run's trace. Its spans are replaced as a whole, so a
// trace saved again after more turns never keeps stale spans.
func (r *Repository) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO traces (`+traceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name        = excluded.name,
			status      = excluded.status,
			end_time    = excluded.end_time,
			duration_ms = excluded.duration_ms,
			span_count  = excluded.span_count`,
		string(trace.ID), trace.Name, string(trace.Status), string(trace.RootSpanID),
		trace.StartTime, trace.EndTime, trace.DurationMs, spanCount(trace),
	); err != nil {
		return fmt.Errorf("upsert trace %s: %w", trace.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE trace_id = ?`, string(trace.ID)); err != nil {
		return fmt.Errorf("clear spans of %s: %w", trace.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO spans (`+spanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare span insert: %w", err)
	}
	defer stmt.Close()

	for _, span := range trace.Spans {
		attrs, err := json.Marshal(span.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes of span %s: %w", span.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(span.ID), string(trace.ID), string(span.ParentID), span.Name,
			string(span.Kind), string(span.Status), span.Input, span.Output, span.Error,
			string(attrs), span.StartTime, span.EndTime, span.DurationMs,
		); err != nil {
			return fmt.Errorf("insert span %s: %w", span.ID, err)
		}
	}
	return tx.Commit()
}

// ListTraces returns the newest runs first.
func (r *Repository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+traceColumns+` FROM traces ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := []domain.TraceSummary{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.TraceSummary{
			ID:         t.ID,
			Name:       t.Name,
			Status:     t.Status,
			StartTime:  t.StartTime,
			DurationMs: t.DurationMs,
			SpanCount:  t.SpanCount,
		})
	}
	return out, rows.Err()
}

// GetTrace loads a trace with its spans in start order.
func (r *Repository) GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error) {
	t, err := scanTrace(r.db.QueryRowContext(ctx, `SELECT `+traceColumns+` FROM traces WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+spanColumns+` FROM spans WHERE trace_id = ? ORDER BY start_time, id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("load spans of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		t.Spans = append(t.Spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func spanCount(t *domain.Trace) int {
	if t.SpanCount > 0 {
		return t.SpanCount
	}
	return len(t.Spans)
}

func scanTrace(row rowScanner) (*domain.Trace, error) {
	var (
		t                  domain.Trace
		id, status, rootID string
	)
	if err := row.Scan(&id, &t.Name, &status, &rootID, &t.StartTime, &t.EndTime, &t.DurationMs, &t.SpanCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	t.ID = domain.TraceID(id)
	t.Status = domain.SpanStatus(status)
	t.RootSpanID = domain.SpanID(rootID)
	return &t, nil
}

func scanSpan(row rowScanner) (domain.Span, error) {
	var (
		s                                   domain.Span
		id, traceID, parentID, kind, status string
		attrs                               string
	)
	if err := row.Scan(&id, &traceID, &parentID, &s.Name, &kind, &status,
		&s.Input, &s.Output, &s.Error, &attrs, &s.StartTime, &s.EndTime, &s.DurationMs); err != nil {
		return s, fmt.Errorf("scan span: %w", err)
	}
	s.ID = domain.SpanID(id)
	s.TraceID = domain.TraceID(traceID)
	s.ParentID = domain.SpanID(parentID)
	s.Kind = domain.SpanKind(kind)
	s.Status = domain.SpanStatus(status)
	if attrs != "" && attrs != "null" {
		if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
			return s, fmt.Errorf("decode attributes of span %s: %w", id, err)
		}
	}
	return s, nil
}
