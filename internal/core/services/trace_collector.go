package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const (
	maxTraces      = 200
	maxInputOutput = 2000
)

// TraceRepository is the minimal persistence interface needed by TraceCollector.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
}

// TraceEvent is published on the event bus when a span or trace ends.
type TraceEvent struct {
	Event      string            `json:"event"` // span_end or trace_end
	TraceID    domain.TraceID    `json:"trace_id"`
	Name       string            `json:"name,omitempty"`
	Kind       domain.SpanKind   `json:"kind,omitempty"`
	Status     domain.SpanStatus `json:"status"`
	DurationMs int64             `json:"duration_ms"`
}

// traceEntry is one trace with its spans in creation order.
type traceEntry struct {
	trace *domain.Trace
	spans []*domain.Span
	topic string
}

// TraceCollector times runs and their LLM, tool and retrieval steps.
// A nil *TraceCollector is a valid no-op collector.
type TraceCollector struct {
	mu     sync.RWMutex
	logger *slog.Logger
	bus    *EventBus
	repo   TraceRepository

	entries map[domain.TraceID]*traceEntry
	spans   map[domain.SpanID]*domain.Span
	order   []domain.TraceID
}

// NewTraceCollector creates a collector. bus and repo may be nil; with a repo
// every finished trace is saved before EndTrace returns.
func NewTraceCollector(logger *slog.Logger, bus *EventBus, repo TraceRepository) *TraceCollector {
	return &TraceCollector{
		logger:  logger,
		bus:     bus,
		repo:    repo,
		entries: make(map[domain.TraceID]*traceEntry),
		spans:   make(map[domain.SpanID]*domain.Span),
	}
}

type traceCtxKey struct{}

type traceCtx struct {
	trace domain.TraceID
	span  domain.SpanID
}

// ContextWithTrace makes spanID the parent of spans started from ctx.
func ContextWithTrace(ctx context.Context, traceID domain.TraceID, spanID domain.SpanID) context.Context {
	return context.WithValue(ctx, traceCtxKey{}, traceCtx{trace: traceID, span: spanID})
}

// TraceFromContext returns the trace and current span carried by ctx.
func TraceFromContext(ctx context.Context) (domain.TraceID, domain.SpanID, bool) {
	tc, ok := ctx.Value(traceCtxKey{}).(traceCtx)
	return tc.trace, tc.span, ok
}

// StartTrace opens a trace with a root span. Events of the trace go to the
// run's topic when attrs carries a run_id.
func (tc *TraceCollector) StartTrace(ctx context.Context, name string, attrs map[string]string) (context.Context, domain.TraceID) {
	if tc == nil {
		return ctx, ""
	}
	traceID := domain.TraceID(uuid.NewString())
	root := &domain.Span{
		ID:         domain.SpanID(uuid.NewString()),
		TraceID:    traceID,
		Name:       name,
		Kind:       domain.SpanKindAgent,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  time.Now(),
	}
	entry := &traceEntry{
		trace: &domain.Trace{
			ID:         traceID,
			RootSpanID: root.ID,
			Name:       name,
			Status:     domain.SpanStatusRunning,
			StartTime:  root.StartTime,
			SpanCount:  1,
		},
		spans: []*domain.Span{root},
		topic: "trace:" + string(traceID),
	}
	if runID := attrs["run_id"]; runID != "" {
		entry.topic = runID
	}

	tc.mu.Lock()
	tc.evictLocked()
	tc.entries[traceID] = entry
	tc.spans[root.ID] = root
	tc.order = append(tc.order, traceID)
	tc.mu.Unlock()

	tc.logger.Debug("trace started", "trace_id", string(traceID), "name", name)
	return ContextWithTrace(ctx, traceID, root.ID), traceID
}

// EndTrace closes the root span and saves the trace.
func (tc *TraceCollector) EndTrace(ctx context.Context, traceID domain.TraceID, status domain.SpanStatus, errMsg string) {
	if tc == nil || traceID == "" {
		return
	}
	tc.mu.Lock()
	entry, ok := tc.entries[traceID]
	if !ok {
		tc.mu.Unlock()
		return
	}
	now := time.Now()
	entry.trace.Status = status
	entry.trace.EndTime = &now
	entry.trace.DurationMs = now.Sub(entry.trace.StartTime).Milliseconds()
	finishSpan(entry.spans[0], now, status, "", errMsg)
	snapshot := entry.snapshot()
	tc.mu.Unlock()

	tc.publish(entry.topic, TraceEvent{Event: "trace_end", TraceID: traceID, Name: snapshot.Name, Status: status, DurationMs: snapshot.DurationMs})

	if tc.repo == nil {
		return
	}
	if err := tc.repo.SaveTrace(context.WithoutCancel(ctx), snapshot); err != nil {
		tc.logger.Warn("failed to persist trace", "trace_id", string(traceID), "error", err)
	}
}

// StartSpan opens a child of the span carried by ctx. Without a trace in ctx
// it returns ctx unchanged and an empty id.
func (tc *TraceCollector) StartSpan(ctx context.Context, name string, kind domain.SpanKind, input string) (context.Context, domain.SpanID) {
	if tc == nil {
		return ctx, ""
	}
	traceID, parentID, ok := TraceFromContext(ctx)
	if !ok {
		return ctx, ""
	}
	span := &domain.Span{
		ID:        domain.SpanID(uuid.NewString()),
		ParentID:  parentID,
		TraceID:   traceID,
		Name:      name,
		Kind:      kind,
		Status:    domain.SpanStatusRunning,
		Input:     truncate(input, maxInputOutput),
		StartTime: time.Now(),
	}

	tc.mu.Lock()
	entry, ok := tc.entries[traceID]
	if ok {
		entry.spans = append(entry.spans, span)
		entry.trace.SpanCount++
		tc.spans[span.ID] = span
	}
	tc.mu.Unlock()
	if !ok {
		// trace was evicted while the run was still going
		return ctx, ""
	}
	return ContextWithTrace(ctx, traceID, span.ID), span.ID
}

// EndSpan closes a span; a non-nil err marks it failed.
func (tc *TraceCollector) EndSpan(spanID domain.SpanID, output string, err error) {
	if tc == nil || spanID == "" {
		return
	}
	status, errMsg := domain.SpanStatusOK, ""
	if err != nil {
		status, errMsg = domain.SpanStatusError, err.Error()
	}

	tc.mu.Lock()
	span, ok := tc.spans[spanID]
	var (
		evt   TraceEvent
		topic string
	)
	if ok {
		finishSpan(span, time.Now(), status, output, errMsg)
		evt = TraceEvent{Event: "span_end", TraceID: span.TraceID, Name: span.Name, Kind: span.Kind, Status: status, DurationMs: span.DurationMs}
		if entry, found := tc.entries[span.TraceID]; found {
			topic = entry.topic
		}
	}
	tc.mu.Unlock()

	if ok {
		tc.publish(topic, evt)
	}
}

// ListTraces returns summaries of recent traces, newest first.
func (tc *TraceCollector) ListTraces(limit int) []domain.TraceSummary {
	if tc == nil {
		return nil
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if limit <= 0 || limit > len(tc.order) {
		limit = len(tc.order)
	}
	out := make([]domain.TraceSummary, 0, limit)
	for _, id := range slices.Backward(tc.order) {
		if len(out) == limit {
			break
		}
		t := tc.entries[id].trace
		out = append(out, domain.TraceSummary{
			ID:         t.ID,
			Name:       t.Name,
			Status:     t.Status,
			StartTime:  t.StartTime,
			DurationMs: t.DurationMs,
			SpanCount:  t.SpanCount,
		})
	}
	return out
}

// GetTrace returns a copy of a trace with its spans ordered by start time.
func (tc *TraceCollector) GetTrace(traceID domain.TraceID) (*domain.Trace, error) {
	if tc == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	entry, ok := tc.entries[traceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
	}
	return entry.snapshot(), nil
}

func (e *traceEntry) snapshot() *domain.Trace {
	cp := *e.trace
	cp.Spans = make([]domain.Span, len(e.spans))
	for i, s := range e.spans {
		cp.Spans[i] = *s
	}
	slices.SortStableFunc(cp.Spans, func(a, b domain.Span) int { return a.StartTime.Compare(b.StartTime) })
	return &cp
}

func (tc *TraceCollector) evictLocked() {
	for len(tc.order) >= maxTraces {
		oldest := tc.order[0]
		tc.order = tc.order[1:]
		if entry, ok := tc.entries[oldest]; ok {
			for _, s := range entry.spans {
				delete(tc.spans, s.ID)
			}
		}
		delete(tc.entries, oldest)
	}
}

func (tc *TraceCollector) publish(topic string, evt TraceEvent) {
	if tc.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	tc.bus.Publish(Event{Topic: topic, Type: EventTypeTrace, Data: string(payload)})
}

func finishSpan(span *domain.Span, now time.Time, status domain.SpanStatus, output, errMsg string) {
	span.Status = status
	span.EndTime = &now
	span.DurationMs = now.Sub(span.StartTime).Milliseconds()
	if output != "" {
		span.Output = truncate(output, maxInputOutput)
	}
	if errMsg != "" {
		span.Error = errMsg
	}
}
