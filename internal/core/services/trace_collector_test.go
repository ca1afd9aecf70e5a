package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/core/domain"
)

type mockTraceRepo struct{ mock.Mock }

func (m *mockTraceRepo) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	return m.Called(ctx, trace).Error(0)
}

func TestTraceCollector_SpansNestUnderTrace(t *testing.T) {
	repo := &mockTraceRepo{}
	repo.On("SaveTrace", mock.Anything, mock.MatchedBy(func(tr *domain.Trace) bool {
		return tr.Status == domain.SpanStatusOK && len(tr.Spans) == 3
	})).Return(nil).Once()

	tc := NewTraceCollector(quietLogger(), nil, repo)

	ctx, traceID := tc.StartTrace(context.Background(), "run: q", map[string]string{"model": "mistral"})
	require.NotEmpty(t, traceID)

	toolCtx, toolSpan := tc.StartSpan(ctx, "tool.search", domain.SpanKindTool, "q")
	_, fetchSpan := tc.StartSpan(toolCtx, "fetch", domain.SpanKindFetch, "https://example.com")
	tc.EndSpan(fetchSpan, "", errors.New("timeout"))
	tc.EndSpan(toolSpan, "observation", nil)
	tc.EndTrace(ctx, traceID, domain.SpanStatusOK, "")

	trace, err := tc.GetTrace(traceID)
	require.NoError(t, err)
	assert.Equal(t, 3, trace.SpanCount)
	require.Len(t, trace.Spans, 3)

	byName := make(map[string]domain.Span)
	for _, sp := range trace.Spans {
		byName[sp.Name] = sp
	}
	root, tool, fetch := byName["run: q"], byName["tool.search"], byName["fetch"]
	assert.Equal(t, trace.RootSpanID, root.ID)
	assert.Equal(t, root.ID, tool.ParentID)
	assert.Equal(t, tool.ID, fetch.ParentID)
	assert.Equal(t, domain.SpanStatusError, fetch.Status)
	assert.Equal(t, "timeout", fetch.Error)
	assert.Equal(t, "observation", tool.Output)
	assert.NotNil(t, trace.EndTime)

	repo.AssertExpectations(t)
}

func TestTraceCollector_SpanWithoutTrace(t *testing.T) {
	tc := NewTraceCollector(quietLogger(), nil, nil)

	ctx := context.Background()
	got, spanID := tc.StartSpan(ctx, "orphan", domain.SpanKindTool, "")
	assert.Empty(t, spanID)
	assert.Equal(t, ctx, got)
	tc.EndSpan(spanID, "", nil)
}

func TestTraceCollector_ListNewestFirst(t *testing.T) {
	tc := NewTraceCollector(quietLogger(), nil, nil)

	_, first := tc.StartTrace(context.Background(), "first", nil)
	_, second := tc.StartTrace(context.Background(), "second", nil)

	list := tc.ListTraces(0)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
	assert.Len(t, tc.ListTraces(1), 1)

	_, err := tc.GetTrace("missing")
	assert.ErrorIs(t, err, domain.ErrTraceNotFound)
}

func TestTraceCollector_EventsFollowRunTopic(t *testing.T) {
	bus := NewEventBus(quietLogger())
	events, unsub := bus.Subscribe("run-1")
	defer unsub()

	tc := NewTraceCollector(quietLogger(), bus, nil)
	ctx, id := tc.StartTrace(context.Background(), "run", map[string]string{"run_id": "run-1"})
	_, span := tc.StartSpan(ctx, "tool.convert_time", domain.SpanKindTool, "1:00")
	tc.EndSpan(span, "3600", nil)
	tc.EndTrace(ctx, id, domain.SpanStatusOK, "")

	var got []TraceEvent
	for range 2 {
		e := <-events
		assert.Equal(t, EventTypeTrace, e.Type)
		var evt TraceEvent
		require.NoError(t, json.Unmarshal([]byte(e.Data), &evt))
		got = append(got, evt)
	}
	assert.Equal(t, "span_end", got[0].Event)
	assert.Equal(t, "tool.convert_time", got[0].Name)
	assert.Equal(t, "trace_end", got[1].Event)
	assert.Equal(t, id, got[1].TraceID)
}

func TestTraceCollector_Evicts(t *testing.T) {
	tc := NewTraceCollector(quietLogger(), nil, nil)

	_, oldest := tc.StartTrace(context.Background(), "oldest", nil)
	for i := 0; i < maxTraces; i++ {
		tc.StartTrace(context.Background(), "t", nil)
	}
	assert.Len(t, tc.ListTraces(0), maxTraces)
	_, err := tc.GetTrace(oldest)
	assert.Error(t, err)
}

func TestTraceCollector_PersistFailureIsLogged(t *testing.T) {
	repo := &mockTraceRepo{}
	repo.On("SaveTrace", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	tc := NewTraceCollector(quietLogger(), nil, repo)
	ctx, id := tc.StartTrace(context.Background(), "run", nil)
	assert.NotPanics(t, func() { tc.EndTrace(ctx, id, domain.SpanStatusError, "boom") })

	trace, err := tc.GetTrace(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SpanStatusError, trace.Status)
	require.Len(t, trace.Spans, 1)
	assert.Equal(t, "boom", trace.Spans[0].Error)
}

func TestTraceCollector_NilIsNoop(t *testing.T) {
	var tc *TraceCollector
	ctx, id := tc.StartTrace(context.Background(), "x", nil)
	assert.Empty(t, id)
	_, span := tc.StartSpan(ctx, "y", domain.SpanKindLLM, "")
	assert.Empty(t, span)
	tc.EndSpan(span, "", nil)
	tc.EndTrace(ctx, id, domain.SpanStatusOK, "")
	assert.Nil(t, tc.ListTraces(10))
}
