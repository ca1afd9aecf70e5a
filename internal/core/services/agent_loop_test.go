package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// scriptedBackend replays canned responses and records every request.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	contexts  [][]int
	err       error
	requests  []domain.GenerateRequest
}

func (s *scriptedBackend) Generate(_ context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return domain.GenerateResponse{}, s.err
	}
	i := len(s.requests) - 1
	text := "I am still thinking."
	if i < len(s.responses) {
		text = s.responses[i]
	}
	resp := domain.GenerateResponse{Text: text, Done: true}
	if i < len(s.contexts) {
		resp.Context = s.contexts[i]
	}
	return resp, nil
}

func echoTool(calls *[]domain.ToolArgs) *domain.Tool {
	return &domain.Tool{
		Name:        "search",
		Description: "searches the web",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
		Execute: func(_ context.Context, args domain.ToolArgs) (any, error) {
			*calls = append(*calls, args)
			raw := args.(domain.RawArgs)
			return "SOURCE: test\nDOCUMENT: result for " + raw["query"].(string), nil
		},
	}
}

func newTestLoop(t *testing.T, backend *scriptedBackend, bus *EventBus, cfg AgentConfig) (*AgentLoop, *[]domain.ToolArgs) {
	t.Helper()
	var calls []domain.ToolArgs
	reg := domain.NewToolRegistry(domain.WithRegistryLogger(quietLogger()))
	require.NoError(t, reg.Register(echoTool(&calls)))

	tracer := NewTraceCollector(quietLogger(), bus, nil)
	loop := NewAgentLoop(quietLogger(), backend, reg, NewActionParser(quietLogger(), false), QuestionPrompt(), tracer, bus, cfg)
	return loop, &calls
}

func TestAgentLoop_ToolCallThenFinalAnswer(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"Thought: I need to look this up.\nAction:\n{'action':'search','action_input':{'query':'Nobel Prize in Literature 2023'}}",
		"Final Answer: Jon Fosse won the 2023 Nobel Prize in Literature.",
	}}
	loop, calls := newTestLoop(t, backend, nil, AgentConfig{Model: "mistral"})

	res, err := loop.Run(context.Background(), "Who won the Nobel Prize in Literature 2023?")
	require.NoError(t, err)

	assert.Equal(t, "Jon Fosse won the 2023 Nobel Prize in Literature.", res.Answer)
	require.Len(t, res.Turns, 2)
	assert.Equal(t, domain.ActionToolCall, res.Turns[0].Action.Kind)
	assert.Contains(t, string(res.Turns[0].Observation), "result for Nobel Prize in Literature 2023")
	assert.Empty(t, res.Turns[0].Error)
	require.Len(t, *calls, 1)

	require.Len(t, backend.requests, 2)
	assert.Equal(t, "mistral", backend.requests[0].Model)
	assert.Contains(t, backend.requests[0].Prompt, "Here is the user input: Who won the Nobel Prize in Literature 2023?")
	assert.NotContains(t, backend.requests[0].Prompt, "Observation:")
	// the observation of turn 1 is fed into the prompt of turn 2
	assert.Contains(t, backend.requests[1].Prompt, "Observation: SOURCE: test\nDOCUMENT: result for Nobel Prize in Literature 2023")
	assert.NotEmpty(t, res.TraceID)
}

func TestAgentLoop_ErrorObservationKeepsLooping(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`Action: {"action": "web_lookup", "action_input": {"query": "x"}}`,
		`Action: {"action": "search", "action_input": {}}`,
		"Final Answer: gave up on tools",
	}}
	loop, calls := newTestLoop(t, backend, nil, AgentConfig{})

	res, err := loop.Run(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "gave up on tools", res.Answer)
	assert.Empty(t, *calls)

	require.Len(t, res.Turns, 3)
	assert.Contains(t, res.Turns[0].Error, domain.ErrUnknownTool.Error())
	assert.True(t, strings.HasPrefix(string(res.Turns[0].Observation), "Error: "))
	assert.Contains(t, res.Turns[1].Error, "missing required query")
	assert.Contains(t, backend.requests[1].Prompt, "Observation: Error: ")
}

func TestAgentLoop_MaxTurns(t *testing.T) {
	call := `Action: {"action": "search", "action_input": {"query": "again"}}`
	backend := &scriptedBackend{responses: []string{call, call, call, call}}
	loop, calls := newTestLoop(t, backend, nil, AgentConfig{MaxTurns: 3})

	res, err := loop.Run(context.Background(), "loop forever")
	require.ErrorIs(t, err, domain.ErrMaxTurns)
	require.NotNil(t, res)
	assert.Empty(t, res.Answer)
	assert.Len(t, res.Turns, 3)
	assert.Len(t, *calls, 3)
	assert.Len(t, backend.requests, 3)
}

func TestAgentLoop_NoProgress(t *testing.T) {
	backend := &scriptedBackend{}
	loop, _ := newTestLoop(t, backend, nil, AgentConfig{MaxTurns: 10, MaxIdleTurns: 2})

	res, err := loop.Run(context.Background(), "q")
	require.ErrorIs(t, err, domain.ErrNoProgress)
	require.NotNil(t, res)
	assert.Len(t, res.Turns, 2)
}

func TestAgentLoop_MalformedActionCountsAsIdle(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"Action:\n{'action': 'search', 'action_input': {'query': 'unterminated'",
		"Final Answer: ok",
	}}
	bus := NewEventBus(quietLogger())
	events, unsub := bus.Subscribe(AllTopics)
	defer unsub()

	loop, _ := newTestLoop(t, backend, bus, AgentConfig{MaxIdleTurns: 3})
	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
	assert.True(t, res.Turns[0].Action.Malformed)

	var sawMalformed bool
	for len(events) > 0 {
		e := <-events
		if e.Type == EventTypeStep && strings.Contains(e.Data, `"kind":"malformed"`) {
			sawMalformed = true
		}
	}
	assert.True(t, sawMalformed)
}

func TestAgentLoop_BackendFailure(t *testing.T) {
	backend := &scriptedBackend{err: errors.New("connection refused")}
	loop, _ := newTestLoop(t, backend, nil, AgentConfig{})

	res, err := loop.Run(context.Background(), "q")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.ErrorContains(t, err, "connection refused")
}

func TestAgentLoop_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop, _ := newTestLoop(t, &scriptedBackend{}, nil, AgentConfig{})
	_, err := loop.Run(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestAgentLoop_EmptyQuestion(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedBackend{}, nil, AgentConfig{})
	_, err := loop.Run(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestAgentLoop_PriorContext(t *testing.T) {
	backend := &scriptedBackend{
		responses: []string{`Action: {"action": "search", "action_input": {"query": "a"}}`, "Final Answer: done"},
		contexts:  [][]int{{1, 2}, {1, 2, 3, 4}},
	}
	loop, _ := newTestLoop(t, backend, nil, AgentConfig{})

	res, err := loop.RunWith(context.Background(), RunInput{Question: "q", PriorContext: []int{9}})
	require.NoError(t, err)

	// every turn of a run starts from the caller's context
	for _, req := range backend.requests {
		assert.Equal(t, []int{9}, req.Context)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, res.Context)
}

func TestSession_CarriesHistory(t *testing.T) {
	backend := &scriptedBackend{
		responses: []string{"Final Answer: Paris", "Final Answer: about 2.1 million"},
		contexts:  [][]int{{7}, {8}},
	}
	loop, _ := newTestLoop(t, backend, nil, AgentConfig{})
	session := NewSession(loop, 1, true)

	_, err := session.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	res, err := session.Ask(context.Background(), "How many people live there?")
	require.NoError(t, err)
	assert.Equal(t, "about 2.1 million", res.Answer)

	second := backend.requests[1]
	assert.Contains(t, second.Prompt, "User: What is the capital of France?\nAssistant: Paris")
	assert.Equal(t, []int{7}, second.Context)

	// history is capped at one exchange
	history := session.History()
	require.Len(t, history, 1)
	assert.Equal(t, "How many people live there?", history[0].Question)

	session.Reset()
	assert.Empty(t, session.History())
}
