package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/config"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/services"
)

// ollamaStub answers /api/generate with responses in order, repeating the
// last one, and records the prompts it was sent.
type ollamaStub struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (s *ollamaStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	text := s.responses[min(len(s.prompts), len(s.responses))-1]
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"response": text, "done": true})
}

func (s *ollamaStub) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// isolate keeps config files and legacy environment variables of the host
// out of the test and points the LLM at stub.
func isolate(t *testing.T, stub *ollamaStub) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for _, name := range []string{"USE_MODEL", "OLLAMA_HOST", "OPENAI_API_KEY", "BRAVE_SEARCH_API_KEY", "QSEARCH_VERBOSE", "QSEARCH_RUNTIME"} {
		t.Setenv(name, "")
	}
	if stub != nil {
		srv := httptest.NewServer(stub)
		t.Cleanup(srv.Close)
		t.Setenv("QAGENT_PROVIDERS_LLM_LOCAL_URL", srv.URL)
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAsk(t *testing.T) {
	stub := &ollamaStub{responses: []string{"Thought: I know this.\nFinal Answer: 42"}}
	isolate(t, stub)

	out, _, err := runCLI(t, "", "ask", "--plain", "what", "is", "the", "answer?")
	require.NoError(t, err)
	assert.Equal(t, "Answer:\n42\n", out)

	prompts := stub.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "what is the answer?")
	assert.Contains(t, prompts[0], "convert_time")
}

func TestAsk_QuestionFromStdin(t *testing.T) {
	stub := &ollamaStub{responses: []string{"Final Answer: ok"}}
	isolate(t, stub)

	out, _, err := runCLI(t, "how long is 1:00:00?\n", "ask", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, stub.Prompts()[0], "how long is 1:00:00?")
}

func TestAsk_ToolThenAnswer(t *testing.T) {
	stub := &ollamaStub{responses: []string{
		`Action: {"action": "convert_time", "action_input": {"time": "1:30:00"}}`,
		"Final Answer: 5400 seconds",
	}}
	isolate(t, stub)

	out, _, err := runCLI(t, "", "ask", "--plain", "--time", "how many seconds in 1:30:00?")
	require.NoError(t, err)
	assert.Contains(t, out, "5400 seconds")
	assert.Contains(t, out, "took ")

	prompts := stub.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "1:30:00 is 5400 seconds")
}

func TestAsk_GivesUp(t *testing.T) {
	stub := &ollamaStub{responses: []string{"I am still thinking about it."}}
	isolate(t, stub)
	t.Setenv("QAGENT_AGENT_MAX_TURNS", "2")

	out, _, err := runCLI(t, "", "ask", "--plain", "question")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMaxTurns) || errors.Is(err, domain.ErrNoProgress), "got %v", err)
	assert.Contains(t, out, "Error: ")
	assert.LessOrEqual(t, len(stub.Prompts()), 2)
}

func TestAsk_ModelFlag(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "Final Answer: hi", "done": true})
	}))
	defer srv.Close()
	isolate(t, nil)
	t.Setenv("QAGENT_PROVIDERS_LLM_LOCAL_URL", srv.URL)

	_, _, err := runCLI(t, "", "ask", "--plain", "-m", "llama3", "hello")
	require.NoError(t, err)
	assert.Equal(t, "llama3", model)
}

func TestChat(t *testing.T) {
	stub := &ollamaStub{responses: []string{"Final Answer: Paris", "Final Answer: about 2 million"}}
	isolate(t, stub)

	out, _, err := runCLI(t, "capital of France?\n\nand its population?\nexit\nignored\n", "chat", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris")
	assert.Contains(t, out, "about 2 million")

	prompts := stub.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "capital of France?")
	assert.Contains(t, prompts[1], "Paris")
}

func TestChat_Reset(t *testing.T) {
	stub := &ollamaStub{responses: []string{"Final Answer: Paris", "Final Answer: fine"}}
	isolate(t, stub)

	out, _, err := runCLI(t, "capital of France?\nreset\nhow are you?\n", "chat", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "conversation cleared")

	prompts := stub.Prompts()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[1], "capital of France?")
}

func TestDraw_DryRun(t *testing.T) {
	stub := &ollamaStub{responses: []string{
		`Action: {"action": "draw", "action_input": {"instructions": [{"set_color": "red"}, {"draw_line": [0, 0, 10, 10]}]}}`,
		"Final Answer: a red line",
	}}
	isolate(t, stub)

	out, _, err := runCLI(t, "", "draw", "--plain", "--dry-run", "a", "line")
	require.NoError(t, err)
	assert.Contains(t, out, "executed 2 drawing instruction(s)")
	assert.Contains(t, out, "a red line")
	assert.Contains(t, out, "line (0,0) (10,10) red")
}

func TestTools(t *testing.T) {
	isolate(t, nil)

	out, _, err := runCLI(t, "", "tools", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "ask, chat, serve:\n")
	assert.Contains(t, out, "- search: ")
	assert.Contains(t, out, "- convert_time: ")
	assert.Contains(t, out, "draw:\n    - draw: ")
}

func TestSecret_RoundTrip(t *testing.T) {
	isolate(t, nil)
	t.Setenv("QAGENT_SECRET_KEY", "test-master-key")

	out, _, err := runCLI(t, "", "secret", "encrypt", "sk-abc")
	require.NoError(t, err)
	enc := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(enc, "enc:"), enc)

	out, _, err = runCLI(t, "", "secret", "decrypt", enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc\n", out)
}

func TestLoad_EncryptedKeyInConfig(t *testing.T) {
	isolate(t, nil)
	t.Setenv("QAGENT_SECRET_KEY", "test-master-key")
	key, err := config.NewSecretKey("")
	require.NoError(t, err)
	enc, err := key.Encrypt("brave-secret")
	require.NoError(t, err)
	t.Setenv("QAGENT_SEARCH_BRAVE_API_KEY", enc)

	a := &app{stdin: strings.NewReader(""), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	root := NewRootCommand(a.stdin, a.stdout, a.stderr)
	require.NoError(t, a.load(root.PersistentFlags()))
	assert.Equal(t, "brave-secret", a.cfg.Search.BraveAPIKey)
}

func TestUnknownFlagFails(t *testing.T) {
	isolate(t, nil)
	_, _, err := runCLI(t, "", "ask", "--no-such-flag")
	assert.Error(t, err)
}

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 0, true)
	assert.Equal(t, 62, r.width)

	r.Label("Answer:")
	r.Answer("  forty two \n")
	r.Sources([]domain.RetrievedChunk{
		{Source: "https://a.example"},
		{Source: "https://a.example"},
		{Source: "https://b.example"},
	})
	r.Error(errors.New("boom"))
	assert.Equal(t,
		"Answer:\nforty two\nSources:\n  https://a.example\n  https://b.example\nError: boom\n",
		buf.String())
}

func TestRenderer_Timing(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 40, true)
	start := time.Now()
	r.Timing(1500*time.Millisecond, &domain.Trace{
		RootSpanID: "root",
		Spans: []domain.Span{
			{ID: "b", Name: "tool.convert_time", StartTime: start.Add(time.Second), DurationMs: 2},
			{ID: "root", Name: "agent.run", StartTime: start, DurationMs: 1500},
			{ID: "a", Name: "llm.generate (turn 1)", StartTime: start.Add(time.Millisecond), DurationMs: 900},
		},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "took 1.5s", lines[0])
	assert.Contains(t, lines[1], "llm.generate (turn 1)")
	assert.Contains(t, lines[2], "tool.convert_time")
}

func TestRenderer_Step(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, 40, true)
	emit := func(step domain.StepEvent) {
		data, err := json.Marshal(step)
		require.NoError(t, err)
		r.Step(services.Event{Type: services.EventTypeStep, Data: string(data)})
	}
	emit(domain.StepEvent{Turn: 1, Kind: domain.StepPrompt, Text: "a very long prompt"})
	emit(domain.StepEvent{Turn: 1, Kind: domain.StepToolCall, Tool: "search"})
	r.Step(services.Event{Type: services.EventTypeTrace, Data: "{}"})

	assert.Equal(t, "[turn 1] tool: search\n", buf.String())
}
