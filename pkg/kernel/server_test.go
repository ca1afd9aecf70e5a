package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/adapters/duckdb"
	"github.com/manthysbr/qagent/internal/adapters/fetch"
	"github.com/manthysbr/qagent/internal/adapters/search"
	"github.com/manthysbr/qagent/internal/adapters/vecindex"
	appconfig "github.com/manthysbr/qagent/internal/config"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/services"
)

type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedBackend) Generate(_ context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.GenerateResponse{}, s.err
	}
	text := `Action: {"action": "convert_time", "action_input": {"time": "0:00:01"}}`
	if s.calls < len(s.responses) {
		text = s.responses[s.calls]
	}
	s.calls++
	return domain.GenerateResponse{Text: text, Done: true}, nil
}

type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type testEnv struct {
	handler http.Handler
	backend *scriptedBackend
	repo    *duckdb.Repository
}

func newTestEnv(t *testing.T, backend *scriptedBackend) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>Jon Fosse won the Nobel Prize in Literature in 2023.</p></body></html>`)
	}))
	t.Cleanup(page.Close)

	repo, err := duckdb.NewRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, bus, repo)

	tools := domain.NewToolRegistry(domain.WithRegistryLogger(logger))
	require.NoError(t, tools.Register(services.NewConvertTimeTool()))

	loop := services.NewAgentLoop(logger, backend, tools, services.NewActionParser(logger, false),
		services.QuestionPrompt(), tracer, bus, services.AgentConfig{MaxTurns: 3})

	retriever := services.NewRetriever(logger,
		search.NewStatic([]string{page.URL}),
		fetch.NewHTTPFetcher(fetch.WithAllowPrivate()),
		services.NewRecursiveSplitter(500, 50),
		flatEmbedder{},
		vecindex.NewMemory(),
		tracer,
		services.RetrieverConfig{FanOut: 5, K: 3, FetchTimeout: 2 * time.Second},
	)
	rag := services.NewRAGAnswerer(logger, retriever, backend, tracer, "", 3)

	t.Setenv("QAGENT_SECRET_KEY", "kernel-test-key")
	sk, err := appconfig.NewSecretKey(t.TempDir())
	require.NoError(t, err)
	cfg := domain.DefaultConfig()
	cfg.Search.BraveAPIKey = "brave-key-4321"
	settings, err := appconfig.NewSettingsStore(logger, cfg, sk)
	require.NoError(t, err)

	srv := NewServer(logger, loop, rag, tracer, Options{EventBus: bus, Settings: settings, Traces: repo})
	return &testEnv{handler: srv.Handler(), backend: backend, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{})
	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestServer_AskRunsToolsAndRecordsTrace(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{responses: []string{
		`Thought: convert it. Action: {"action": "convert_time", "action_input": {"time": "0:01:30"}}`,
		"Final Answer: 90 seconds",
	}})

	w := env.do(t, http.MethodPost, "/v1/ask", `{"question": "How many seconds is 0:01:30?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "90 seconds", resp["answer"])

	turns := resp["turns"].([]any)
	require.Len(t, turns, 2)
	assert.Equal(t, "0:01:30 is 90 seconds", turns[0].(map[string]any)["observation"])

	traceID, _ := resp["trace_id"].(string)
	require.NotEmpty(t, traceID)

	w = env.do(t, http.MethodGet, "/v1/traces/"+traceID, "")
	require.Equal(t, http.StatusOK, w.Code)
	trace := decode(t, w)
	assert.Equal(t, "ok", trace["status"])
	assert.NotEmpty(t, trace["spans"])

	// the finished trace was also persisted
	stored, err := env.repo.GetTrace(context.Background(), domain.TraceID(traceID))
	require.NoError(t, err)
	assert.Equal(t, domain.SpanStatusOK, stored.Status)

	w = env.do(t, http.MethodGet, "/v1/traces?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestServer_AskErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *scriptedBackend
		body    string
		status  int
		errText string
	}{
		{"bad body", &scriptedBackend{}, `{"question": `, http.StatusBadRequest, "invalid request body"},
		{"empty question", &scriptedBackend{}, `{"question": "  "}`, http.StatusBadRequest, domain.ErrEmptyQuestion.Error()},
		{"max turns", &scriptedBackend{}, `{"question": "loop"}`, http.StatusUnprocessableEntity, domain.ErrMaxTurns.Error()},
		{"backend down", &scriptedBackend{err: errors.New("connection refused")}, `{"question": "q"}`, http.StatusBadGateway, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.backend)
			w := env.do(t, http.MethodPost, "/v1/ask", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.errText)
		})
	}
}

func TestServer_AskMaxTurnsKeepsPartialRun(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{})
	w := env.do(t, http.MethodPost, "/v1/ask", `{"question": "loop"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, decode(t, w)["turns"], 3)
}

func TestServer_Search(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{responses: []string{"  Jon Fosse. Source: the page.  "}})

	w := env.do(t, http.MethodPost, "/v1/search", `{"question": "Who won the Nobel Prize in Literature 2023?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "Jon Fosse. Source: the page.", resp["answer"])

	chunks := resp["chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].(map[string]any)["text"], "Jon Fosse won")
}

func TestServer_Tools(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{})

	w := env.do(t, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 1, resp["count"])
	assert.Equal(t, "convert_time", resp["tools"].([]any)[0].(map[string]any)["name"])

	w = env.do(t, http.MethodPost, "/v1/tools/convert_time/run", `{"params": {"time": "1:00:00"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1:00:00 is 3600 seconds", decode(t, w)["observation"])

	w = env.do(t, http.MethodPost, "/v1/tools/convert_time/run", `{"params": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["error"], "missing required time")

	w = env.do(t, http.MethodPost, "/v1/tools/paint/run", `{"params": {}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_TraceNotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{})
	w := env.do(t, http.MethodGet, "/v1/traces/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ConfigIsMasked(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{})
	w := env.do(t, http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "****4321")
	assert.NotContains(t, w.Body.String(), "brave-key-4321")
}

func TestServer_EventsStream(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{responses: []string{"Final Answer: done"}})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	askResp, err := http.Post(ts.URL+"/v1/ask", "application/json", strings.NewReader(`{"question": "q"}`))
	require.NoError(t, err)
	askResp.Body.Close()

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: ")
}

func TestServer_EventsTypeFilter(t *testing.T) {
	env := newTestEnv(t, &scriptedBackend{responses: []string{"Final Answer: done"}})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?types=trace", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	askResp, err := http.Post(ts.URL+"/v1/ask", "application/json", strings.NewReader(`{"question": "q"}`))
	require.NoError(t, err)
	askResp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var kinds []string
	for scanner.Scan() {
		line := scanner.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, kind)
			if kind == "trace" {
				break
			}
		}
	}
	require.NotEmpty(t, kinds)
	for _, k := range kinds {
		assert.Equal(t, "trace", k)
	}
}

func TestEventTypes(t *testing.T) {
	assert.Nil(t, eventTypes(""))
	assert.Equal(t, map[services.EventType]bool{"step": true, "trace": true}, eventTypes("step, trace,"))
}
