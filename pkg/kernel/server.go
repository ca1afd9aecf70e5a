package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/manthysbr/qagent/internal/config"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
	"github.com/manthysbr/qagent/internal/core/services"
)

// maxBodyBytes bounds request bodies; questions are short.
const maxBodyBytes = 64 << 10

// Server exposes the agent loop, one-shot retrieval answers, the tool list and
// collected traces over HTTP.
type Server struct {
	logger   *slog.Logger
	agent    *services.AgentLoop
	rag      *services.RAGAnswerer
	tracer   *services.TraceCollector
	eventBus *services.EventBus
	settings *config.SettingsStore
	// traces is the persistent store consulted when a trace has been
	// evicted from the collector. May be nil.
	traces ports.TraceRepository
	// runTimeout bounds one /v1/ask or /v1/search request.
	runTimeout time.Duration
}

// Options carries the optional collaborators of a Server.
type Options struct {
	EventBus   *services.EventBus
	Settings   *config.SettingsStore
	Traces     ports.TraceRepository
	RunTimeout time.Duration
}

func NewServer(
	logger *slog.Logger,
	agent *services.AgentLoop,
	rag *services.RAGAnswerer,
	tracer *services.TraceCollector,
	opts Options,
) *Server {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	return &Server{
		logger:     logger,
		agent:      agent,
		rag:        rag,
		tracer:     tracer,
		eventBus:   opts.EventBus,
		settings:   opts.Settings,
		traces:     opts.Traces,
		runTimeout: opts.RunTimeout,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/search", s.handleSearch)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/run", s.handleRunTool)
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/events", s.handleEventsSSE)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type questionRequest struct {
	Question string `json:"question"`
}

func (s *Server) decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req questionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	return req.Question, true
}

// askResponse is the JSON shape of POST /v1/ask.
type askResponse struct {
	*domain.RunResult
	Error string `json:"error,omitempty"`
}

// handleAsk runs the agent loop on a question.
// POST /v1/ask {"question": "..."}
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	res, err := s.agent.Run(ctx, question)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, askResponse{RunResult: res})
	case errors.Is(err, domain.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMaxTurns), errors.Is(err, domain.ErrNoProgress):
		// the partial run is still useful to the caller
		writeJSON(w, http.StatusUnprocessableEntity, askResponse{RunResult: res, Error: err.Error()})
	case errors.Is(err, domain.ErrBackendUnavailable):
		s.logger.Error("agent run failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("agent run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleSearch answers a question from retrieved web passages.
// POST /v1/search {"question": "..."}
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval is not configured")
		return
	}
	question, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	ans, err := s.rag.Answer(ctx, question, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ans)
	case errors.Is(err, domain.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBackendUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("search answer failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// toolDTO is the JSON representation of a tool (handlers are excluded).
type toolDTO struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  domain.ToolParameters `json:"parameters"`
}

// handleListTools returns all registered tools with their schemas.
// GET /v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.agent.Tools().ListTools()
	dtos := make([]toolDTO, 0, len(tools))
	for _, t := range tools {
		dtos = append(dtos, toolDTO{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": dtos, "count": len(dtos)})
}

// handleRunTool dispatches one tool call outside of the loop.
// POST /v1/tools/{name}/run {"params": {...}}
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	started := time.Now()
	obs, err := s.agent.Tools().Dispatch(ctx, domain.ToolCall{Name: name, Arguments: body.Params})
	resp := map[string]any{
		"ok":          err == nil,
		"tool":        name,
		"observation": string(obs),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, domain.ErrUnknownTool):
		resp["error"] = err.Error()
		writeJSON(w, http.StatusNotFound, resp)
	default:
		resp["error"] = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	}
}

// handleListTraces returns recent traces.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}

	traces := s.tracer.ListTraces(limit)
	if len(traces) == 0 && s.traces != nil {
		stored, err := s.traces.ListTraces(r.Context(), limit)
		if err != nil {
			s.logger.Warn("failed to list stored traces", "error", err)
		} else {
			traces = stored
		}
	}
	if traces == nil {
		traces = []domain.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces, "count": len(traces)})
}

// handleGetTrace returns a single trace with all spans.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := domain.TraceID(r.PathValue("id"))

	trace, err := s.tracer.GetTrace(id)
	if err != nil && s.traces != nil {
		trace, err = s.traces.GetTrace(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
