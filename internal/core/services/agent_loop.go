package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

// AgentConfig bounds one run of the loop.
type AgentConfig struct {
	Model        string
	MaxTurns     int
	MaxIdleTurns int
	Stream       bool
	// OnToken receives streamed response fragments when Stream is set.
	OnToken func(string)
}

// AgentLoop drives the backend until it produces a final answer, dispatching
// every tool call it asks for in between.
type AgentLoop struct {
	logger  *slog.Logger
	backend ports.GenerationBackend
	tools   *domain.ToolRegistry
	parser  *ActionParser
	prompt  PromptTemplate
	tracer  *TraceCollector
	bus     *EventBus
	cfg     AgentConfig
}

func NewAgentLoop(
	logger *slog.Logger,
	backend ports.GenerationBackend,
	tools *domain.ToolRegistry,
	parser *ActionParser,
	prompt PromptTemplate,
	tracer *TraceCollector,
	bus *EventBus,
	cfg AgentConfig,
) *AgentLoop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if parser == nil {
		parser = NewActionParser(logger, false)
	}
	return &AgentLoop{
		logger:  logger,
		backend: backend,
		tools:   tools,
		parser:  parser,
		prompt:  prompt,
		tracer:  tracer,
		bus:     bus,
		cfg:     cfg,
	}
}

// Tools returns the registry the loop dispatches to.
func (a *AgentLoop) Tools() *domain.ToolRegistry { return a.tools }

// RunInput is a question plus optional session state from earlier runs.
type RunInput struct {
	Question     string
	History      []domain.Exchange
	PriorContext []int
}

// Run answers a single question.
func (a *AgentLoop) Run(ctx context.Context, question string) (*domain.RunResult, error) {
	return a.RunWith(ctx, RunInput{Question: question})
}

// RunWith answers in.Question. On ErrMaxTurns and ErrNoProgress the partial
// result is returned alongside the error.
func (a *AgentLoop) RunWith(ctx context.Context, in RunInput) (*domain.RunResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}

	started := time.Now()
	runID := domain.NewRunID()
	ctx, traceID := a.tracer.StartTrace(ctx, traceName(question), map[string]string{
		"run_id": string(runID),
		"model":  a.cfg.Model,
	})

	state := &domain.ConversationState{
		Question:     question,
		History:      in.History,
		PriorContext: in.PriorContext,
	}
	result := &domain.RunResult{ID: runID, TraceID: traceID, Question: question, Context: in.PriorContext}
	finish := func(status domain.SpanStatus, err error) {
		result.Turns = state.Turns
		result.Duration = time.Since(started)
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		a.tracer.EndTrace(ctx, traceID, status, msg)
	}

	a.logger.Info("starting agent run", "run_id", string(runID), "question", truncate(question, 120))

	idle := 0
	for i := 1; i <= a.cfg.MaxTurns; i++ {
		if err := ctx.Err(); err != nil {
			finish(domain.SpanStatusError, err)
			return nil, err
		}
		a.logger.Debug("agent turn", "run_id", string(runID), "turn", i)
		turnStart := time.Now()

		prompt := a.prompt.Build(a.tools, state)
		a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: i, Kind: domain.StepPrompt, Text: prompt})

		resp, err := a.generate(ctx, prompt, state.PriorContext, i)
		if err != nil {
			finish(domain.SpanStatusError, err)
			return nil, err
		}
		if len(resp.Context) > 0 {
			result.Context = resp.Context
		}
		text := strings.TrimSpace(resp.Text)
		a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: i, Kind: domain.StepResponse, Text: text})

		action := a.parser.Parse(text)
		turn := domain.Turn{Index: i, Response: text, Action: action}

		switch action.Kind {
		case domain.ActionFinalAnswer:
			turn.Duration = time.Since(turnStart)
			state.AppendTurn(turn)
			result.Answer = action.FinalAnswer
			a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: i, Kind: domain.StepFinal, Text: action.FinalAnswer})
			finish(domain.SpanStatusOK, nil)
			a.logger.Info("final answer reached", "run_id", string(runID), "turns", i)
			return result, nil

		case domain.ActionToolCall:
			idle = 0
			obs, err := a.dispatch(ctx, runID, i, action.Call)
			turn.Observation = obs
			if err != nil {
				turn.Error = err.Error()
			}

		default:
			idle++
			if action.Malformed {
				a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: i, Kind: domain.StepMalformed, Text: text})
				a.logger.Warn("response had an action block that could not be decoded", "run_id", string(runID), "turn", i)
			}
		}

		turn.Duration = time.Since(turnStart)
		state.AppendTurn(turn)

		if a.cfg.MaxIdleTurns > 0 && idle >= a.cfg.MaxIdleTurns {
			err := fmt.Errorf("%w: %d consecutive turns without an action", domain.ErrNoProgress, idle)
			finish(domain.SpanStatusError, err)
			return result, err
		}
	}

	err := fmt.Errorf("%w (%d)", domain.ErrMaxTurns, a.cfg.MaxTurns)
	finish(domain.SpanStatusError, err)
	return result, err
}

func (a *AgentLoop) generate(ctx context.Context, prompt string, prior []int, turn int) (domain.GenerateResponse, error) {
	llmCtx, spanID := a.tracer.StartSpan(ctx, fmt.Sprintf("llm.generate (turn %d)", turn), domain.SpanKindLLM, prompt[max(0, len(prompt)-500):])
	resp, err := a.backend.Generate(llmCtx, domain.GenerateRequest{
		Model:   a.cfg.Model,
		Prompt:  prompt,
		Context: prior,
		Stream:  a.cfg.Stream,
		OnToken: a.cfg.OnToken,
	})
	a.tracer.EndSpan(spanID, resp.Text, err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return resp, err
		}
		if !errors.Is(err, domain.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
		}
		return resp, err
	}
	a.logger.Debug("backend response", "turn", turn, "response", truncate(resp.Text, 200))
	return resp, nil
}

func (a *AgentLoop) dispatch(ctx context.Context, runID domain.RunID, turn int, call *domain.ToolCall) (domain.Observation, error) {
	a.logger.Info("executing tool", "tool", call.Name, "turn", turn)
	a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: turn, Kind: domain.StepToolCall, Tool: call.Name})

	toolCtx, spanID := a.tracer.StartSpan(ctx, "tool."+call.Name, domain.SpanKindTool, fmt.Sprintf("%v", call.Arguments))
	obs, err := a.tools.Dispatch(toolCtx, *call)
	a.tracer.EndSpan(spanID, string(obs), err)
	if err != nil {
		a.logger.Warn("tool dispatch failed", "tool", call.Name, "error", err)
	}

	a.bus.PublishStep(domain.StepEvent{RunID: runID, Turn: turn, Kind: domain.StepObservation, Tool: call.Name, Text: string(obs)})
	return obs, err
}

func traceName(question string) string {
	name := "run: " + question
	if len(name) > 80 {
		name = name[:80] + "..."
	}
	return name
}
