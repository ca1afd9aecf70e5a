package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/manthysbr/qagent/internal/adapters/providers"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
	"github.com/manthysbr/qagent/internal/core/services"
)

// runtime wires providers and services for one command invocation.
type runtime struct {
	app    *app
	set    *providers.Set
	bus    *services.EventBus
	tracer *services.TraceCollector
}

func (a *app) newRuntime() (*runtime, error) {
	set, err := providers.Build(a.logger, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	bus := services.NewEventBus(a.logger)

	var repo services.TraceRepository
	if set.Traces != nil {
		repo = set.Traces
	}
	return &runtime{
		app:    a,
		set:    set,
		bus:    bus,
		tracer: services.NewTraceCollector(a.logger, bus, repo),
	}, nil
}

func (r *runtime) Close() error { return r.set.Close() }

func (r *runtime) retriever() *services.Retriever {
	c := r.app.cfg.Search
	return services.NewRetriever(
		r.app.logger,
		r.set.Search,
		r.set.Fetcher,
		services.NewRecursiveSplitter(c.ChunkSize, c.ChunkOverlap),
		r.set.Embedder,
		r.set.Index,
		r.tracer,
		services.RetrieverConfig{FanOut: c.FanOut, K: c.K, FetchTimeout: c.FetchTimeout},
	)
}

func (r *runtime) registry(tools ...*domain.Tool) (*domain.ToolRegistry, error) {
	reg := domain.NewToolRegistry(
		domain.WithRegistryLogger(r.app.logger),
		domain.WithFuzzyMatch(r.app.cfg.Agent.FuzzyTools),
	)
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *runtime) loop(reg *domain.ToolRegistry, prompt services.PromptTemplate) *services.AgentLoop {
	cfg := r.app.cfg
	agentCfg := services.AgentConfig{
		Model:        cfg.Providers.LLM.DefaultModel,
		MaxTurns:     cfg.Agent.MaxTurns,
		MaxIdleTurns: cfg.Agent.MaxIdleTurns,
		Stream:       cfg.Providers.LLM.Stream,
	}
	if cfg.Providers.LLM.Stream && cfg.UI.Verbose {
		agentCfg.OnToken = func(s string) { fmt.Fprint(r.app.stderr, s) }
	}
	return services.NewAgentLoop(
		r.app.logger,
		r.set.Backend,
		reg,
		services.NewActionParser(r.app.logger, cfg.Agent.RepairJSON),
		prompt,
		r.tracer,
		r.bus,
		agentCfg,
	)
}

// questionLoop answers questions with the search and convert_time tools.
func (r *runtime) questionLoop() (*services.AgentLoop, error) {
	reg, err := r.registry(
		services.NewSearchTool(r.retriever(), r.app.cfg.Search.K),
		services.NewConvertTimeTool(),
	)
	if err != nil {
		return nil, err
	}
	return r.loop(reg, services.QuestionPrompt()), nil
}

// drawLoop drives the drawing assistant over surface.
func (r *runtime) drawLoop(surface ports.Surface) (*services.AgentLoop, error) {
	interp := services.NewDrawingInterpreter(r.app.logger, surface)
	reg, err := r.registry(services.NewDrawTool(interp))
	if err != nil {
		return nil, err
	}
	return r.loop(reg, services.DrawPrompt()), nil
}

func (r *runtime) ragAnswerer() *services.RAGAnswerer {
	return services.NewRAGAnswerer(r.app.logger, r.retriever(), r.set.Backend, r.tracer, r.app.cfg.Providers.LLM.DefaultModel, r.app.cfg.Search.K)
}

// watchSteps prints step events while a run is in flight when --verbose is
// set. The returned func stops printing and waits for the printer.
func (r *runtime) watchSteps(out *renderer) func() {
	if !r.app.cfg.UI.Verbose {
		return func() {}
	}
	events, unsub := r.bus.Subscribe(services.AllTopics)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			out.Step(e)
		}
	}()
	return func() {
		unsub()
		wg.Wait()
	}
}

func (r *runtime) timing(out *renderer, elapsed time.Duration, traceID domain.TraceID) {
	if !r.app.cfg.UI.Timing {
		return
	}
	trace, err := r.tracer.GetTrace(traceID)
	if err != nil {
		trace = nil
	}
	out.Timing(elapsed, trace)
}
