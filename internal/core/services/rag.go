package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

const ragSystemPrompt = `You are a helpful assistant. Answer the question using only the documents below.
Each document starts with its SOURCE. Cite the sources you used at the end of the answer.
If the documents do not contain the answer, say that you do not know.`

// RAGAnswer is a one-shot answer grounded on retrieved passages.
type RAGAnswer struct {
	Question string                  `json:"question"`
	Answer   string                  `json:"answer"`
	Chunks   []domain.RetrievedChunk `json:"chunks"`
	TraceID  domain.TraceID          `json:"trace_id,omitempty"`
}

// RAGAnswerer retrieves passages for a question and asks the backend once.
type RAGAnswerer struct {
	logger    *slog.Logger
	retriever *Retriever
	backend   ports.GenerationBackend
	tracer    *TraceCollector
	model     string
	k         int
}

func NewRAGAnswerer(logger *slog.Logger, retriever *Retriever, backend ports.GenerationBackend, tracer *TraceCollector, model string, k int) *RAGAnswerer {
	if k <= 0 {
		k = 5
	}
	return &RAGAnswerer{logger: logger, retriever: retriever, backend: backend, tracer: tracer, model: model, k: k}
}

// Answer retrieves up to k passages and generates an answer citing them.
func (r *RAGAnswerer) Answer(ctx context.Context, question string, stream func(string)) (*RAGAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}

	ctx, traceID := r.tracer.StartTrace(ctx, traceName(question), map[string]string{"mode": "rag"})
	out, err := r.answer(ctx, question, stream)
	if err != nil {
		r.tracer.EndTrace(ctx, traceID, domain.SpanStatusError, err.Error())
		return nil, err
	}
	r.tracer.EndTrace(ctx, traceID, domain.SpanStatusOK, "")
	out.TraceID = traceID
	return out, nil
}

func (r *RAGAnswerer) answer(ctx context.Context, question string, stream func(string)) (*RAGAnswer, error) {
	chunks, err := r.retriever.Run(ctx, question, r.k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	r.logger.Debug("retrieved passages", "count", len(chunks))

	docs := domain.RenderChunks(chunks)
	if docs == "" {
		docs = "(no documents found)"
	}
	prompt := fmt.Sprintf("Documents:\n%s\n\nQuestion: %s\nAnswer:", docs, question)

	llmCtx, spanID := r.tracer.StartSpan(ctx, "llm.generate", domain.SpanKindLLM, question)
	resp, err := r.backend.Generate(llmCtx, domain.GenerateRequest{
		Model:   r.model,
		System:  ragSystemPrompt,
		Prompt:  prompt,
		Stream:  stream != nil,
		OnToken: stream,
	})
	r.tracer.EndSpan(spanID, resp.Text, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	return &RAGAnswer{Question: question, Answer: strings.TrimSpace(resp.Text), Chunks: chunks}, nil
}
