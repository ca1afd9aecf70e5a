package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// OpenAIProvider implements ports.GenerationBackend using an OpenAI-compatible API.
// Works with: OpenAI, Azure OpenAI, Together AI, local Ollama /v1, etc.
// The chat API has no continuation token, so responses never carry Context.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. An empty
// baseURL uses the official endpoint.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
	}

	if !req.Stream {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return domain.GenerateResponse{}, fmt.Errorf("failed to call API: %w", err)
		}
		if len(resp.Choices) == 0 {
			return domain.GenerateResponse{}, fmt.Errorf("no choices in response")
		}
		return domain.GenerateResponse{Text: resp.Choices[0].Message.Content, Done: true}, nil
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if req.OnToken != nil {
			req.OnToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return domain.GenerateResponse{Text: text.String()}, fmt.Errorf("stream: %w", err)
	}
	return domain.GenerateResponse{Text: text.String(), Done: true}, nil
}
