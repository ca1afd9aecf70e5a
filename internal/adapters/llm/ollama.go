package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// OllamaProvider implements ports.GenerationBackend for a local Ollama instance.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewOllamaProvider(baseURL, defaultModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if defaultModel == "" {
		defaultModel = "mistral"
	}
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

type generateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	System  string `json:"system,omitempty"`
	Context []int  `json:"context,omitempty"`
	Stream  bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Context  []int  `json:"context,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate calls /api/generate. Streamed responses are newline-delimited JSON
// fragments; the last one carries the continuation context.
func (p *OllamaProvider) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	jsonData, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		System:  req.System,
		Context: req.Context,
		Stream:  req.Stream,
	})
	if err != nil {
		return domain.GenerateResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return domain.GenerateResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.GenerateResponse{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !req.Stream {
		var genResp generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
			return domain.GenerateResponse{}, fmt.Errorf("failed to decode response: %w", err)
		}
		if genResp.Error != "" {
			return domain.GenerateResponse{}, fmt.Errorf("ollama: %s", genResp.Error)
		}
		return domain.GenerateResponse{Text: genResp.Response, Done: genResp.Done, Context: genResp.Context}, nil
	}
	return readStream(resp.Body, req.OnToken)
}

func readStream(body io.Reader, onToken func(string)) (domain.GenerateResponse, error) {
	var (
		out  domain.GenerateResponse
		text strings.Builder
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frag generateResponse
		if err := json.Unmarshal(line, &frag); err != nil {
			return out, fmt.Errorf("failed to decode stream fragment: %w", err)
		}
		if frag.Error != "" {
			return out, fmt.Errorf("ollama: %s", frag.Error)
		}
		if frag.Response != "" {
			text.WriteString(frag.Response)
			if onToken != nil {
				onToken(frag.Response)
			}
		}
		if frag.Done {
			out.Done = true
			out.Context = frag.Context
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read stream: %w", err)
	}
	out.Text = text.String()
	return out, nil
}
