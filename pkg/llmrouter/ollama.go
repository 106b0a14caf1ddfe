package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaRouter implements Router against a single Ollama instance's
// /api/generate and /api/embeddings endpoints.
type OllamaRouter struct {
	httpClient *http.Client
	baseURL    string
	model      string
	embedModel string
	logger     *log.Logger
}

// Option configures an OllamaRouter at construction.
type Option func(*OllamaRouter)

func WithBaseURL(u string) Option          { return func(r *OllamaRouter) { r.baseURL = u } }
func WithModel(m string) Option            { return func(r *OllamaRouter) { r.model = m } }
func WithEmbedModel(m string) Option       { return func(r *OllamaRouter) { r.embedModel = m } }
func WithHTTPClient(h *http.Client) Option { return func(r *OllamaRouter) { r.httpClient = h } }
func WithLogger(l *log.Logger) Option      { return func(r *OllamaRouter) { r.logger = l } }

func NewOllamaRouter(opts ...Option) *OllamaRouter {
	r := &OllamaRouter{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    defaultOllamaURL,
		model:      "llama3",
		embedModel: "nomic-embed-text",
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

func (r *OllamaRouter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	payload := generateRequest{
		Model:       r.model,
		Prompt:      req.Prompt,
		Stream:      false,
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmrouter: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmrouter: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmrouter: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llmrouter: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("llmrouter: upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return CompletionResponse{}, fmt.Errorf("llmrouter: failed to decode response: %w", err)
	}
	return CompletionResponse{Text: parsed.Response, Model: parsed.Model}, nil
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (r *OllamaRouter) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	payload := embeddingRequest{Model: r.embedModel, Prompt: text}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llmrouter: failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmrouter: failed to build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmrouter: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmrouter: failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llmrouter: embedding upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llmrouter: failed to decode embedding response: %w", err)
	}
	return parsed.Embedding, nil
}

func (r *OllamaRouter) HealthCheckAll(ctx context.Context) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/tags", nil)
	if err != nil {
		return map[string]bool{r.model: false}
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Printf("llmrouter: health check failed: %v", err)
		return map[string]bool{r.model: false}
	}
	defer resp.Body.Close()
	return map[string]bool{r.model: resp.StatusCode == http.StatusOK}
}
