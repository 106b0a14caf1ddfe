// Package llmrouter defines the injectable contract query expansion and
// extraction use to reach a language model, plus a concrete Ollama-backed
// implementation.
package llmrouter

import "context"

// TaskType labels the kind of completion being requested, letting a
// multi-model router pick a model per task without the caller caring.
type TaskType string

const (
	TaskQueryGeneration TaskType = "query_generation"
	TaskGeneral         TaskType = "general"
)

// CompletionRequest is a single chat-style completion call.
type CompletionRequest struct {
	Prompt      string
	TaskType    TaskType
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the router's reply to a CompletionRequest.
type CompletionResponse struct {
	Text  string
	Model string
}

// Router is the collaborator contract query expansion depends on. A
// concrete implementation may front one model or several; callers never
// see which.
type Router interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
	HealthCheckAll(ctx context.Context) map[string]bool
}
