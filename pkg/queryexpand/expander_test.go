package queryexpand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paper-app/arxivfetcher/pkg/arxivcache"
	"github.com/paper-app/arxivfetcher/pkg/llmrouter"
)

type fakeRouter struct {
	completeFn func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error)
}

func (f *fakeRouter) Complete(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
	return f.completeFn(ctx, req)
}
func (f *fakeRouter) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return nil, nil
}
func (f *fakeRouter) HealthCheckAll(ctx context.Context) map[string]bool { return nil }

func TestExpander_UsesModelOutputWhenWellFormed(t *testing.T) {
	router := &fakeRouter{completeFn: func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
		return llmrouter.CompletionResponse{Text: `["all:transformer time series", "all:attention forecasting"]`}, nil
	}}
	e := NewExpander(router, nil, 5, 0.3)

	result, err := e.ExpandQuery(context.Background(), "transformer time series")
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, []string{"all:transformer time series", "all:attention forecasting"}, result.ExpandedQueries)
}

func TestExpander_StripsMarkdownFence(t *testing.T) {
	router := &fakeRouter{completeFn: func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
		return llmrouter.CompletionResponse{Text: "```json\n[\"all:foo bar\"]\n```"}, nil
	}}
	e := NewExpander(router, nil, 5, 0.3)

	result, err := e.ExpandQuery(context.Background(), "foo bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"all:foo bar"}, result.ExpandedQueries)
}

func TestExpander_FallsBackOnModelError(t *testing.T) {
	router := &fakeRouter{completeFn: func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
		return llmrouter.CompletionResponse{}, errors.New("connection refused")
	}}
	e := NewExpander(router, nil, 5, 0.3)

	result, err := e.ExpandQuery(context.Background(), "neural network pricing")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ExpandedQueries)
	for _, q := range result.ExpandedQueries {
		assert.NotContains(t, q, "f-title:")
		assert.NotContains(t, q, "f-abs:")
	}
}

func TestExpander_FallsBackOnEmptyModelOutput(t *testing.T) {
	router := &fakeRouter{completeFn: func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
		return llmrouter.CompletionResponse{Text: "[]"}, nil
	}}
	e := NewExpander(router, nil, 5, 0.3)

	result, err := e.ExpandQuery(context.Background(), "quantitative finance")
	require.NoError(t, err)
	assert.Contains(t, result.ExpandedQueries, "ti:quantitative finance")
	assert.Contains(t, result.ExpandedQueries, "abs:quantitative finance")
}

func TestExpander_NilRouterGoesStraightToFallback(t *testing.T) {
	e := NewExpander(nil, nil, 5, 0.3)
	result, err := e.ExpandQuery(context.Background(), "reinforcement learning")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ExpandedQueries)
}

func TestExpander_CacheHitSkipsModelCall(t *testing.T) {
	called := false
	router := &fakeRouter{completeFn: func(ctx context.Context, req llmrouter.CompletionRequest) (llmrouter.CompletionResponse, error) {
		called = true
		return llmrouter.CompletionResponse{Text: `["all:x"]`}, nil
	}}
	cache := arxivcache.NewManager(arxivcache.NewMemoryBackend(), time.Hour, time.Hour, time.Hour)
	e := NewExpander(router, cache, 5, 0.3)
	ctx := context.Background()

	_, err := e.ExpandQuery(ctx, "some query")
	require.NoError(t, err)
	assert.True(t, called)

	called = false
	result, err := e.ExpandQuery(ctx, "some query")
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, result.CacheHit)
}

func TestExpander_BatchReturnsExpansionForEveryQuery(t *testing.T) {
	e := NewExpander(nil, nil, 5, 0.3)
	results := e.ExpandBatch(context.Background(), []string{"a valid query"})
	assert.Contains(t, results, "a valid query")
	assert.NotEmpty(t, results["a valid query"].ExpandedQueries)
}
