package llmrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaRouter_CompleteReturnsParsedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"response":"hello world","model":"llama3"}`))
	}))
	defer srv.Close()

	router := NewOllamaRouter(WithBaseURL(srv.URL))
	resp, err := router.Complete(context.Background(), CompletionRequest{Prompt: "hi", TaskType: TaskGeneral})
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Text)
}

func TestOllamaRouter_CompleteNon200ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	router := NewOllamaRouter(WithBaseURL(srv.URL))
	_, err := router.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.Error(t, err)
}

func TestOllamaRouter_GenerateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	router := NewOllamaRouter(WithBaseURL(srv.URL))
	vec, err := router.GenerateEmbedding(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestOllamaRouter_HealthCheckAllFalseOnUnreachable(t *testing.T) {
	router := NewOllamaRouter(WithBaseURL("http://127.0.0.1:1"))
	result := router.HealthCheckAll(context.Background())
	assert.False(t, result["llama3"])
}
