package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"nodes\":[],\"edges\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[],"edges":[]}`, out)
	assert.Equal(t, "gpt-test", c.GetModel())
}

func TestOpenAIEmbeddingClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIEmbeddingClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-small", c.GetModel())
}

func TestOpenAIClient_StatusErrorIsQuoted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limit exceeded"))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai returned status 429")
}

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"memories\":[]}"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, `{"memories":[]}`, out)
}

func TestOllamaClient_CompleteAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Equal(t, "json", req.Format)
			_, _ = w.Write([]byte(`{"response":"{}","done":true}`))
		case "/api/embed":
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"},{"name":"nomic-embed-text"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	ctx := context.Background()

	out, err := c.Complete(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	vec, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)

	require.NoError(t, c.HealthCheck(ctx))
	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:7b", "nomic-embed-text"}, models)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Complete(ctx, "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	}

	_, err := c.Complete(ctx, "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open circuit must not reach the server")
	assert.Equal(t, "open", c.circuitBreaker.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond, HalfOpenMaxSuccesses: 1})
	ctx := context.Background()

	_, err := cb.Execute(ctx, func() (interface{}, error) { return nil, assert.AnError })
	require.Error(t, err)
	assert.Equal(t, "open", cb.State())

	time.Sleep(40 * time.Millisecond)
	out, err := cb.Execute(ctx, func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "closed", cb.State())

	m := cb.Metrics()
	assert.Equal(t, uint64(2), m.TotalRequests)
	assert.Equal(t, uint64(1), m.TotalFailures)
}

func TestCircuitBreaker_CancelledContextDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (interface{}, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", cb.State())
}

func TestFactory(t *testing.T) {
	gen, err := NewTextGenerator(ProviderConfig{Provider: "none"})
	require.NoError(t, err)
	_, err = gen.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrProviderDisabled)

	_, err = NewTextGenerator(ProviderConfig{Provider: "openai"})
	assert.Error(t, err, "openai without key")

	_, err = NewTextGenerator(ProviderConfig{Provider: "bard"})
	assert.Error(t, err)

	emb, err := NewEmbeddingGenerator(ProviderConfig{Provider: "hash", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, "hash-64", emb.GetModel())

	_, err = NewEmbeddingGenerator(ProviderConfig{Provider: "anthropic", APIKey: "k"})
	assert.Error(t, err)
}
