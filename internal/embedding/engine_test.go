package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ariadne/internal/apperr"
	"ariadne/internal/config"
)

func TestNewEngineByProvider(t *testing.T) {
	eng, err := NewEngine(config.LLMConfig{Provider: config.ProviderOllama})
	require.NoError(t, err)
	assert.Contains(t, eng.Name(), "ollama")

	eng, err = NewEngine(config.LLMConfig{Provider: config.ProviderDeepSeek, EmbeddingModel: "m"})
	require.NoError(t, err)
	assert.Contains(t, eng.Name(), "m")

	_, err = NewEngine(config.LLMConfig{Provider: "mystery"})
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestOpenAIEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Return indices out of order on purpose.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	eng, err := NewEngine(config.LLMConfig{
		Provider: config.ProviderOpenAI,
		APIKey:   "key",
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)

	vecs, err := eng.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, 2, eng.Dimensions())
}

func TestOpenAIRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	eng, err := NewEngine(config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = eng.Embed(context.Background(), "text")
	assert.True(t, apperr.IsTransient(err))
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0.5, 0.5, 0}})
	}))
	defer srv.Close()

	eng, err := NewEngine(config.LLMConfig{Provider: config.ProviderOllama, BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := eng.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 3, eng.Dimensions())
}
