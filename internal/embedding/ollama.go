package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/config"
	"ariadne/internal/logging"
)

const defaultOllamaEmbeddingModel = "nomic-embed-text"

// ollamaEngine talks to a local ollama daemon. Batching is sequential: the
// native API embeds one prompt per request.
type ollamaEngine struct {
	baseURL string
	model   string
	client  *http.Client
	dims    int
}

func newOllamaEngine(cfg config.LLMConfig) *ollamaEngine {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ollamaEngine{
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *ollamaEngine) Name() string    { return "ollama/" + e.model }
func (e *ollamaEngine) Dimensions() int { return e.dims }

func (e *ollamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "encode embedding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "embedding request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.New(apperr.KindUnavailable, "ollama returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "decode embedding response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, apperr.New(apperr.KindUnavailable, "ollama returned an empty embedding")
	}
	if e.dims == 0 {
		e.dims = len(parsed.Embedding)
	}
	return parsed.Embedding, nil
}

func (e *ollamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "EmbedBatch")
	defer timer.Stop()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}
