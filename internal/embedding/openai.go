package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/config"
	"ariadne/internal/logging"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// openAIEngine speaks the OpenAI-compatible /v1/embeddings wire format,
// which deepseek-style endpoints also accept.
type openAIEngine struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	dims    int
}

func newOpenAIEngine(cfg config.LLMConfig) *openAIEngine {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &openAIEngine{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *openAIEngine) Name() string    { return "openai/" + e.model }
func (e *openAIEngine) Dimensions() int { return e.dims }

func (e *openAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *openAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	timer := logging.StartTimer(logging.CategoryEmbedding, "EmbedBatch")
	defer timer.Stop()

	body, err := json.Marshal(map[string]interface{}{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "encode embeddings request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "build embeddings request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "embeddings request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.KindUnavailable
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = apperr.KindTransient
		}
		return nil, apperr.New(kind, "embeddings endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "decode embeddings response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, apperr.New(apperr.KindUnavailable,
			"embeddings response has %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apperr.New(apperr.KindUnavailable, "embeddings response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
	}
	if e.dims == 0 {
		e.dims = len(out[0])
	}
	return out, nil
}
