// Package llm is the chat client behind summarization. All three providers
// accept the OpenAI-compatible /v1/chat/completions wire format, so one
// client covers openai, deepseek, and ollama.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ariadne/internal/apperr"
	"ariadne/internal/config"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"
	defaultOllamaModel   = "qwen2.5-coder"

	maxRetryAttempts = 3
)

const summarySystemPrompt = `You are a senior JVM engineer documenting a codebase.
Summarize the given symbol in one or two sentences: what it does and what it is for.
Mention important side effects. Answer with the summary only, no preamble.`

// Client calls a chat-completion endpoint.
type Client struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds a chat client for the configured provider.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	model := cfg.Model
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		if model == "" {
			model = defaultOpenAIModel
		}
	case config.ProviderDeepSeek:
		if base == "" {
			base = "https://api.deepseek.com/v1"
		}
		if model == "" {
			model = defaultDeepSeekModel
		}
	case config.ProviderOllama:
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		if model == "" {
			model = defaultOllamaModel
		}
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, "unknown llm provider %q", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		provider: cfg.Provider,
		baseURL:  base,
		apiKey:   cfg.APIKey,
		model:    model,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Timeout is the per-request budget, which the summarizer also uses as its
// per-item deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Model is the configured chat model.
func (c *Client) Model() string { return c.model }

// Summarize asks the model for a one-or-two-sentence summary of a symbol.
// symContext carries whatever graph context the caller has (signature,
// callers, layer); it is passed through verbatim.
func (c *Client) Summarize(ctx context.Context, code, symContext string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Summarize")
	defer timer.Stop()

	var user strings.Builder
	if symContext != "" {
		user.WriteString("Context:\n")
		user.WriteString(symContext)
		user.WriteString("\n\n")
	}
	user.WriteString("Code:\n")
	user.WriteString(code)

	return c.complete(ctx, summarySystemPrompt, user.String())
}

// complete runs one chat completion, retrying transient failures with
// exponential backoff. Non-transient failures return immediately.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(newRetryPolicy(), maxRetryAttempts-1), ctx)

	var out string
	err := backoff.Retry(func() error {
		text, err := c.completeOnce(ctx, system, user)
		if err != nil {
			if apperr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = text
		return nil
	}, policy)
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues("success").Inc()
	return out, nil
}

func newRetryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // attempts bound the retry loop, not wall time
	return b
}

func (c *Client) completeOnce(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidArgument, err, "encode chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidArgument, err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, err, "chat request to %s", c.provider)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.KindUnavailable
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = apperr.KindTransient
		}
		return "", apperr.New(kind, "%s chat endpoint returned %d: %s", c.provider, resp.StatusCode, string(snippet))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, err, "decode chat response")
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.KindUnavailable, "%s chat response has no choices", c.provider)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
