// Package embedding turns summary text into vectors. Engines wrap remote
// embedding APIs; the coordinator treats an absent engine as "relational
// plane only" and skips vector writes entirely.
package embedding

import (
	"context"

	"ariadne/internal/apperr"
	"ariadne/internal/config"
)

// Engine produces embeddings for text.
type Engine interface {
	// Embed returns the embedding of one input.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector width this engine produces, 0 if unknown
	// until the first call.
	Dimensions() int
	// Name identifies the engine for logs.
	Name() string
}

// NewEngine builds the engine for the configured provider. Ollama talks the
// native /api/embeddings route; openai and deepseek share the
// OpenAI-compatible /v1/embeddings wire format.
func NewEngine(cfg config.LLMConfig) (Engine, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return newOllamaEngine(cfg), nil
	case config.ProviderOpenAI, config.ProviderDeepSeek:
		return newOpenAIEngine(cfg), nil
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, "no embedding engine for provider %q", cfg.Provider)
	}
}
