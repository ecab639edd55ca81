// Package llm holds the provider contracts used by twinrag (text completion
// and text embedding), HTTP clients for Ollama, OpenAI and Anthropic, an
// offline hashing embedder, and the strict JSON parsing applied to every
// model response.
package llm

import (
	"context"
	"errors"
)

// ErrProviderDisabled is returned by the disabled generator when no text
// provider is configured.
var ErrProviderDisabled = errors.New("llm provider disabled")

// TextGenerator is the interface for LLM text completion.
// All extraction prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// DisabledGenerator is a TextGenerator that always fails. Callers with a
// heuristic fallback (memory extraction) keep working; graph extraction jobs
// fail with a terminal error.
type DisabledGenerator struct{}

// Complete always returns ErrProviderDisabled.
func (DisabledGenerator) Complete(context.Context, string) (string, error) {
	return "", ErrProviderDisabled
}

// GetModel returns "none".
func (DisabledGenerator) GetModel() string { return "none" }

var _ TextGenerator = DisabledGenerator{}
