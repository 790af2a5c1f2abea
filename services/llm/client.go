package llm

import (
	"context"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Name identifies the backend ("openai", "anthropic", "google",
	// "ollama") in logs, metrics, and provider errors.
	Name() string

	// Generate produces a completion for a single user prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a conversation. A "system" role
	// message carries the schema context and framework rules.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}
