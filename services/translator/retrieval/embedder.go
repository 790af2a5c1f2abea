// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/datasulting/nl2sql/pkg/secrets"
)

// Embedder computes vector embeddings for text.
//
// # Description
//
// Embedder wraps calls to the embedding model to convert text into vector
// representations for semantic search. The abstraction keeps the index
// testable and the embedding backend swappable.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed computes a vector embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embeddings for several texts in one request.
	// The returned slice is index-aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder computes embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder from the environment.
//
// # Description
//
//	Reads OPENAI_API_KEY (environment or /run/secrets) and
//	OPENAI_EMBEDDING_MODEL (default text-embedding-3-small). The stored
//	vectors are only comparable to queries embedded with the same model,
//	so changing the model requires re-seeding the index.
//
// # Outputs
//
//	*OpenAIEmbedder - Ready-to-use embedder.
//	error - Non-nil if the API key cannot be resolved.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	key, err := secrets.Load("openai-embeddings", "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	model := os.Getenv("OPENAI_EMBEDDING_MODEL")
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	// The go-openai client owns the token string for its lifetime.
	token, err := key.Reveal()
	if err != nil {
		return nil, fmt.Errorf("reveal openai api key: %w", err)
	}

	slog.Info("Initializing OpenAI embedder", "model", model)
	return &OpenAIEmbedder{
		client: openai.NewClient(token),
		model:  openai.EmbeddingModel(model),
	}, nil
}

// Embed computes a vector embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes embeddings for several texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	// The API documents index-aligned results; place by Index anyway so a
	// reordered response cannot silently swap vectors.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
