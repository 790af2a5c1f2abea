// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides the example index: semantic search over
// validated question/SQL pairs and over schema-document chunks stored in
// Weaviate, with client-side embeddings.
//
// The index serves two purposes in a translation. A stored question whose
// similarity reaches the exact-match threshold short-circuits generation
// entirely; anything below it becomes few-shot prompt material. Either way
// the index is advisory: callers that cannot reach it fall back to bare
// generation rather than failing the request.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

var tracer = otel.Tracer("nl2sql.retrieval")

// Config holds search configuration for the example index.
type Config struct {
	// TopK is how many examples a search returns by default.
	TopK int

	// ExactMatchThreshold is the certainty at or above which the best
	// search result is treated as an exact match and generation is
	// skipped. Certainty is Weaviate's [0,1] normalized similarity.
	ExactMatchThreshold float32

	// SchemaChunks is how many schema-document chunks to retrieve for
	// prompt context.
	SchemaChunks int

	// MaxEmbedLength is the maximum number of bytes of question text
	// sent to the embedder.
	MaxEmbedLength int
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		TopK:                5,
		ExactMatchThreshold: 0.95,
		SchemaChunks:        3,
		MaxEmbedLength:      2000,
	}
}

// validateConfig validates and corrects configuration values.
// Logs warnings for invalid values and applies defaults.
func validateConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.TopK < 1 {
		slog.Warn("Invalid TopK config, using default",
			"provided", config.TopK, "default", defaults.TopK)
		config.TopK = defaults.TopK
	}

	if config.ExactMatchThreshold <= 0 || config.ExactMatchThreshold > 1 {
		slog.Warn("Invalid ExactMatchThreshold config, using default",
			"provided", config.ExactMatchThreshold, "default", defaults.ExactMatchThreshold)
		config.ExactMatchThreshold = defaults.ExactMatchThreshold
	}

	if config.SchemaChunks < 1 {
		slog.Warn("Invalid SchemaChunks config, using default",
			"provided", config.SchemaChunks, "default", defaults.SchemaChunks)
		config.SchemaChunks = defaults.SchemaChunks
	}

	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}

	return config
}

// ExampleIndex provides search and storage over the QueryExample and
// SchemaChunk classes.
//
// # Thread Safety
//
// ExampleIndex is safe for concurrent use. The underlying Weaviate client
// handles connection pooling.
type ExampleIndex struct {
	client   *weaviate.Client
	embedder Embedder
	config   Config
}

// NewExampleIndex creates an example index.
//
// # Inputs
//
//   - client: Weaviate client for database access.
//   - embedder: Provider for computing text embeddings.
//   - config: Search configuration (use DefaultConfig() for defaults).
func NewExampleIndex(client *weaviate.Client, embedder Embedder, config Config) *ExampleIndex {
	return &ExampleIndex{
		client:   client,
		embedder: embedder,
		config:   validateConfig(config),
	}
}

// Search retrieves stored pairs semantically similar to the question.
//
// # Description
//
//	Embeds the question and runs a NearVector query against the
//	QueryExample class, filtered to the given schema version when one is
//	provided. Results are ordered by descending certainty.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The natural-language question to match.
//   - schemaVersion: Restrict results to this schema version. Empty means
//     no restriction.
//   - limit: Maximum results. Non-positive falls back to the configured
//     TopK.
//
// # Outputs
//
//   - []datatypes.CandidateMatch: Matches ordered by similarity, highest
//     first. Empty when nothing is stored.
//   - error: Non-nil if embedding or the query fails. Callers treat this
//     as retrieval degradation, not a request failure.
func (x *ExampleIndex) Search(ctx context.Context, question, schemaVersion string, limit int) ([]datatypes.CandidateMatch, error) {
	ctx, span := tracer.Start(ctx, "SearchExamples")
	defer span.End()

	if limit <= 0 {
		limit = x.config.TopK
	}

	vector, err := x.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	nearVector := x.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Certainty is requested instead of distance: it is always [0,1]
	// regardless of the index's distance metric.
	fields := []graphql.Field{
		{Name: "question"},
		{Name: "sql"},
		{Name: "schema_version"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	query := x.client.GraphQL().Get().
		WithClassName(datatypes.QueryExampleClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit)

	if schemaVersion != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"schema_version"}).
			WithOperator(filters.Equal).
			WithValueString(schemaVersion))
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("example search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ExampleQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	matches := make([]datatypes.CandidateMatch, 0, len(parsed.Get.QueryExample))
	for _, r := range parsed.Get.QueryExample {
		match := datatypes.CandidateMatch{
			Question:      r.Question,
			SQL:           r.SQL,
			SchemaVersion: r.SchemaVersion,
		}
		if r.Additional.Certainty != nil {
			match.Certainty = *r.Additional.Certainty
		}
		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Certainty > matches[j].Certainty
	})

	span.SetAttributes(attribute.Int("retrieval.match_count", len(matches)))
	if len(matches) > 0 {
		span.SetAttributes(attribute.Float64("retrieval.top_certainty", float64(matches[0].Certainty)))
	}

	return matches, nil
}

// ExactMatch reports whether the best match can replace generation.
//
// A certainty exactly at the threshold counts as an exact match; only
// scores strictly below it fall through to example-assisted generation.
func (x *ExampleIndex) ExactMatch(matches []datatypes.CandidateMatch) (*datatypes.CandidateMatch, bool) {
	if len(matches) == 0 {
		return nil, false
	}
	if matches[0].Certainty >= x.config.ExactMatchThreshold {
		return &matches[0], true
	}
	return nil, false
}

// SearchSchema retrieves schema-document chunks relevant to the question.
//
// # Description
//
//	Runs a NearVector query against the SchemaChunk class. Used by prompt
//	assembly when the full schema document is too large to inline.
//
// # Outputs
//
//   - []string: Chunk contents ordered by similarity, highest first.
//     Empty when the schema document was never seeded.
//   - error: Non-nil if embedding or the query fails.
func (x *ExampleIndex) SearchSchema(ctx context.Context, question, schemaVersion string, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "SearchSchemaChunks")
	defer span.End()

	if limit <= 0 {
		limit = x.config.SchemaChunks
	}

	vector, err := x.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	query := x.client.GraphQL().Get().
		WithClassName(datatypes.SchemaChunkClass).
		WithFields(fields...).
		WithNearVector(x.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(limit)

	if schemaVersion != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"schema_version"}).
			WithOperator(filters.Equal).
			WithValueString(schemaVersion))
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema chunk search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SchemaChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema chunk results: %w", err)
	}

	chunks := make([]string, 0, len(parsed.Get.SchemaChunk))
	for _, r := range parsed.Get.SchemaChunk {
		chunks = append(chunks, r.Content)
	}

	span.SetAttributes(attribute.Int("retrieval.schema_chunk_count", len(chunks)))
	return chunks, nil
}

// embedQuestion truncates the question to the configured bound and embeds it.
func (x *ExampleIndex) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	truncated := question
	if len(question) > x.config.MaxEmbedLength {
		truncated = question[:x.config.MaxEmbedLength]
		slog.Debug("Truncated question for embedding",
			"originalLen", len(question), "truncatedLen", len(truncated))
	}

	vector, err := x.embedder.Embed(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return vector, nil
}
