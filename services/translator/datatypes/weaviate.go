// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// QueryExampleClass is the Weaviate class holding curated question/SQL pairs.
const QueryExampleClass = "QueryExample"

// SchemaChunkClass is the Weaviate class holding chunks of the schema
// reference document for prompt-time retrieval.
const SchemaChunkClass = "SchemaChunk"

// =============================================================================
// Schema Definitions
// =============================================================================

// GetQueryExampleSchema returns the schema for the QueryExample class.
//
// # Description
//
// QueryExample stores one validated natural-language question / SQL pair.
// The vectorizer is "none": vectors are computed client-side by the embedder
// and supplied on write, which keeps Weaviate deployable without any model
// module and makes the embedding model an explicit service choice.
//
// # Properties
//
//   - question: The user's natural-language question, word-tokenized.
//   - sql: The validated, framework-compliant SQL for the question.
//   - schema_version: Schema generation this pair was validated against.
//   - status: How the pair entered the index ("seed", "accepted", "corrected").
//   - created_at: Unix milliseconds when the pair was stored.
func GetQueryExampleSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       QueryExampleClass,
		Description: "A validated natural-language question and its SQL translation.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's natural-language question.",
				Tokenization: "word",
			},
			{
				Name:         "sql",
				DataType:     []string{"text"},
				Description:  "The validated SQL translation, including tenant filter and access markers.",
				Tokenization: "field",
			},
			{
				Name:            "schema_version",
				DataType:        []string{"text"},
				Description:     "Version of the database schema this pair was validated against.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Description:     "Provenance of this pair: 'seed', 'accepted', or 'corrected'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the pair was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetSchemaChunkSchema returns the schema for the SchemaChunk class.
//
// SchemaChunk holds one chunk of the schema reference document. Large schema
// documents do not fit a prompt whole, so generation retrieves the chunks
// most relevant to the question instead.
func GetSchemaChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SchemaChunkClass,
		Description: "A chunk of the schema reference document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text: table and column descriptions.",
				Tokenization: "word",
			},
			{
				Name:            "schema_version",
				DataType:        []string{"text"},
				Description:     "Version of the schema document this chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"number"},
				Description:     "Position of the chunk within the source document.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes.
//
// # Description
//
// Checks each class and creates it when absent. Existing classes are left
// untouched, so property changes require a migration, not a restart. A
// non-nil error means retrieval will be degraded; callers decide whether
// that is fatal.
func EnsureWeaviateSchema(client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetQueryExampleSchema,
		GetSchemaChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		// The getter errors when the class is absent; create it.
		slog.Info("Schema not found, creating it...", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	}

	return nil
}

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the expected
// response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil or parsing fails.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// QueryExample Storage Types
// =============================================================================

// QueryExampleProperties represents the properties for creating a
// QueryExample object.
type QueryExampleProperties struct {
	Question      string `json:"question"`
	SQL           string `json:"sql"`
	SchemaVersion string `json:"schema_version"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
}

// ToMap converts QueryExampleProperties to the map format required by the
// Weaviate client's WithProperties() method.
func (p *QueryExampleProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"question":       p.Question,
		"sql":            p.SQL,
		"schema_version": p.SchemaVersion,
		"status":         p.Status,
		"created_at":     p.CreatedAt,
	}
}

// ExampleQueryResponse represents the response from querying the
// QueryExample class.
type ExampleQueryResponse struct {
	Get struct {
		QueryExample []ExampleResult `json:"QueryExample"`
	} `json:"Get"`
}

// ExampleResult represents a single stored pair from a similarity query.
type ExampleResult struct {
	Question      string `json:"question"`
	SQL           string `json:"sql"`
	SchemaVersion string `json:"schema_version"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	Additional    struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
		Distance  *float32 `json:"distance"`
	} `json:"_additional"`
}

// SchemaChunkProperties represents the properties for creating a
// SchemaChunk object.
type SchemaChunkProperties struct {
	Content       string `json:"content"`
	SchemaVersion string `json:"schema_version"`
	ChunkIndex    int64  `json:"chunk_index"`
}

// ToMap converts SchemaChunkProperties to the map format required by the
// Weaviate client's WithProperties() method.
func (p *SchemaChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":        p.Content,
		"schema_version": p.SchemaVersion,
		"chunk_index":    p.ChunkIndex,
	}
}

// SchemaChunkQueryResponse represents the response from querying the
// SchemaChunk class.
type SchemaChunkQueryResponse struct {
	Get struct {
		SchemaChunk []SchemaChunkResult `json:"SchemaChunk"`
	} `json:"Get"`
}

// SchemaChunkResult represents a single schema chunk from a similarity query.
type SchemaChunkResult struct {
	Content       string `json:"content"`
	SchemaVersion string `json:"schema_version"`
	ChunkIndex    int64  `json:"chunk_index"`
	Additional    struct {
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}
