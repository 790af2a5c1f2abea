// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

const (
	// seedBatchSize bounds one embed-and-write round. The embeddings API
	// caps batch inputs and Weaviate prefers moderate batch bodies.
	seedBatchSize = 100

	chunkSize    = 1000
	chunkOverlap = 100
)

// schemaSeparators split the schema reference document along its section
// structure before falling back to paragraphs and lines.
var schemaSeparators = []string{
	"\n# ", "\n## ", "\n### ", "\n#### ",
	"\n\n", "\n", " ", "",
}

// SeedExample is one entry of the seed corpus file.
type SeedExample struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// ParseCorpus decodes a seed corpus: a JSON array of question/SQL pairs.
func ParseCorpus(data []byte) ([]SeedExample, error) {
	var examples []SeedExample
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("failed to decode seed corpus: %w", err)
	}
	for i, ex := range examples {
		if strings.TrimSpace(ex.Question) == "" {
			return nil, fmt.Errorf("seed corpus entry %d has an empty question", i)
		}
		if strings.TrimSpace(ex.SQL) == "" {
			return nil, fmt.Errorf("seed corpus entry %d has an empty sql", i)
		}
	}
	return examples, nil
}

// SeedExamples bulk-loads a corpus of curated pairs into the index.
//
// # Description
//
//	Embeds and writes examples in batches under deterministic IDs, so
//	re-running the seeder is idempotent. Items that fail individually are
//	logged and skipped; the count of stored objects is returned either way.
//
// # Outputs
//
//   - int: Number of examples actually stored.
//   - error: Non-nil if a whole batch fails (embedding or transport).
func (x *ExampleIndex) SeedExamples(ctx context.Context, examples []SeedExample, schemaVersion string) (int, error) {
	ctx, span := tracer.Start(ctx, "SeedExamples")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.seed_count", len(examples)))

	stored := 0
	for start := 0; start < len(examples); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(examples) {
			end = len(examples)
		}
		batch := examples[start:end]

		texts := make([]string, len(batch))
		for i, ex := range batch {
			texts[i] = ex.Question
		}
		vectors, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("failed to embed seed batch: %w", err)
		}

		objects := make([]*models.Object, len(batch))
		for i, ex := range batch {
			props := datatypes.QueryExampleProperties{
				Question:      ex.Question,
				SQL:           ex.SQL,
				SchemaVersion: schemaVersion,
				Status:        "seed",
			}
			objects[i] = &models.Object{
				Class:      datatypes.QueryExampleClass,
				ID:         ExampleID(ex.Question, schemaVersion),
				Vector:     vectors[i],
				Properties: props.ToMap(),
			}
		}

		n, err := x.writeBatch(ctx, objects)
		stored += n
		if err != nil {
			return stored, err
		}
	}

	slog.Info("Seeded example corpus",
		"requested", len(examples), "stored", stored, "schema_version", schemaVersion)
	return stored, nil
}

// SeedSchemaDocument chunks and loads the schema reference document.
//
// # Description
//
//	Splits the document along its section structure, embeds each chunk,
//	and writes SchemaChunk objects under content-derived IDs. Chunks carry
//	the schema version, so SearchSchema for a newer version never sees
//	them again after a schema change.
//
// # Outputs
//
//   - int: Number of chunks actually stored.
//   - error: Non-nil if splitting, embedding, or a batch write fails.
func (x *ExampleIndex) SeedSchemaDocument(ctx context.Context, document, schemaVersion string) (int, error) {
	ctx, span := tracer.Start(ctx, "SeedSchemaDocument")
	defer span.End()

	chunks, err := chunkSchemaDocument(document)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		slog.Warn("Schema document produced no chunks", "schema_version", schemaVersion)
		return 0, nil
	}
	span.SetAttributes(attribute.Int("retrieval.chunk_count", len(chunks)))

	stored := 0
	for start := 0; start < len(chunks); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := x.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return stored, fmt.Errorf("failed to embed schema chunks: %w", err)
		}

		objects := make([]*models.Object, len(batch))
		for i, chunk := range batch {
			hash := sha256.Sum256([]byte(chunk))
			id, _ := uuid.FromBytes(hash[:16])

			props := datatypes.SchemaChunkProperties{
				Content:       chunk,
				SchemaVersion: schemaVersion,
				ChunkIndex:    int64(start + i),
			}
			objects[i] = &models.Object{
				Class:      datatypes.SchemaChunkClass,
				ID:         strfmt.UUID(id.String()),
				Vector:     vectors[i],
				Properties: props.ToMap(),
			}
		}

		n, err := x.writeBatch(ctx, objects)
		stored += n
		if err != nil {
			return stored, err
		}
	}

	slog.Info("Seeded schema document",
		"chunks", stored, "schema_version", schemaVersion)
	return stored, nil
}

// chunkSchemaDocument splits the schema reference document for indexing.
func chunkSchemaDocument(document string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(schemaSeparators),
	)

	chunks, err := splitter.SplitText(document)
	if err != nil {
		return nil, fmt.Errorf("failed to split schema document: %w", err)
	}
	return chunks, nil
}

// writeBatch sends objects to Weaviate and counts per-item successes.
func (x *ExampleIndex) writeBatch(ctx context.Context, objects []*models.Object) (int, error) {
	resp, err := x.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch write failed: %w", err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			slog.Warn("Index batch item rejected", "error", item.Result.Errors.Error[0].Message)
		} else {
			slog.Warn("Index batch item failed with no error detail")
		}
	}
	return created, nil
}
