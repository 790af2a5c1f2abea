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
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// ExampleID derives a deterministic object ID for a question within a
// schema version.
//
// The same question stored twice maps to the same ID, and Weaviate batch
// writes replace objects by ID, so re-storing after a correction upgrades
// the example instead of duplicating it.
func ExampleID(question, schemaVersion string) strfmt.UUID {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	hash := sha256.Sum256([]byte(normalized + "\x00" + schemaVersion))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// StoreExample writes one validated question/SQL pair to the index.
//
// # Description
//
//	Embeds the question and upserts a QueryExample object under its
//	deterministic ID. Called after every accepted or corrected fresh
//	generation so future requests can shortcut, and by the seeder for
//	curated corpus entries.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The natural-language question.
//   - sql: The validated, framework-compliant SQL.
//   - schemaVersion: Schema version the pair was validated against.
//   - status: Provenance: "seed", "accepted", or "corrected".
//
// # Outputs
//
//   - error: Non-nil if embedding or the write fails. Callers treat this
//     as a degradation, not a request failure.
func (x *ExampleIndex) StoreExample(ctx context.Context, question, sql, schemaVersion, status string) error {
	ctx, span := tracer.Start(ctx, "StoreExample")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.status", status))

	vector, err := x.embedQuestion(ctx, question)
	if err != nil {
		return err
	}

	props := datatypes.QueryExampleProperties{
		Question:      question,
		SQL:           sql,
		SchemaVersion: schemaVersion,
		Status:        status,
		CreatedAt:     time.Now().UnixMilli(),
	}

	obj := &models.Object{
		Class:      datatypes.QueryExampleClass,
		ID:         ExampleID(question, schemaVersion),
		Vector:     vector,
		Properties: props.ToMap(),
	}

	// Batch writes upsert by ID where the single-object creator would
	// reject a duplicate.
	resp, err := x.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to store example: %w", err)
	}
	return firstBatchError(resp)
}

// firstBatchError extracts the first item-level failure from a batch
// response. Weaviate reports per-object outcomes even when the request
// itself succeeds.
func firstBatchError(resp []models.ObjectsGetResponse) error {
	for _, item := range resp {
		if item.Result == nil {
			continue
		}
		if item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("index write rejected: %s", item.Result.Errors.Error[0].Message)
		}
		if item.Result.Status != nil && *item.Result.Status != "SUCCESS" {
			return fmt.Errorf("index write status %s", *item.Result.Status)
		}
	}
	return nil
}
