// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datasulting/nl2sql/services/translator/retrieval"
	"github.com/datasulting/nl2sql/services/translator/schema"
)

// maxCorpusBytes caps the seed corpus upload. The production corpus is a
// few hundred kilobytes; anything near this limit is a mistake.
const maxCorpusBytes = 16 << 20

// SeedExamples creates the handler for POST /api/v1/admin/seed/examples.
//
// The body is the JSON example corpus (an array of question/SQL pairs).
// Every pair is embedded and written to the index in batches under its
// deterministic ID, so re-seeding the same corpus is an upsert, not a
// duplication.
func SeedExamples(index *retrieval.ExampleIndex, registry *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "SeedExamples")
		defer span.End()

		if index == nil || registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index not configured"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCorpusBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read corpus body"})
			return
		}

		examples, err := retrieval.ParseCorpus(body)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		_, version := registry.Snapshot()
		seeded, err := index.SeedExamples(ctx, examples, version)
		if err != nil {
			span.RecordError(err)
			slog.Error("Example seeding failed", "seeded", seeded, "total", len(examples), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  "seeding failed",
				"seeded": seeded,
				"total":  len(examples),
			})
			return
		}

		slog.Info("Seeded example corpus", "count", seeded, "schema_version", version)
		c.JSON(http.StatusOK, gin.H{
			"seeded":         seeded,
			"schema_version": version,
		})
	}
}

// SeedSchema creates the handler for POST /api/v1/admin/seed/schema.
//
// Chunks the registry's current schema document and writes the chunks to
// the index so generation prompts can pull targeted schema context.
func SeedSchema(index *retrieval.ExampleIndex, registry *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "SeedSchema")
		defer span.End()

		if index == nil || registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index not configured"})
			return
		}

		document, version := registry.Snapshot()
		chunks, err := index.SeedSchemaDocument(ctx, document, version)
		if err != nil {
			span.RecordError(err)
			slog.Error("Schema document seeding failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "schema seeding failed"})
			return
		}

		slog.Info("Seeded schema document", "chunks", chunks, "schema_version", version)
		c.JSON(http.StatusOK, gin.H{
			"chunks":         chunks,
			"schema_version": version,
		})
	}
}

// RefreshSchema creates the handler for POST /api/v1/admin/schema/refresh.
//
// Re-reads the schema source and swaps the document in. This is how
// gs:// deployments pick up a published schema without a restart; local
// files usually arrive through the fsnotify watcher instead.
func RefreshSchema(registry *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "RefreshSchema")
		defer span.End()

		if registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schema registry not configured"})
			return
		}

		if err := registry.Refresh(ctx); err != nil {
			span.RecordError(err)
			slog.Error("Schema refresh failed", "source", registry.Source(), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "schema refresh failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"schema_version": registry.Version()})
	}
}
