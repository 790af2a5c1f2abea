// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the translator service.
//
// Handlers are factory functions taking their collaborators and returning
// gin.HandlerFunc, so routes.Register can wire them without package-level
// state. Error translation to HTTP status codes lives here: the pipeline
// reports typed errors, and this package decides which become 4xx with a
// product-language message and which are 5xx.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
)

var tracer = otel.Tracer("nl2sql.handlers")

// Translate creates the handler for POST /api/v1/translate.
//
// # Description
//
// Binds and validates the translation request, runs the pipeline, and
// returns the response envelope. Rejections the end user can act on
// (off-domain question, write request, impossible translation, framework
// violation) map to 422 with the product-language message; infrastructure
// failures map to 5xx.
//
// # Inputs
//
//   - p: Translation pipeline. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler ready for route registration
func Translate(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "Translate")
		defer span.End()

		var req datatypes.TranslationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Failed to bind translation request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := p.Translate(ctx, &req)
		if err != nil {
			span.RecordError(err)
			status, body := translationErrorBody(err)
			c.JSON(status, body)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// translationErrorBody maps a pipeline error to an HTTP status and JSON
// body. Shared by the REST handler and the WebSocket stream so both
// transports reject identically.
func translationErrorBody(err error) (int, gin.H) {
	if msg, ok := pipeline.UserMessage(err); ok {
		return http.StatusUnprocessableEntity, gin.H{"error": msg}
	}

	var uncorrectable *compliance.UncorrectableError
	switch {
	case errors.As(err, &uncorrectable):
		return http.StatusUnprocessableEntity, gin.H{
			"error":  "La requête générée ne respecte pas le framework obligatoire.",
			"detail": uncorrectable.Error(),
		}
	case errors.Is(err, pipeline.ErrInvalidQuestion):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, pipeline.ErrUnknownProvider):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case llm.IsExhausted(err):
		return http.StatusBadGateway, gin.H{
			"error": "Erreur lors de la génération SQL: tous les fournisseurs sont indisponibles.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{
			"error": "Erreur lors de la traduction: délai dépassé.",
		}
	default:
		slog.Error("Translation failed", "error", err)
		return http.StatusInternalServerError, gin.H{
			"error": "Erreur lors de la traduction",
		}
	}
}
