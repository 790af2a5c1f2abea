// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
)

// ValidateSQL creates the handler for POST /api/v1/validate.
//
// Runs the compliance gate over a caller-supplied statement without any
// retrieval, generation, or caching. Always 200 when the request binds:
// the verdict, compliant or not, lives in the response body.
func ValidateSQL(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ValidateSQL")
		defer span.End()

		var req datatypes.ValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, p.Validate(ctx, &req))
	}
}

// Suggestions creates the handler for POST /api/v1/suggestions.
//
// Returns similarity-ranked stored question/SQL pairs for the given
// question. An unreachable vector index is a 502 here, unlike during
// translation where retrieval degrades, because suggestions have nothing
// to fall back to.
func Suggestions(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "Suggestions")
		defer span.End()

		var req datatypes.SuggestionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := p.Suggestions(ctx, &req)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, pipeline.ErrInvalidQuestion) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Erreur lors de la recherche de similarité",
			})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
