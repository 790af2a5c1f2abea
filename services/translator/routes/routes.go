// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes registers the translator's HTTP surface on a gin engine.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/datasulting/nl2sql/pkg/secrets"
	"github.com/datasulting/nl2sql/services/translator/handlers"
	"github.com/datasulting/nl2sql/services/translator/middleware"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
	"github.com/datasulting/nl2sql/services/translator/retrieval"
	"github.com/datasulting/nl2sql/services/translator/schema"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

// Deps carries everything the routes need. Pipeline is required; the rest
// may be nil and the affected endpoints degrade or report accordingly.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Index     *retrieval.ExampleIndex
	Registry  *schema.Registry
	Health    handlers.HealthTargets
	Metrics   *telemetry.Metrics
	APIKey    *secrets.APIKey
	RateLimit middleware.RateLimitConfig
	Logger    *slog.Logger
}

// Register wires all routes and middleware onto the router.
//
// Layering, outermost first: request ID, access log, otelgin tracing,
// request metrics. The /api/v1 group adds API-key auth and per-caller
// rate limiting; /health and /metrics stay open so probes and scrapers
// work without credentials. The WebSocket group authenticates but is not
// rate limited, since one connection serves many translations.
func Register(router *gin.Engine, deps Deps) {
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLog(deps.Logger))
	router.Use(otelgin.Middleware("nl2sql-translator"))
	if deps.Metrics != nil {
		router.Use(telemetry.RequestMetrics(deps.Metrics))
	}

	router.GET("/health", handlers.Health(deps.Health))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(deps.APIKey))
	api.Use(middleware.RateLimit(deps.RateLimit))
	{
		api.POST("/translate", handlers.Translate(deps.Pipeline))
		api.POST("/validate", handlers.ValidateSQL(deps.Pipeline))
		api.POST("/suggestions", handlers.Suggestions(deps.Pipeline))

		admin := api.Group("/admin")
		{
			admin.POST("/seed/examples", handlers.SeedExamples(deps.Index, deps.Registry))
			admin.POST("/seed/schema", handlers.SeedSchema(deps.Index, deps.Registry))
			admin.POST("/schema/refresh", handlers.RefreshSchema(deps.Registry))
		}
	}

	ws := router.Group("/ws")
	ws.Use(middleware.APIKeyAuth(deps.APIKey))
	{
		ws.GET("/translate", handlers.TranslateStream(deps.Pipeline))
	}
}
