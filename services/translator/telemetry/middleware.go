// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestMetrics creates gin middleware that records HTTP request metrics.
//
// # Description
//
// Records request count, duration, and active request count. Metrics are
// labeled with method, route, and status code. Tracing is not handled here;
// install otelgin alongside this middleware for spans.
//
// # Inputs
//
//   - metrics: Pre-configured Metrics instance.
//
// # Example
//
//	metrics, _ := telemetry.NewMetrics(otel.Meter("nl2sql"))
//	router := gin.New()
//	router.Use(telemetry.RequestMetrics(metrics))
//
// # Thread Safety
//
// Safe for concurrent use.
func RequestMetrics(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		metrics.HTTPActiveRequests.Add(ctx, 1)
		defer metrics.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		// FullPath is the registered route template ("/api/v1/translate"),
		// not the raw URL, which keeps the label set bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.Int("status", c.Writer.Status()),
		)

		metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
		metrics.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
