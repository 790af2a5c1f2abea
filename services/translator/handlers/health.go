// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/cache"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/schema"
)

// readyCheckTimeout bounds the vector-index liveness probe so a hung
// Weaviate cannot hang /health with it.
const readyCheckTimeout = 2 * time.Second

// HealthTargets are the collaborators /health reports on. Any of them may
// be nil when the deployment runs without that piece.
type HealthTargets struct {
	Weaviate *weaviate.Client
	Chain    *llm.ProviderChain
	Cache    *cache.Cache
	Schema   *schema.Registry
}

// Health creates the handler for GET /health.
//
// # Description
//
// Probes each collaborator and reports per-dependency state plus an
// overall status. The service keeps answering translation requests in
// most degraded states (the pipeline degrades around a missing cache or
// index), so "degraded" means reduced quality, not downtime; the 503
// status code still lets load balancers prefer healthy replicas.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler returning 200 when healthy, 503 when any
//     dependency is degraded or unreachable.
func Health(targets HealthTargets) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := make(map[string]string)
		healthy := true

		deps["vector_index"] = checkWeaviate(c.Request.Context(), targets.Weaviate)
		deps["providers"] = checkProviders(targets.Chain)
		deps["cache"] = checkCache(targets.Cache)
		deps["schema"] = checkSchema(targets.Schema)

		for _, state := range deps {
			if state != "ok" && !strings.HasPrefix(state, "ok ") {
				healthy = false
				break
			}
		}

		status := "healthy"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, datatypes.HealthResponse{
			Status:       status,
			Service:      "nl2sql-translator",
			Timestamp:    time.Now().UnixMilli(),
			Dependencies: deps,
		})
	}
}

func checkWeaviate(ctx context.Context, client *weaviate.Client) string {
	if client == nil {
		return "not configured"
	}
	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	ready, err := client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Sprintf("unreachable: %v", err)
	}
	if !ready {
		return "not ready"
	}
	return "ok"
}

func checkProviders(chain *llm.ProviderChain) string {
	if chain == nil {
		return "not configured"
	}
	names := chain.Names()
	if len(names) == 0 {
		return "not configured"
	}
	return "ok (" + strings.Join(names, ", ") + ")"
}

func checkCache(c *cache.Cache) string {
	if c == nil || !c.Stats().Enabled {
		return "disabled"
	}
	return "ok"
}

func checkSchema(registry *schema.Registry) string {
	if registry == nil {
		return "not configured"
	}
	document, version := registry.Snapshot()
	if document == "" {
		return "empty"
	}
	return "ok (version " + version + ")"
}
