// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command translator starts the NL-to-SQL translation HTTP server.
//
// This is the main entry point for the containerized translator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - NL2SQL_PORT: HTTP server port (default: 8080)
//   - NL2SQL_PROVIDERS: comma-separated LLM failover order (default: openai,anthropic,google)
//   - NL2SQL_SCHEMA_SOURCE: schema reference document, local path or gs:// URL (required)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - NL2SQL_CACHE_DIR: Badger cache directory (default: ./data/cache)
//   - NL2SQL_CACHE_TTL_SECONDS: cached translation lifetime (default: 3600)
//   - NL2SQL_CACHE_DISABLED: "true" turns the cache off
//   - NL2SQL_SEMANTIC_VALIDATION: "false" skips the advisory LLM validation
//   - NL2SQL_MAX_EXAMPLES: examples per generation prompt (default: 3)
//   - NL2SQL_API_KEY: inbound service key; unset runs the API open
//   - NL2SQL_RATE_LIMIT_RPM: per-caller requests per minute (default: 60)
//   - INFLUXDB_URL / INFLUXDB_TOKEN / INFLUXDB_ORG / INFLUXDB_BUCKET:
//     optional usage accounting sink
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// Provider credentials (OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY,
// OLLAMA_BASE_URL) are read by the provider clients themselves, from the
// environment or /run/secrets.
//
// # Usage
//
//	# Build
//	go build -o translator ./cmd/translator
//
//	# Run
//	NL2SQL_SCHEMA_SOURCE=./config/schema_reference.md ./translator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datasulting/nl2sql/services/translator"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := translator.Config{
		Port:                      getEnvInt("NL2SQL_PORT", 8080),
		Providers:                 splitList(getEnvString("NL2SQL_PROVIDERS", "openai,anthropic,google")),
		WeaviateURL:               os.Getenv("WEAVIATE_SERVICE_URL"),
		SchemaSource:              os.Getenv("NL2SQL_SCHEMA_SOURCE"),
		CacheDir:                  getEnvString("NL2SQL_CACHE_DIR", "./data/cache"),
		CacheTTL:                  time.Duration(getEnvInt("NL2SQL_CACHE_TTL_SECONDS", 3600)) * time.Second,
		CacheDisabled:             getEnvBool("NL2SQL_CACHE_DISABLED", false),
		DisableSemanticValidation: !getEnvBool("NL2SQL_SEMANTIC_VALIDATION", true),
		MaxExamples:               getEnvInt("NL2SQL_MAX_EXAMPLES", 3),
		APIKeyVar:                 "NL2SQL_API_KEY",
		RequestsPerMinute:         getEnvInt("NL2SQL_RATE_LIMIT_RPM", 60),
		Usage: telemetry.UsageConfig{
			URL:    os.Getenv("INFLUXDB_URL"),
			Token:  os.Getenv("INFLUXDB_TOKEN"),
			Org:    os.Getenv("INFLUXDB_ORG"),
			Bucket: os.Getenv("INFLUXDB_BUCKET"),
		},
	}

	slog.Info("Starting translator",
		"port", cfg.Port,
		"providers", cfg.Providers,
		"schema_source", cfg.SchemaSource,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := translator.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create translator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Translator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
