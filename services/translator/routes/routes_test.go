// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/datasulting/nl2sql/pkg/secrets"
	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/cache"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockLLM is a minimal llm.LLMClient for route registration tests.
type mockLLM struct{}

func (m *mockLLM) Name() string { return "openai" }

func (m *mockLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "SELECT 1", nil
}

func (m *mockLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "SELECT 1", nil
}

type mockExamples struct{}

func (m *mockExamples) Search(_ context.Context, _, _ string, _ int) ([]datatypes.CandidateMatch, error) {
	return nil, nil
}

func (m *mockExamples) ExactMatch(_ []datatypes.CandidateMatch) (*datatypes.CandidateMatch, bool) {
	return nil, false
}

func (m *mockExamples) SearchSchema(_ context.Context, _, _ string, _ int) ([]string, error) {
	return nil, nil
}

func (m *mockExamples) StoreExample(_ context.Context, _, _, _, _ string) error {
	return nil
}

type mockSchema struct{}

func (mockSchema) Snapshot() (string, string) { return "CREATE TABLE depot (ID INT);", "v1" }

func testDeps(t *testing.T) Deps {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chain, err := llm.NewProviderChain(&mockLLM{})
	if err != nil {
		t.Fatalf("NewProviderChain: %v", err)
	}
	policy, err := compliance.LoadPolicy()
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p, err := pipeline.New(pipeline.Deps{
		Chain:    chain,
		Examples: &mockExamples{},
		Cache:    cache.Disabled(logger),
		Schema:   mockSchema{},
		Policy:   policy,
		Metrics:  metrics,
		Logger:   logger,
	}, pipeline.Config{
		MaxExamples:       3,
		CacheTimeout:      time.Second,
		RelevanceTimeout:  time.Second,
		RetrievalTimeout:  time.Second,
		GenerationTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	return Deps{Pipeline: p, Logger: logger}
}

// ============================================================================
// Register Tests
// ============================================================================

func TestRegister_RouteTable(t *testing.T) {
	router := gin.New()
	Register(router, testDeps(t))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/api/v1/translate"},
		{"POST", "/api/v1/validate"},
		{"POST", "/api/v1/suggestions"},
		{"POST", "/api/v1/admin/seed/examples"},
		{"POST", "/api/v1/admin/seed/schema"},
		{"POST", "/api/v1/admin/schema/refresh"},
		{"GET", "/ws/translate"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", want.method, want.path)
		}
	}
}

func TestRegister_HealthStaysOpen(t *testing.T) {
	t.Setenv("NL2SQL_TEST_ROUTE_KEY", "s3cret-value")
	key, err := secrets.Load("gate", "NL2SQL_TEST_ROUTE_KEY")
	if err != nil {
		t.Fatalf("secrets.Load: %v", err)
	}

	deps := testDeps(t)
	deps.APIKey = key

	router := gin.New()
	Register(router, deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	// Degraded is fine here; the point is that no credential is needed.
	if w.Code != http.StatusOK && w.Code != http.StatusServiceUnavailable {
		t.Errorf("Health endpoint returned %d, want 200 or 503", w.Code)
	}
}

func TestRegister_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	Register(router, testDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestRegister_APIGroupRequiresKey(t *testing.T) {
	t.Setenv("NL2SQL_TEST_ROUTE_KEY", "s3cret-value")
	key, err := secrets.Load("gate", "NL2SQL_TEST_ROUTE_KEY")
	if err != nil {
		t.Fatalf("secrets.Load: %v", err)
	}

	deps := testDeps(t)
	deps.APIKey = key

	router := gin.New()
	Register(router, deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/translate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Unauthenticated translate returned %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("Expected WWW-Authenticate header on 401 response")
	}
}

func TestRegister_RequestIDHeaderSet(t *testing.T) {
	router := gin.New()
	Register(router, testDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header on every response")
	}
}
