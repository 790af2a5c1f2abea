// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/cache"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

const (
	compliantSQL   = "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE a.ID_USER = ?; #DEPOT_a# #FACTS_b#"
	correctableSQL = "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT"
	writeSQL       = "DELETE FROM facts WHERE f.ANCIENNETE > 10"
)

// stubLLM serves every pipeline call kind from fixed answers, recognizing
// each kind by its system prompt. A non-nil err fails every call, which
// exhausts a single-client chain.
type stubLLM struct {
	name      string
	sql       string
	relevance string
	err       error
}

func (s *stubLLM) Name() string { return s.name }

func (s *stubLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return s.Chat(ctx, []datatypes.Message{{Role: "user", Content: prompt}}, params)
}

func (s *stubLLM) Chat(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(messages) > 0 && messages[0].Role == "system" {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "détermines si une question"):
			if s.relevance != "" {
				return s.relevance, nil
			}
			return "OUI", nil
		case strings.Contains(system, "valide la correspondance"):
			return "OUI", nil
		case strings.Contains(system, "explique des requêtes"):
			return "La requête liste les salariés concernés.", nil
		}
	}
	return s.sql, nil
}

// stubExamples is a scriptable ExampleStore with the index's at-or-above
// exact-match threshold.
type stubExamples struct {
	matches   []datatypes.CandidateMatch
	searchErr error
}

func (s *stubExamples) Search(_ context.Context, _, _ string, _ int) ([]datatypes.CandidateMatch, error) {
	return s.matches, s.searchErr
}

func (s *stubExamples) ExactMatch(matches []datatypes.CandidateMatch) (*datatypes.CandidateMatch, bool) {
	if len(matches) == 0 || matches[0].Certainty < 0.95 {
		return nil, false
	}
	m := matches[0]
	return &m, true
}

func (s *stubExamples) SearchSchema(_ context.Context, _, _ string, _ int) ([]string, error) {
	return nil, nil
}

func (s *stubExamples) StoreExample(_ context.Context, _, _, _, _ string) error {
	return nil
}

type stubSchema struct{}

func (stubSchema) Snapshot() (string, string) {
	return "CREATE TABLE depot (ID INT, ID_USER INT);", "v1"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline builds a real pipeline over stub collaborators so
// handler tests exercise the full bind-run-respond path.
func newTestPipeline(t *testing.T, examples pipeline.ExampleStore, clients ...llm.LLMClient) *pipeline.Pipeline {
	t.Helper()

	chain, err := llm.NewProviderChain(clients...)
	require.NoError(t, err)

	policy, err := compliance.LoadPolicy()
	require.NoError(t, err)

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Deps{
		Chain:    chain,
		Examples: examples,
		Cache:    cache.Disabled(testLogger()),
		Schema:   stubSchema{},
		Policy:   policy,
		Metrics:  metrics,
		Logger:   testLogger(),
	}, pipeline.Config{
		MaxExamples:        3,
		SemanticValidation: true,
		CacheTimeout:       500 * time.Millisecond,
		RelevanceTimeout:   2 * time.Second,
		RetrievalTimeout:   2 * time.Second,
		GenerationTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

// createTestRouter creates a Gin router with the specified handler for testing.
func createTestRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	switch method {
	case "POST":
		router.POST(path, handler)
	case "GET":
		router.GET(path, handler)
	}
	return router
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// performRaw sends a verbatim body, for malformed-payload tests.
func performRaw(router *gin.Engine, method, path, raw string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func translationBody(question string) datatypes.TranslationRequest {
	return datatypes.TranslationRequest{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Question:  question,
	}
}

func errorField(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	msg, _ := body["error"].(string)
	return msg
}

// =============================================================================
// Translate Tests
// =============================================================================

// TestTranslate_Success verifies that a valid question returns the full
// response envelope with the generated SQL.
func TestTranslate_Success(t *testing.T) {
	client := &stubLLM{name: "openai", sql: compliantSQL}
	p := newTestPipeline(t, &stubExamples{}, client)
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	body := translationBody("Liste des salariés présents en 2024")
	w := performRequest(router, "POST", "/api/v1/translate", body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.TranslationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, compliantSQL, resp.SQL)
	assert.Equal(t, datatypes.StatusAccepted, resp.Status)
	assert.Equal(t, datatypes.SourceGeneration, resp.Source)
	assert.Equal(t, body.RequestID, resp.RequestID)
	assert.Equal(t, "openai", resp.Provider)
	assert.False(t, resp.CacheHit)
	require.NotNil(t, resp.Validation)
	assert.True(t, resp.Validation.Report.IsCompliant())
}

// TestTranslate_InvalidJSON verifies that a malformed payload returns
// 400 without reaching the pipeline.
func TestTranslate_InvalidJSON(t *testing.T) {
	p := newTestPipeline(t, &stubExamples{}, &stubLLM{name: "openai", sql: compliantSQL})
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRaw(router, "POST", "/api/v1/translate", `{"question":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", errorField(t, w))
}

// TestTranslate_MissingRequestID verifies that field validation failures
// return 400 with the validator's message.
func TestTranslate_MissingRequestID(t *testing.T) {
	p := newTestPipeline(t, &stubExamples{}, &stubLLM{name: "openai", sql: compliantSQL})
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRequest(router, "POST", "/api/v1/translate", map[string]interface{}{
		"question":  "Liste des salariés",
		"timestamp": time.Now().UnixMilli(),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorField(t, w), "RequestID")
}

// TestTranslate_WriteRequestRejected verifies that a question asking for a
// data modification maps to 422 with the product message.
func TestTranslate_WriteRequestRejected(t *testing.T) {
	p := newTestPipeline(t, &stubExamples{}, &stubLLM{name: "openai", sql: compliantSQL})
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRequest(router, "POST", "/api/v1/translate", translationBody("delete tous les salariés"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	msg := errorField(t, w)
	assert.Contains(t, msg, "Opération 'DELETE' non autorisée")
}

// TestTranslate_OffDomainQuestion verifies that the relevance gate's
// rejection maps to 422 with the domain message.
func TestTranslate_OffDomainQuestion(t *testing.T) {
	client := &stubLLM{name: "openai", sql: compliantSQL, relevance: "NON"}
	p := newTestPipeline(t, &stubExamples{}, client)
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRequest(router, "POST", "/api/v1/translate", translationBody("Quelle est la capitale de la France"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, errorField(t, w), "ressources humaines")
}

// TestTranslate_UncorrectableViolation verifies that SQL the corrector
// cannot repair maps to 422 with the violation detail.
func TestTranslate_UncorrectableViolation(t *testing.T) {
	client := &stubLLM{name: "openai", sql: writeSQL}
	p := newTestPipeline(t, &stubExamples{}, client)
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRequest(router, "POST", "/api/v1/translate", translationBody("Liste des salariés présents en 2024"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "La requête générée ne respecte pas le framework obligatoire.", body["error"])
	detail, _ := body["detail"].(string)
	assert.Contains(t, detail, "uncorrectable framework violation")
}

// TestTranslate_ProvidersExhausted verifies that a fully failed chain
// maps to 502.
func TestTranslate_ProvidersExhausted(t *testing.T) {
	client := &stubLLM{name: "openai", err: errors.New("connection refused")}
	p := newTestPipeline(t, &stubExamples{}, client)
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	w := performRequest(router, "POST", "/api/v1/translate", translationBody("Liste des salariés présents en 2024"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, errorField(t, w), "fournisseurs sont indisponibles")
}

// TestTranslate_UnknownProvider verifies that pinning a provider the
// chain does not carry returns 400.
func TestTranslate_UnknownProvider(t *testing.T) {
	p := newTestPipeline(t, &stubExamples{}, &stubLLM{name: "openai", sql: compliantSQL})
	router := createTestRouter("POST", "/api/v1/translate", Translate(p))

	body := translationBody("Liste des salariés présents en 2024")
	body.Provider = "mistral"
	w := performRequest(router, "POST", "/api/v1/translate", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorField(t, w), "unknown provider")
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

// TestTranslationErrorBody verifies the status and body each pipeline
// error class maps to. The WebSocket stream reuses this mapping, so the
// table is the contract for both transports.
func TestTranslationErrorBody(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "relevance rejection",
			err:        &pipeline.RelevanceRejectionError{Question: "capitale de la France"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "ressources humaines",
		},
		{
			name:       "impossible request",
			err:        &pipeline.ImpossibleRequestError{Question: "prédire la météo"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "impossible à traduire",
		},
		{
			name:       "write request from screen",
			err:        &pipeline.WriteRequestError{Operation: "update"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Opération 'UPDATE' non autorisée",
		},
		{
			name:       "write request from generator",
			err:        &pipeline.WriteRequestError{},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "lecture seule",
		},
		{
			name:       "uncorrectable violation",
			err:        &compliance.UncorrectableError{Reason: "statement is not read-only"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "framework obligatoire",
		},
		{
			name:       "invalid question",
			err:        fmt.Errorf("%w: empty after trimming", pipeline.ErrInvalidQuestion),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid question",
		},
		{
			name:       "unknown provider",
			err:        fmt.Errorf("%w: %q", pipeline.ErrUnknownProvider, "mistral"),
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown provider",
		},
		{
			name:       "provider exhaustion",
			err:        &llm.ExhaustionError{Attempts: []error{errors.New("refused")}},
			wantStatus: http.StatusBadGateway,
			wantError:  "fournisseurs sont indisponibles",
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("generation: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "délai dépassé",
		},
		{
			name:       "unclassified failure",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Erreur lors de la traduction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := translationErrorBody(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			msg, _ := body["error"].(string)
			assert.Contains(t, msg, tt.wantError)
		})
	}
}
