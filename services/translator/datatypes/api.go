// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request, response, and storage types for the
// translator service.
//
// This file contains the HTTP API surface: translation, validation, and
// suggestion request/response bodies. Weaviate storage types live in
// weaviate.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/datasulting/nl2sql/pkg/validation"
	"github.com/datasulting/nl2sql/services/translator/compliance"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of a natural-language question.
	// Byte length (not rune count) to bound memory before any processing.
	MaxQuestionBytes = 8 * 1024 // 8KB

	// MaxSQLBytes is the maximum size of a SQL statement submitted for
	// standalone validation.
	MaxSQLBytes = 64 * 1024 // 64KB

	// MaxExamplesPerRequest caps how many retrieved examples a caller may
	// ask the generator to use.
	MaxExamplesPerRequest = 10
)

// Validation outcome for a candidate SQL statement.
const (
	StatusAccepted  = "accepted"
	StatusCorrected = "corrected"
	StatusRejected  = "rejected"
)

// Where the returned SQL came from.
const (
	SourceCache      = "cache"
	SourceExactMatch = "exact_match"
	SourceGeneration = "generation"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for API datatypes.
// Initialized in init() with custom validators.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()

	// Question and SQL sizes are checked in bytes, not runes, to bound
	// memory with multi-byte French text.
	_ = apiValidate.RegisterValidation("maxquestion", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxQuestionBytes
	})
	_ = apiValidate.RegisterValidation("maxsql", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxSQLBytes
	})

	// Provider, model, and schema-version names flow into cache keys and
	// usage tags, so they share the identifier rules from pkg/validation.
	_ = apiValidate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return validation.ValidateIdentifier(fl.Field().String()) == nil
	})
}

// =============================================================================
// Translation Request/Response Types
// =============================================================================

// TranslationRequest represents a natural-language to SQL translation request.
//
// # Description
//
// TranslationRequest carries the user's question plus optional routing hints
// for the POST /v1/translate endpoint. Every request includes a unique ID and
// timestamp for audit trails and correlation.
//
// # Fields
//
//   - RequestID: Required. Unique identifier for this request (UUID v4).
//     Generated server-side by EnsureDefaults when the client omits it.
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - Question: Required. The natural-language question, max 8KB.
//   - Provider: Optional. Pin the request to one provider ("openai",
//     "anthropic", "google", "ollama") instead of the configured chain.
//   - Model: Optional. Advisory model name. Participates in cache keying and
//     is echoed in the response; the provider's configured model does the work.
//   - SchemaVersion: Optional. Pin to a specific schema generation; defaults
//     to the registry's current version.
//   - BypassCache: Optional. Skip the cache lookup. The accepted result is
//     still stored, so a bypass refreshes a stale entry.
//   - MaxExamples: Optional. Cap on retrieved examples fed to the generator
//     (0 = server default).
//   - IncludeExplanation: Optional. Also produce a short natural-language
//     explanation of the returned SQL.
//
// # Examples
//
//	req := TranslationRequest{
//	    Question: "Quels salariés ont plus de 5 ans d'ancienneté ?",
//	}
//	req.EnsureDefaults()
//	if err := req.Validate(); err != nil { ... }
type TranslationRequest struct {
	RequestID          string `json:"request_id" validate:"required,uuid4"`
	Timestamp          int64  `json:"timestamp" validate:"required,gt=0"`
	Question           string `json:"question" validate:"required,maxquestion"`
	Provider           string `json:"provider,omitempty" validate:"omitempty,identifier"`
	Model              string `json:"model,omitempty" validate:"omitempty,identifier"`
	SchemaVersion      string `json:"schema_version,omitempty" validate:"omitempty,identifier"`
	BypassCache        bool   `json:"bypass_cache,omitempty"`
	MaxExamples        int    `json:"max_examples,omitempty" validate:"gte=0,lte=10"`
	IncludeExplanation bool   `json:"include_explanation,omitempty"`
}

// Validate validates the TranslationRequest fields.
//
// Call after EnsureDefaults; a client-omitted RequestID is filled there,
// not rejected here.
func (r *TranslationRequest) Validate() error {
	return apiValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted them.
func (r *TranslationRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// TranslationResponse represents the outcome of a translation request.
//
// # Description
//
// Contains the final SQL (already filtered and marked for tenant isolation),
// how it was produced, and the validation detail. Every response includes a
// unique ID and timestamp for audit trails.
//
// # Fields
//
//   - ResponseID: Unique identifier for this response (UUID v4), server-generated.
//   - RequestID: Echo of the request ID for correlation.
//   - Timestamp: Unix timestamp in milliseconds (UTC) when the response was built.
//   - SQL: The final SQL statement, compliant with the access framework.
//   - Status: "accepted" (compliant as generated) or "corrected" (repaired).
//   - Source: "cache", "exact_match", or "generation".
//   - Provider/Model: Which backend produced the SQL. Empty for cache hits.
//   - Validation: Full validation detail including the compliance report.
//   - Explanation: Natural-language explanation of the SQL, only when the
//     request asked for one. Failures here never fail the translation.
//   - ExamplesUsed: How many retrieved examples the generator was shown.
//   - CacheHit: True when the response was served from the translation cache.
//   - ProcessingTimeMs: Wall time spent in the pipeline.
type TranslationResponse struct {
	ResponseID       string            `json:"response_id"`
	RequestID        string            `json:"request_id"`
	Timestamp        int64             `json:"timestamp"`
	SQL              string            `json:"sql"`
	Status           string            `json:"status"`
	Source           string            `json:"source"`
	Provider         string            `json:"provider,omitempty"`
	Model            string            `json:"model,omitempty"`
	Validation       *ValidationResult `json:"validation,omitempty"`
	Explanation      string            `json:"explanation,omitempty"`
	ExamplesUsed     int               `json:"examples_used,omitempty"`
	CacheHit         bool              `json:"cache_hit"`
	ProcessingTimeMs int64             `json:"processing_time_ms,omitempty"`
}

// NewTranslationResponse creates a TranslationResponse with auto-generated
// ID and timestamp.
//
// # Inputs
//
//   - requestID: The request ID to echo back for correlation
//   - sql: The final, framework-compliant SQL statement
//
// # Outputs
//
//   - *TranslationResponse: A new response with ResponseID and Timestamp set
func NewTranslationResponse(requestID, sql string) *TranslationResponse {
	return &TranslationResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		SQL:        sql,
	}
}

// ValidationResult is the outcome of running a candidate statement through
// the compliance pipeline.
//
// # Fields
//
//   - Status: "accepted", "corrected", or "rejected".
//   - SQL: The statement after any correction. Empty when rejected.
//   - Report: The compliance report for the final statement. For corrected
//     statements this is the re-analysis of the repaired SQL; for rejected
//     ones it is the report that triggered the rejection.
//   - Consistency: Present on the exact-match path, where the candidate's
//     temporal references were checked against the request.
//   - Reason: Human-readable outcome message in the product language;
//     how the SQL was admitted, or why it was rejected.
type ValidationResult struct {
	Status      string                         `json:"status"`
	SQL         string                         `json:"sql,omitempty"`
	Report      compliance.Report              `json:"report"`
	Consistency *compliance.ConsistencyVerdict `json:"consistency,omitempty"`
	Reason      string                         `json:"reason,omitempty"`
}

// =============================================================================
// Standalone Validation Types
// =============================================================================

// ValidateRequest asks for a compliance analysis of an existing statement,
// without any retrieval or generation. Used by the POST /v1/validate
// diagnostic endpoint.
type ValidateRequest struct {
	SQL               string `json:"sql" validate:"required,maxsql"`
	AttemptCorrection bool   `json:"attempt_correction,omitempty"`
}

// Validate validates the ValidateRequest fields.
func (r *ValidateRequest) Validate() error {
	return apiValidate.Struct(r)
}

// ValidateResponse carries the compliance report for a submitted statement
// and, when correction was requested and possible, the repaired SQL.
type ValidateResponse struct {
	Compliant    bool              `json:"compliant"`
	Report       compliance.Report `json:"report"`
	CorrectedSQL string            `json:"corrected_sql,omitempty"`
	Correctable  bool              `json:"correctable"`
	Reason       string            `json:"reason,omitempty"`
}

// =============================================================================
// Suggestion Types
// =============================================================================

// SuggestionsRequest asks for questions similar to the given one, with their
// stored SQL. Used by the POST /v1/suggestions endpoint for autocomplete-style
// UIs.
type SuggestionsRequest struct {
	Question      string `json:"question" validate:"required,maxquestion"`
	SchemaVersion string `json:"schema_version,omitempty" validate:"omitempty,identifier"`
	Limit         int    `json:"limit,omitempty" validate:"gte=0,lte=20"`
}

// Validate validates the SuggestionsRequest fields.
func (r *SuggestionsRequest) Validate() error {
	return apiValidate.Struct(r)
}

// CandidateMatch is a stored question/SQL pair returned by similarity search.
//
// Certainty is Weaviate's normalized cosine similarity in [0,1]; 1 means the
// stored question's vector matches the query vector exactly.
type CandidateMatch struct {
	Question      string  `json:"question"`
	SQL           string  `json:"sql"`
	SchemaVersion string  `json:"schema_version,omitempty"`
	Certainty     float32 `json:"certainty"`
}

// SuggestionsResponse carries similarity-ranked candidate matches.
type SuggestionsResponse struct {
	Suggestions []CandidateMatch `json:"suggestions"`
}

// =============================================================================
// Health Types
// =============================================================================

// HealthResponse reports service liveness and per-dependency status for the
// GET /health endpoint. Status is "healthy" or "degraded"; dependency values
// are "ok" (possibly qualified), "disabled", "not configured", or an error
// summary. The service stays up when cache or retrieval are degraded.
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Timestamp    int64             `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// =============================================================================
// LLM Message Types
// =============================================================================

// Message is a single turn in an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}
