// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TranslationRequest Tests
// =============================================================================

func TestTranslationRequestValidate_Valid(t *testing.T) {
	req := TranslationRequest{
		Question: "Quels sont les salariés embauchés en 2024 ?",
	}
	req.EnsureDefaults()

	assert.NoError(t, req.Validate())
}

func TestTranslationRequestValidate_AllFields(t *testing.T) {
	req := TranslationRequest{
		Question:      "Combien de salariés par dépôt ?",
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		SchemaVersion: "v2.1",
		BypassCache:   true,
		MaxExamples:   5,
	}
	req.EnsureDefaults()

	assert.NoError(t, req.Validate())
}

func TestTranslationRequestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *TranslationRequest)
	}{
		{"missing question", func(r *TranslationRequest) { r.Question = "" }},
		{"oversized question", func(r *TranslationRequest) { r.Question = strings.Repeat("a", MaxQuestionBytes+1) }},
		{"malformed request id", func(r *TranslationRequest) { r.RequestID = "not-a-uuid" }},
		{"zero timestamp", func(r *TranslationRequest) { r.Timestamp = -1 }},
		{"provider with spaces", func(r *TranslationRequest) { r.Provider = "open ai" }},
		{"model with quote", func(r *TranslationRequest) { r.Model = "gpt'4" }},
		{"too many examples", func(r *TranslationRequest) { r.MaxExamples = 11 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := TranslationRequest{Question: "Quels dépôts sont actifs ?"}
			req.EnsureDefaults()
			tt.mutate(&req)

			assert.Error(t, req.Validate())
		})
	}
}

func TestTranslationRequestEnsureDefaults(t *testing.T) {
	req := TranslationRequest{Question: "Quels dépôts sont actifs ?"}

	before := time.Now().UnixMilli()
	req.EnsureDefaults()
	after := time.Now().UnixMilli()

	require.NotEmpty(t, req.RequestID)
	assert.Len(t, req.RequestID, 36, "RequestID should be a canonical UUID")
	assert.GreaterOrEqual(t, req.Timestamp, before)
	assert.LessOrEqual(t, req.Timestamp, after)
}

func TestTranslationRequestEnsureDefaults_PreservesClientValues(t *testing.T) {
	req := TranslationRequest{
		RequestID: "550e8400-e29b-41d4-a716-446655440000",
		Timestamp: 1735817400000,
		Question:  "Quels dépôts sont actifs ?",
	}
	req.EnsureDefaults()

	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", req.RequestID)
	assert.Equal(t, int64(1735817400000), req.Timestamp)
}

// =============================================================================
// TranslationResponse Tests
// =============================================================================

func TestNewTranslationResponse(t *testing.T) {
	resp := NewTranslationResponse(
		"550e8400-e29b-41d4-a716-446655440000",
		"SELECT b.NOM FROM depot a JOIN facts b ON a.ID = b.ID_NUMDEPOT WHERE a.ID_USER = ?; #DEPOT_a# #FACTS_b#",
	)

	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.ResponseID)
	assert.NotEqual(t, resp.RequestID, resp.ResponseID)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", resp.RequestID)
	assert.Greater(t, resp.Timestamp, int64(0))
	assert.Contains(t, resp.SQL, "#DEPOT_a#")
}

// =============================================================================
// ValidateRequest Tests
// =============================================================================

func TestValidateRequestValidate(t *testing.T) {
	valid := ValidateRequest{SQL: "SELECT NOM FROM depot;"}
	assert.NoError(t, valid.Validate())

	empty := ValidateRequest{}
	assert.Error(t, empty.Validate())

	oversized := ValidateRequest{SQL: strings.Repeat("x", MaxSQLBytes+1)}
	assert.Error(t, oversized.Validate())
}

// =============================================================================
// SuggestionsRequest Tests
// =============================================================================

func TestSuggestionsRequestValidate(t *testing.T) {
	valid := SuggestionsRequest{Question: "ancienneté moyenne", Limit: 5}
	assert.NoError(t, valid.Validate())

	noQuestion := SuggestionsRequest{Limit: 5}
	assert.Error(t, noQuestion.Validate())

	tooMany := SuggestionsRequest{Question: "ancienneté moyenne", Limit: 21}
	assert.Error(t, tooMany.Validate())
}

// =============================================================================
// generateUUID Tests
// =============================================================================

func TestGenerateUUID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateUUID()
		require.False(t, seen[id], "generateUUID produced a duplicate: %s", id)
		seen[id] = true
	}
}
