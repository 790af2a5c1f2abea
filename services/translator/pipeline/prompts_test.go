// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

func TestStripMarkdownSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sql fence",
			in:   "```sql\nSELECT 1;\n```",
			want: "SELECT 1;",
		},
		{
			name: "bare fence",
			in:   "```\nSELECT 1;\n```",
			want: "SELECT 1;",
		},
		{
			name: "no fence",
			in:   "  SELECT 1;  ",
			want: "SELECT 1;",
		},
		{
			name: "fence without newline",
			in:   "```sql SELECT 1; ```",
			want: "SELECT 1;",
		},
		{
			name: "sentinel inside fence",
			in:   "```sql\nIMPOSSIBLE\n```",
			want: "IMPOSSIBLE",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripMarkdownSQL(tc.in))
		})
	}
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, isSentinel("IMPOSSIBLE", sentinelImpossible))
	assert.True(t, isSentinel("impossible", sentinelImpossible))
	assert.True(t, isSentinel("  READONLY_VIOLATION  ", sentinelReadOnly))

	// SQL containing the word is SQL, not a refusal.
	assert.False(t, isSentinel("SELECT 'IMPOSSIBLE' FROM depot a WHERE a.ID_USER = ?", sentinelImpossible))
	assert.False(t, isSentinel("IMPOSSIBLE.", sentinelImpossible))
	assert.False(t, isSentinel("", sentinelImpossible))
}

func TestParseRelevance(t *testing.T) {
	assert.True(t, parseRelevance("OUI"))
	assert.True(t, parseRelevance("Oui, cette question concerne les RH."))
	assert.False(t, parseRelevance("NON"))
	assert.False(t, parseRelevance("Je ne peux pas répondre."))
}

func TestParseSemanticVerdict(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantValid bool
		wantMsg   string
	}{
		{"plain oui", "OUI", true, msgSemanticOK},
		{"plain non", "NON", false, msgSemanticDoubt},
		{"hors sujet spaced", "HORS SUJET", false, msgSemanticOffTopic},
		{"hors sujet underscored", "HORS_SUJET", false, msgSemanticOffTopic},
		{"hors sujet padded with non", "NON, HORS SUJET", false, msgSemanticOffTopic},
		{"unrecognizable", "Je pense que la requête est correcte.", true, msgSemanticAmbiguous},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := parseSemanticVerdict(tc.in)
			assert.Equal(t, tc.wantValid, v.Valid)
			assert.Equal(t, tc.wantMsg, v.Message)
		})
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	examples := []datatypes.CandidateMatch{
		{Question: "Combien de salariés ?", SQL: "SELECT COUNT(*) ...", Certainty: 0.91},
		{Question: "Liste des contrats", SQL: "SELECT c.TYPE ...", Certainty: 0.88},
	}
	prompt := buildGenerationPrompt("Quels salariés en 2024 ?", "CREATE TABLE depot (...)", examples)

	assert.Contains(t, prompt, "Question: Quels salariés en 2024 ?")
	assert.Contains(t, prompt, "Schéma:\nCREATE TABLE depot (...)")
	assert.Contains(t, prompt, "Exemple 1 (Score: 0.91)")
	assert.Contains(t, prompt, "Exemple 2 (Score: 0.88)")
	assert.Contains(t, prompt, `Question: "Combien de salariés ?"`)
	assert.Contains(t, prompt, "ID_USER = ?")
	assert.Contains(t, prompt, "DEPOT")

	bare := buildGenerationPrompt("q", "schema", nil)
	assert.NotContains(t, bare, "Exemples de requêtes similaires")
}

func TestSystemPromptsCarrySentinelProtocol(t *testing.T) {
	assert.Contains(t, generationSystemPrompt, sentinelImpossible)
	assert.Contains(t, generationSystemPrompt, sentinelReadOnly)
	assert.Contains(t, generationSystemPrompt, "UNIQUEMENT")
}

func TestBuildRelevancePrompt(t *testing.T) {
	prompt := buildRelevancePrompt("Quelle est la masse salariale ?")
	assert.Contains(t, prompt, `Question: "Quelle est la masse salariale ?"`)
	assert.Contains(t, prompt, `"OUI" ou "NON"`)
}

func TestBuildSemanticValidationPrompt(t *testing.T) {
	prompt := buildSemanticValidationPrompt("SELECT 1;", "ma demande", "le schéma")
	assert.Contains(t, prompt, `cette demande: "ma demande"`)
	assert.Contains(t, prompt, "```sql\nSELECT 1;\n```")
	assert.Contains(t, prompt, `"OUI" ou "NON" ou "HORS SUJET"`)
}
