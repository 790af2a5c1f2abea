// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple question", input: "Quels sont les salariés de plus de 50 ans ?", wantErr: false},
		{name: "accented text", input: "Masse salariale par département en 2024", wantErr: false},
		{name: "multiline is allowed", input: "Liste des salariés\npar ville", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   \t  ", wantErr: true},
		{name: "exactly at the limit", input: strings.Repeat("a", 1000), wantErr: false},
		{name: "one over the limit", input: strings.Repeat("a", 1001), wantErr: true},
		{name: "null byte", input: "salariés\x00", wantErr: true},
		{name: "escape sequence", input: "salariés\x1b[31m", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateQuestion(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateQuestion(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestValidateQuestionCountsRunesNotBytes(t *testing.T) {
	// 1000 two-byte runes: 2000 bytes but exactly at the rune limit.
	input := strings.Repeat("é", 1000)
	if err := ValidateQuestion(input); err != nil {
		t.Errorf("ValidateQuestion rejected a 1000-rune question: %v", err)
	}
}

func TestSanitizeQuestion(t *testing.T) {
	got, err := SanitizeQuestion("  Quels   sont les\tsalariés  en 2024 ?  ")
	if err != nil {
		t.Fatalf("SanitizeQuestion failed: %v", err)
	}
	want := "Quels sont les salariés en 2024 ?"
	if got != want {
		t.Errorf("SanitizeQuestion = %q, want %q", got, want)
	}

	if _, err := SanitizeQuestion("   "); err == nil {
		t.Error("SanitizeQuestion accepted whitespace-only input")
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"openai", "gpt-4o-mini", "claude-haiku-4-5", "sqlcoder:7b", "v2.1", "schema_2024"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "quote'", strings.Repeat("x", 65), "-leadinghyphen"}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", name)
		}
	}
}
