// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package secrets

import (
	"strings"
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NL2SQL_TEST_API_KEY", "sk-test-abc123")

	key, err := Load("test-provider", "NL2SQL_TEST_API_KEY")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := key.Name(); got != "test-provider" {
		t.Errorf("Name() = %q, want %q", got, "test-provider")
	}

	value, err := key.Reveal()
	if err != nil {
		t.Fatalf("Reveal() error = %v", err)
	}
	if value != "sk-test-abc123" {
		t.Errorf("Reveal() = %q, want %q", value, "sk-test-abc123")
	}
}

func TestLoadTrimsWhitespace(t *testing.T) {
	t.Setenv("NL2SQL_TEST_API_KEY", "  sk-test-abc123\n")

	key, err := Load("test-provider", "NL2SQL_TEST_API_KEY")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	value, err := key.Reveal()
	if err != nil {
		t.Fatalf("Reveal() error = %v", err)
	}
	if value != "sk-test-abc123" {
		t.Errorf("Reveal() = %q, want trimmed %q", value, "sk-test-abc123")
	}
}

func TestLoadMissingCredential(t *testing.T) {
	t.Setenv("NL2SQL_TEST_MISSING_KEY", "")

	_, err := Load("absent", "NL2SQL_TEST_MISSING_KEY")
	if err == nil {
		t.Fatal("Load() expected error for unresolvable credential")
	}

	// The error must tell the operator both ways to provide the value.
	if !strings.Contains(err.Error(), "NL2SQL_TEST_MISSING_KEY") {
		t.Errorf("error %q does not name the environment variable", err)
	}
	if !strings.Contains(err.Error(), "/run/secrets/nl2sql_test_missing_key") {
		t.Errorf("error %q does not name the secret file path", err)
	}
}

func TestRevealIsRepeatable(t *testing.T) {
	t.Setenv("NL2SQL_TEST_API_KEY", "sk-test-repeat")

	key, err := Load("test-provider", "NL2SQL_TEST_API_KEY")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	first, err := key.Reveal()
	if err != nil {
		t.Fatalf("first Reveal() error = %v", err)
	}
	second, err := key.Reveal()
	if err != nil {
		t.Fatalf("second Reveal() error = %v", err)
	}
	if first != second {
		t.Errorf("Reveal() not stable: %q then %q", first, second)
	}
}

func TestVerify(t *testing.T) {
	t.Setenv("NL2SQL_TEST_API_KEY", "sk-test-verify")

	key, err := Load("test-provider", "NL2SQL_TEST_API_KEY")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"exact match", "sk-test-verify", true},
		{"wrong value", "sk-test-wrong", false},
		{"empty candidate", "", false},
		{"prefix only", "sk-test", false},
		{"trailing garbage", "sk-test-verifyX", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := key.Verify(tt.candidate); got != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestIsMlockAvailable(t *testing.T) {
	available, limitKB := IsMlockAvailable()

	// Either sealed storage works, or we learned the concrete limit.
	if !available && limitKB < 0 {
		t.Errorf("IsMlockAvailable() = (%v, %d): insufficient but no limit reported", available, limitKB)
	}
}
