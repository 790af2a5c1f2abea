// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{429, KindQuota},
		{500, KindNetwork},
		{502, KindNetwork},
		{503, KindNetwork},
		{400, KindUnknown},
		{404, KindUnknown},
		{422, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			if got := classifyStatus(tt.code); got != tt.want {
				t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestProviderErrorHelpers(t *testing.T) {
	authErr := NewProviderError("openai", 401, fmt.Errorf("invalid key"))
	quotaErr := NewProviderError("anthropic", 429, fmt.Errorf("rate limited"))
	netErr := NewTransportError("ollama", fmt.Errorf("connection refused"))

	if !IsAuth(authErr) || IsQuota(authErr) || IsNetwork(authErr) {
		t.Errorf("401 should classify as auth only")
	}
	if !IsQuota(quotaErr) || IsAuth(quotaErr) || IsNetwork(quotaErr) {
		t.Errorf("429 should classify as quota only")
	}
	if !IsNetwork(netErr) || IsAuth(netErr) || IsQuota(netErr) {
		t.Errorf("transport failure should classify as network only")
	}
}

func TestProviderErrorSurvivesWrapping(t *testing.T) {
	inner := NewProviderError("openai", 429, fmt.Errorf("rate limited"))
	wrapped := fmt.Errorf("generation failed: %w", inner)

	if !IsQuota(wrapped) {
		t.Error("IsQuota should see through fmt.Errorf wrapping")
	}

	var pe *ProviderError
	if !errors.As(wrapped, &pe) {
		t.Fatal("errors.As should extract the ProviderError")
	}
	if pe.Provider != "openai" || pe.StatusCode != 429 {
		t.Errorf("unexpected extracted error: %+v", pe)
	}
}

func TestProviderErrorMessageNamesProvider(t *testing.T) {
	err := NewProviderError("anthropic", 503, fmt.Errorf("overloaded"))

	msg := err.Error()
	if !strings.Contains(msg, "anthropic") {
		t.Errorf("error %q does not name the provider", msg)
	}
	if !strings.Contains(msg, "503") {
		t.Errorf("error %q does not carry the status code", msg)
	}
	if !strings.Contains(msg, "network") {
		t.Errorf("error %q does not carry the failure kind", msg)
	}
}

func TestExhaustionError(t *testing.T) {
	exhausted := &ExhaustionError{Attempts: []error{
		NewProviderError("openai", 429, fmt.Errorf("rate limited")),
		NewTransportError("ollama", fmt.Errorf("connection refused")),
	}}

	if !IsExhausted(exhausted) {
		t.Error("IsExhausted should match an ExhaustionError")
	}
	if IsExhausted(fmt.Errorf("something else")) {
		t.Error("IsExhausted should not match arbitrary errors")
	}

	msg := exhausted.Error()
	for _, want := range []string{"all 2 providers failed", "openai", "ollama"} {
		if !strings.Contains(msg, want) {
			t.Errorf("exhaustion message %q missing %q", msg, want)
		}
	}

	// The per-provider classification must survive inside the exhaustion error.
	if !IsQuota(errors.Join(exhausted.Attempts...)) {
		t.Error("quota classification lost inside the attempt list")
	}
}
