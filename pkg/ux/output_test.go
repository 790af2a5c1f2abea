// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// withPlain runs f in the given plain mode and restores the previous one.
func withPlain(plain bool, f func()) {
	prev := IsPlain()
	SetPlain(plain)
	defer SetPlain(prev)
	f()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_AllIconsNonEmpty(t *testing.T) {
	icons := []Icon{IconSuccess, IconWarning, IconError, IconPending, IconBullet}
	for _, icon := range icons {
		if icon.Render() == "" {
			t.Errorf("expected non-empty render for icon %q", string(icon))
		}
	}
}

func TestIcon_Render_PlainModeReturnsBareGlyph(t *testing.T) {
	withPlain(true, func() {
		if got := IconSuccess.Render(); got != string(IconSuccess) {
			t.Errorf("expected bare glyph in plain mode, got %q", got)
		}
		if got := IconError.Render(); got != string(IconError) {
			t.Errorf("expected bare glyph in plain mode, got %q", got)
		}
	})
}

// =============================================================================
// Plain Mode Tests
// =============================================================================

func TestSetPlain_Toggles(t *testing.T) {
	withPlain(true, func() {
		if !IsPlain() {
			t.Error("expected plain mode after SetPlain(true)")
		}
		SetPlain(false)
		if IsPlain() {
			t.Error("expected styled mode after SetPlain(false)")
		}
	})
}

// =============================================================================
// Print Helper Tests
// =============================================================================

func TestTitle_WritesToStderr(t *testing.T) {
	out := captureStderr(func() {
		Title("Translation")
	})
	if !strings.Contains(out, "Translation") {
		t.Errorf("expected title text in stderr, got %q", out)
	}
}

func TestSuccess_PlainModeIncludesIconAndText(t *testing.T) {
	withPlain(true, func() {
		out := captureStderr(func() {
			Success("seeded 12 examples")
		})
		if out != "✓ seeded 12 examples\n" {
			t.Errorf("unexpected plain success line: %q", out)
		}
	})
}

func TestError_IncludesText(t *testing.T) {
	out := captureStderr(func() {
		Error("server unreachable")
	})
	if !strings.Contains(out, "server unreachable") {
		t.Errorf("expected error text in stderr, got %q", out)
	}
}

// =============================================================================
// Render Helper Tests
// =============================================================================

func TestRenderSQL_PlainModePassesThrough(t *testing.T) {
	withPlain(true, func() {
		sql := "SELECT b.NOM FROM depot a"
		if got := RenderSQL(sql); got != sql {
			t.Errorf("expected passthrough in plain mode, got %q", got)
		}
	})
}

func TestRenderSQL_StyledModeWrapsInBox(t *testing.T) {
	withPlain(false, func() {
		got := RenderSQL("SELECT 1")
		if !strings.Contains(got, "SELECT 1") {
			t.Errorf("expected SQL text in box, got %q", got)
		}
		// Rounded border corners from the SQLBox style
		if !strings.Contains(got, "╭") || !strings.Contains(got, "╰") {
			t.Errorf("expected box borders, got %q", got)
		}
	})
}

func TestRenderCheck_PassAndFail(t *testing.T) {
	withPlain(true, func() {
		if got := RenderCheck("read only", true); got != "✓ read only" {
			t.Errorf("unexpected pass line: %q", got)
		}
		if got := RenderCheck("user filter", false); got != "✗ user filter" {
			t.Errorf("unexpected fail line: %q", got)
		}
	})
}

func TestKeyValue_PlainMode(t *testing.T) {
	withPlain(true, func() {
		if got := KeyValue("provider", "openai"); got != "provider: openai" {
			t.Errorf("unexpected key-value line: %q", got)
		}
	})
}

// =============================================================================
// InitTerminal Tests
// =============================================================================

func TestInitTerminal_EnvForcesPlain(t *testing.T) {
	t.Setenv("NL2SQL_PLAIN", "1")
	prev := IsPlain()
	defer SetPlain(prev)

	InitTerminal()
	if !IsPlain() {
		t.Error("expected plain mode when NL2SQL_PLAIN is set")
	}
}

func TestInitTerminal_NonTerminalStderrIsPlain(t *testing.T) {
	t.Setenv("NL2SQL_PLAIN", "")
	prev := IsPlain()
	defer SetPlain(prev)

	// captureStderr swaps os.Stderr for a pipe, which is never a terminal.
	captureStderr(func() {
		InitTerminal()
	})
	if !IsPlain() {
		t.Error("expected plain mode when stderr is not a terminal")
	}
}
