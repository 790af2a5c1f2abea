// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_ReturnsNonNil(t *testing.T) {
	spin := NewSpinner("Translating")
	if spin == nil {
		t.Fatal("NewSpinner returned nil")
	}
}

func TestNewSpinner_SetsMessage(t *testing.T) {
	spin := NewSpinner("Seeding examples")
	if spin.currentMessage() != "Seeding examples" {
		t.Errorf("expected message 'Seeding examples', got %q", spin.currentMessage())
	}
}

func TestNewSpinner_InitializesChannels(t *testing.T) {
	spin := NewSpinner("Translating")
	if spin.stop == nil {
		t.Error("stop channel should be initialized")
	}
	if spin.done == nil {
		t.Error("done channel should be initialized")
	}
}

// =============================================================================
// Start/Stop Tests
// =============================================================================

func TestSpinner_StartStop(t *testing.T) {
	withPlain(false, func() {
		captureStderr(func() {
			spin := NewSpinner("Translating")
			spin.Start()
			time.Sleep(120 * time.Millisecond)
			spin.Stop()
		})
	})
}

func TestSpinner_StopWithoutStartIsNoOp(t *testing.T) {
	spin := NewSpinner("Translating")
	// Must not panic or block
	spin.Stop()
}

func TestSpinner_DoubleStartIsNoOp(t *testing.T) {
	withPlain(true, func() {
		out := captureStderr(func() {
			spin := NewSpinner("Translating")
			spin.Start()
			spin.Start()
			spin.Stop()
		})
		if strings.Count(out, "Translating...") != 1 {
			t.Errorf("expected one plain progress line, got %q", out)
		}
	})
}

func TestSpinner_PlainModePrintsMessageOnce(t *testing.T) {
	withPlain(true, func() {
		out := captureStderr(func() {
			spin := NewSpinner("Checking health")
			spin.Start()
			spin.Stop()
		})
		if out != "Checking health...\n" {
			t.Errorf("unexpected plain spinner output: %q", out)
		}
	})
}

func TestSpinner_UpdateMessage(t *testing.T) {
	spin := NewSpinner("first")
	spin.UpdateMessage("second")
	if spin.currentMessage() != "second" {
		t.Errorf("expected updated message, got %q", spin.currentMessage())
	}
}

// =============================================================================
// WithSpinner Tests
// =============================================================================

func TestWithSpinner_ReturnsFnError(t *testing.T) {
	withPlain(true, func() {
		wantErr := errors.New("index unreachable")
		var gotErr error
		captureStderr(func() {
			gotErr = WithSpinner("Seeding examples", func() error {
				return wantErr
			})
		})
		if !errors.Is(gotErr, wantErr) {
			t.Errorf("expected the fn error back, got %v", gotErr)
		}
	})
}

func TestWithSpinner_SuccessPrintsCheckmark(t *testing.T) {
	withPlain(true, func() {
		out := captureStderr(func() {
			if err := WithSpinner("Seeding examples", func() error { return nil }); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
		if !strings.Contains(out, "✓ Seeding examples") {
			t.Errorf("expected success line, got %q", out)
		}
	})
}

func TestWithSpinner_ErrorPrintsCross(t *testing.T) {
	withPlain(true, func() {
		out := captureStderr(func() {
			WithSpinner("Seeding examples", func() error {
				return errors.New("boom")
			})
		})
		if !strings.Contains(out, "✗ Seeding examples: boom") {
			t.Errorf("expected error line, got %q", out)
		}
	})
}
