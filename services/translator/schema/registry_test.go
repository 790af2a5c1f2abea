// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleDocument = `# Table DEPOT
Table d'ancrage des depots de paie. Colonnes: ID_USER, PERIODE, SIREN.

# Table FACTS
Table de faits des lignes de paie. Colonnes: ID_NUMOBS, MTT, NB.
`

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing schema file: %v", err)
	}
	return path
}

func openTestRegistry(t *testing.T, path string) *Registry {
	t.Helper()
	reg, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { _ = reg.Stop() })
	return reg
}

func TestOpenLoadsDocument(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)

	if got := reg.Document(); got != sampleDocument {
		t.Errorf("Document() = %q, want the file content", got)
	}
	if got := reg.Source(); got != path {
		t.Errorf("Source() = %q, want %q", got, path)
	}

	version := reg.Version()
	if len(version) != 12 {
		t.Errorf("Version() = %q, want 12 hex characters", version)
	}
	if strings.ToLower(version) != version {
		t.Errorf("Version() = %q, want lowercase hex", version)
	}
}

func TestOpenRejectsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.md")
	if _, err := Open(context.Background(), path); err == nil {
		t.Fatal("Open succeeded for a missing file")
	}
}

func TestOpenRejectsEmptyDocument(t *testing.T) {
	path := writeSchemaFile(t, "  \n\t\n")
	if _, err := Open(context.Background(), path); err == nil {
		t.Fatal("Open succeeded for a blank document")
	}
}

func TestOpenRequiresSource(t *testing.T) {
	for _, source := range []string{"", "   "} {
		if _, err := Open(context.Background(), source); err == nil {
			t.Errorf("Open(%q) succeeded, want error", source)
		}
	}
}

func TestContentVersion(t *testing.T) {
	a := contentVersion("document one")
	b := contentVersion("document one")
	c := contentVersion("document two")

	if a != b {
		t.Errorf("same content produced versions %q and %q", a, b)
	}
	if a == c {
		t.Error("different content produced the same version")
	}
	if len(a) != 12 {
		t.Errorf("version %q is not 12 characters", a)
	}
}

func TestSnapshotPairsDocumentAndVersion(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)

	doc, version := reg.Snapshot()
	if doc != sampleDocument {
		t.Errorf("Snapshot document = %q", doc)
	}
	if version != contentVersion(sampleDocument) {
		t.Errorf("Snapshot version = %q, want %q", version, contentVersion(sampleDocument))
	}
}

func TestRefreshSwapsDocument(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)
	originalVersion := reg.Version()

	updated := sampleDocument + "\n# Table CONTRATS\nTable des contrats.\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting schema file: %v", err)
	}

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := reg.Document(); got != updated {
		t.Errorf("Document() = %q after refresh, want updated content", got)
	}
	if reg.Version() == originalVersion {
		t.Error("Version() unchanged after content changed")
	}
}

func TestRefreshKeepsPreviousDocumentOnFailure(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing schema file: %v", err)
	}

	if err := reg.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded after the source vanished")
	}
	if got := reg.Document(); got != sampleDocument {
		t.Error("previous document was not preserved after a failed refresh")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)
	originalVersion := reg.Version()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Watch(ctx)

	// Rewrite until the watcher picks it up; the first write can race the
	// watch registration.
	updated := sampleDocument + "\n# Table ABSENCES\nTable des absences.\n"
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && reg.Version() == originalVersion {
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			t.Fatalf("rewriting schema file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if reg.Version() == originalVersion {
		t.Fatal("watcher never reloaded the document")
	}
	if got := reg.Document(); got != updated {
		t.Errorf("Document() = %q after reload, want updated content", got)
	}
}

func TestWatchReloadsOnRenameReplace(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg := openTestRegistry(t, path)
	originalVersion := reg.Version()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Watch(ctx)

	// Editors and deploy scripts replace the file rather than rewriting it
	// in place.
	updated := sampleDocument + "\n# Table PRIMES\nTable des primes.\n"
	tmp := path + ".tmp"
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && reg.Version() == originalVersion {
		if err := os.WriteFile(tmp, []byte(updated), 0o644); err != nil {
			t.Fatalf("writing replacement file: %v", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("renaming replacement file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if reg.Version() == originalVersion {
		t.Fatal("watcher never reloaded after a rename replace")
	}
	if got := reg.Document(); got != updated {
		t.Errorf("Document() = %q after reload, want replacement content", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	path := writeSchemaFile(t, sampleDocument)
	reg, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := reg.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := reg.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSplitGCSSource(t *testing.T) {
	tests := []struct {
		source  string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://schemas/hr/schema.md", "schemas", "hr/schema.md", false},
		{"gs://schemas/schema.md", "schemas", "schema.md", false},
		{"gs://schemas", "", "", true},
		{"gs://schemas/", "", "", true},
		{"gs:///schema.md", "", "", true},
	}

	for _, tt := range tests {
		bucket, object, err := splitGCSSource(tt.source)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitGCSSource(%q) succeeded, want error", tt.source)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitGCSSource(%q): %v", tt.source, err)
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("splitGCSSource(%q) = (%q, %q), want (%q, %q)",
				tt.source, bucket, object, tt.bucket, tt.object)
		}
	}
}
