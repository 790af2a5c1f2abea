// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package e2e

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// runValidate executes `nl2sqlctl validate --plain` with the given extra
// arguments and returns stdout, stderr, and the exit code.
func runValidate(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	full := append([]string{"validate", "--plain"}, args...)
	cmd := exec.Command(cliBinary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("validate did not run: %v\nstderr: %s", err, stderr.String())
		}
		code = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), code
}

func TestValidate_CompliantStatementExitsZero(t *testing.T) {
	sql := "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE a.ID_USER = ?; #DEPOT_a# #FACTS_b#"

	_, stderr, code := runValidate(t, sql)

	if code != 0 {
		t.Errorf("exit code = %d for a compliant statement\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, "framework compliant") {
		t.Errorf("stderr missing compliance verdict:\n%s", stderr)
	}
}

func TestValidate_NonCompliantStatementExitsNonZero(t *testing.T) {
	sql := "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT;"

	_, stderr, code := runValidate(t, sql)

	if code == 0 {
		t.Errorf("exit code = 0 for a statement missing the tenant filter\nstderr: %s", stderr)
	}
	if !strings.Contains(stderr, "--fix") {
		t.Errorf("stderr does not point at --fix for a correctable statement:\n%s", stderr)
	}
}

func TestValidate_FixPrintsCorrectedSQLOnStdout(t *testing.T) {
	sql := "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT;"

	stdout, stderr, code := runValidate(t, "--fix", sql)

	// A corrected statement was produced, so the run is usable output
	if code != 0 {
		t.Errorf("exit code = %d with --fix on a correctable statement\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "WHERE a.ID_USER = ?") {
		t.Errorf("stdout missing the injected filter:\n%s", stdout)
	}
	if !strings.Contains(stdout, "#DEPOT_a#") {
		t.Errorf("stdout missing the anchor marker:\n%s", stdout)
	}
}

func TestValidate_WriteStatementRejected(t *testing.T) {
	_, stderr, code := runValidate(t, "--fix", "DELETE FROM facts WHERE age > 65;")

	if code == 0 {
		t.Error("exit code = 0 for a DELETE statement")
	}
	if !strings.Contains(stderr, "cannot be made compliant") {
		t.Errorf("stderr missing the terminal verdict:\n%s", stderr)
	}
}

func TestValidate_ReadsStatementFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.sql")
	sql := "SELECT * FROM depot WHERE depot.ID_USER = ?; #DEPOT_depot#\n"
	if err := os.WriteFile(path, []byte(sql), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, stderr, code := runValidate(t, "--file", path)

	if code != 0 {
		t.Errorf("exit code = %d for a compliant file\nstderr: %s", code, stderr)
	}
}

func TestValidate_JSONOutputParsesAndCarriesReport(t *testing.T) {
	stdout, _, code := runValidate(t, "--json", "SELECT * FROM facts;")

	if code == 0 {
		t.Error("exit code = 0 for a statement without the anchor table")
	}
	if !strings.Contains(stdout, `"compliant": false`) {
		t.Errorf("JSON output missing the compliant field:\n%s", stdout)
	}
	if !strings.Contains(stdout, `"report"`) {
		t.Errorf("JSON output missing the report:\n%s", stdout)
	}
}
