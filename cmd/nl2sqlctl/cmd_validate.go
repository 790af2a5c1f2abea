// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datasulting/nl2sql/pkg/ux"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	validateFile   string // Read the statement from a file, "-" for stdin
	validateFix    bool   // Attempt automatic correction
	validateJSON   bool   // Output the full report as JSON
	validateRemote bool   // Ask the server instead of the embedded policy
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// validateCmd checks a statement against the embedded framework policy.
// It runs entirely locally: the same policy ships in every binary, so no
// server is needed to lint SQL in an editor hook or CI job.
var validateCmd = &cobra.Command{
	Use:   "validate [sql]",
	Short: "Check a SQL statement against the framework policy",
	Long: `Analyzes one SQL statement against the mandatory framework: read-only
operations, anchor table presence, caller isolation filter, and the
trailing traceability markers.

Runs locally against the embedded policy. The decision tree matches the
server's /api/v1/validate endpoint, so local and remote verdicts agree
for the same statement. Pass --remote to ask the server instead, which
matters when the deployed policy is newer than this binary's copy.

Examples:
  nl2sqlctl validate "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT"
  nl2sqlctl validate --file query.sql --fix
  cat query.sql | nl2sqlctl validate --file - --json`,
	Run: runValidateCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "",
		"Read the statement from a file, or stdin with '-'")
	validateCmd.Flags().BoolVar(&validateFix, "fix", false,
		"Attempt automatic correction and print the corrected SQL")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false,
		"Output the full report as JSON")
	validateCmd.Flags().BoolVar(&validateRemote, "remote", false,
		"Validate on the server's policy instead of the embedded copy")
	rootCmd.AddCommand(validateCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runValidateCommand(cmd *cobra.Command, args []string) {
	sql, err := readSQLInput(args)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	runner := validateLocally
	if validateRemote {
		runner = validateRemotely
	}
	result, err := runner(sql, validateFix)
	if err != nil {
		ux.Error(fmt.Sprintf("Validation failed: %v", err))
		os.Exit(1)
	}

	if validateJSON {
		outputJSON(result)
	} else {
		outputValidationReport(result)
	}

	// Usable SQL came out: either the input was compliant or a corrected
	// statement was printed. Anything else is a lint failure.
	if !result.Compliant && result.CorrectedSQL == "" {
		os.Exit(1)
	}
}

// readSQLInput collects the statement from args, --file, or stdin.
func readSQLInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if validateFile == "" {
		return "", errors.New("provide SQL as an argument or with --file")
	}
	if validateFile == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, datatypes.MaxSQLBytes+1))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(validateFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// validateLocally runs the embedded policy over sql the way the server's
// validate endpoint does, including its size bounds.
func validateLocally(sql string, fix bool) (*datatypes.ValidateResponse, error) {
	request := datatypes.ValidateRequest{SQL: strings.TrimSpace(sql), AttemptCorrection: fix}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	policy, err := compliance.LoadPolicy()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	analyzer := compliance.NewAnalyzer(policy)
	corrector := compliance.NewCorrector(policy, analyzer)

	report := analyzer.Analyze(request.SQL)
	resp := &datatypes.ValidateResponse{
		Compliant:   report.IsCompliant(),
		Report:      report,
		Correctable: report.IsReadOnly && report.HasAnchorTable,
	}
	if resp.Compliant {
		return resp, nil
	}

	if !resp.Correctable {
		// Run the corrector anyway to name the terminal violation the way
		// the translation path would.
		if _, err := corrector.Correct(request.SQL, report); err != nil {
			resp.Reason = err.Error()
		}
		return resp, nil
	}

	if fix {
		corrected, err := corrector.Correct(request.SQL, report)
		if err != nil {
			resp.Correctable = false
			resp.Reason = err.Error()
			return resp, nil
		}
		resp.CorrectedSQL = corrected
	}
	return resp, nil
}

// validateRemotely asks the server's validate endpoint for the verdict.
func validateRemotely(sql string, fix bool) (*datatypes.ValidateResponse, error) {
	client := newAPIClient()
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout())
	defer cancel()

	return client.ValidateSQL(ctx, datatypes.ValidateRequest{
		SQL:               strings.TrimSpace(sql),
		AttemptCorrection: fix,
	})
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

// outputValidationReport prints the per-check verdict on stderr and, when
// correction produced one, the corrected statement on stdout.
func outputValidationReport(resp *datatypes.ValidateResponse) {
	fmt.Fprintln(os.Stderr, ux.RenderCheck("read-only statement", resp.Report.IsReadOnly))
	fmt.Fprintln(os.Stderr, ux.RenderCheck("anchor table joined", resp.Report.HasAnchorTable))
	fmt.Fprintln(os.Stderr, ux.RenderCheck("caller isolation filter", resp.Report.HasUserFilter))
	fmt.Fprintln(os.Stderr, ux.RenderCheck("traceability markers", resp.Report.HasRequiredMarkers))

	for _, diag := range resp.Report.Diagnostics {
		ux.Detail("  " + diag)
	}

	switch {
	case resp.Compliant:
		ux.Success("Statement is framework compliant")
	case resp.CorrectedSQL != "":
		ux.Warning("Statement corrected:")
		fmt.Println(ux.RenderSQL(resp.CorrectedSQL))
	case resp.Correctable:
		ux.Warning("Statement is correctable, run again with --fix")
	default:
		ux.Error("Statement cannot be made compliant")
		if resp.Reason != "" {
			ux.Detail(resp.Reason)
		}
	}
}
