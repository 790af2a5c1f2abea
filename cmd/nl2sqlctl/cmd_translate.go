// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/datasulting/nl2sql/pkg/ux"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	translateProvider string // Pin one provider instead of the fallback chain
	translateExplain  bool   // Ask for a natural-language explanation
	translateNoCache  bool   // Skip the translation cache
	translateJSON     bool   // Print the raw response as JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// translateCmd sends one question to the running translator and prints the
// generated SQL on stdout, with validation details on stderr.
//
// # Examples
//
//	nl2sqlctl translate "quels salariés ont plus de 10 ans d'ancienneté ?"
//	nl2sqlctl translate --provider ollama --explain "combien de dépôts en 2024 ?"
//	nl2sqlctl translate --json "liste des salariés" | jq .sql
var translateCmd = &cobra.Command{
	Use:   "translate [question]",
	Short: "Translate a natural language question into framework SQL",
	Long: `Sends one question through the full translation pipeline and prints
the resulting SQL.

The SQL goes to stdout so it can be piped; status and validation details
go to stderr. Exit status is 0 only when the service returned SQL.

Examples:
  nl2sqlctl translate "quels salariés ont plus de 10 ans d'ancienneté ?"
  nl2sqlctl translate --provider ollama "combien de dépôts en 2024 ?"
  nl2sqlctl translate --explain "liste des absences de mars"
  nl2sqlctl translate --json "liste des salariés" | jq -r .sql`,
	Args: cobra.MinimumNArgs(1),
	Run:  runTranslateCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	translateCmd.Flags().StringVarP(&translateProvider, "provider", "p", "",
		"Generation provider to pin (openai, anthropic, google, ollama)")
	translateCmd.Flags().BoolVar(&translateExplain, "explain", false,
		"Include a natural-language explanation of the SQL")
	translateCmd.Flags().BoolVar(&translateNoCache, "no-cache", false,
		"Bypass the translation cache")
	translateCmd.Flags().BoolVar(&translateJSON, "json", false,
		"Output the raw response as JSON for scripting")
	rootCmd.AddCommand(translateCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runTranslateCommand performs one blocking translation round trip.
func runTranslateCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout())
	defer cancel()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		ux.Error("A question is required.")
		os.Exit(1)
	}

	client := newAPIClient()
	request := datatypes.TranslationRequest{
		RequestID:          uuid.NewString(),
		Timestamp:          time.Now().UnixMilli(),
		Question:           question,
		Provider:           translateProvider,
		BypassCache:        translateNoCache,
		IncludeExplanation: translateExplain,
	}

	spin := ux.NewSpinner("Translating")
	if !translateJSON {
		spin.Start()
	}
	response, err := client.Translate(ctx, request)
	spin.Stop()

	if err != nil {
		exitWithAPIError("Translation failed", err)
	}

	if translateJSON {
		outputJSON(response)
		return
	}
	outputTranslation(response)
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

// outputTranslation prints the SQL on stdout and the verdict on stderr.
func outputTranslation(resp *datatypes.TranslationResponse) {
	fmt.Println(ux.RenderSQL(resp.SQL))

	switch resp.Status {
	case datatypes.StatusCorrected:
		ux.Warning("Generated SQL needed automatic correction")
	case datatypes.StatusAccepted:
		ux.Success("Framework compliant")
	default:
		ux.Warning(fmt.Sprintf("Validation status: %s", resp.Status))
	}

	if resp.Validation != nil && resp.Validation.Reason != "" {
		ux.Detail(resp.Validation.Reason)
	}

	if resp.Explanation != "" {
		fmt.Fprintln(os.Stderr)
		ux.Info(resp.Explanation)
	}

	origin := resp.Source
	if resp.Provider != "" {
		origin = fmt.Sprintf("%s via %s", resp.Source, resp.Provider)
	}
	details := []string{
		ux.KeyValue("source", origin),
		ux.KeyValue("took", fmt.Sprintf("%dms", resp.ProcessingTimeMs)),
	}
	if resp.CacheHit {
		details = append(details, ux.KeyValue("cache", "hit"))
	}
	if resp.ExamplesUsed > 0 {
		details = append(details, ux.KeyValue("examples", fmt.Sprintf("%d", resp.ExamplesUsed)))
	}
	fmt.Fprintln(os.Stderr, strings.Join(details, "  "))
}
