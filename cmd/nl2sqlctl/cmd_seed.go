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
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/datasulting/nl2sql/pkg/ux"
	"github.com/datasulting/nl2sql/services/translator/retrieval"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	seedWithSchema bool // Also chunk and index the schema document
	seedYes        bool // Skip the confirmation prompt
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// seedCmd pushes a validated question/SQL corpus into the server's vector
// index. Seeding overwrites entries that share a question, so it asks
// before writing unless --yes is given.
var seedCmd = &cobra.Command{
	Use:   "seed [corpus.json]",
	Short: "Seed the vector index with a validated example corpus",
	Long: `Reads a JSON corpus of validated question/SQL pairs and sends it to the
server's admin seeding endpoint. The corpus is parsed locally first, so a
malformed file fails before anything is written.

Entry IDs derive from the question text: re-seeding the same corpus
updates entries in place rather than duplicating them.

Examples:
  nl2sqlctl seed corpus.json
  nl2sqlctl seed corpus.json --schema     # also index the schema document
  nl2sqlctl seed corpus.json --yes        # no prompt, for scripts

Large corpora can take a while to embed; raise --timeout if the default
five minutes is not enough.`,
	Args: cobra.ExactArgs(1),
	Run:  runSeedCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	seedCmd.Flags().BoolVar(&seedWithSchema, "schema", false,
		"Also chunk and index the server's schema document")
	seedCmd.Flags().BoolVarP(&seedYes, "yes", "y", false,
		"Skip the confirmation prompt")
	rootCmd.AddCommand(seedCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runSeedCommand(cmd *cobra.Command, args []string) {
	corpusPath := args[0]
	corpus, err := os.ReadFile(corpusPath)
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read corpus: %v", err))
		os.Exit(1)
	}

	// Parse locally first: a malformed corpus fails here, and the entry
	// count feeds the confirmation prompt.
	examples, err := retrieval.ParseCorpus(corpus)
	if err != nil {
		ux.Error(fmt.Sprintf("Corpus %s is not usable: %v", corpusPath, err))
		os.Exit(1)
	}

	server := resolveServerURL()
	if !seedYes {
		if ux.IsPlain() {
			ux.Error("Seeding needs confirmation, pass --yes for non-interactive runs.")
			os.Exit(1)
		}
		if !confirmSeed(len(examples), server) {
			ux.Detail("Seeding aborted.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout())
	defer cancel()
	client := newAPIClient()

	var result *seedResult
	err = ux.WithSpinner(fmt.Sprintf("Seeding %d examples", len(examples)), func() error {
		var seedErr error
		result, seedErr = client.SeedExamples(ctx, corpus)
		return seedErr
	})
	if err != nil {
		exitWithAPIError("Seeding failed", err)
	}
	ux.Detail(fmt.Sprintf("%d entries written at schema version %s", result.Seeded, result.SchemaVersion))

	if seedWithSchema {
		var schemaResult *seedResult
		err = ux.WithSpinner("Indexing schema document", func() error {
			var seedErr error
			schemaResult, seedErr = client.SeedSchema(ctx)
			return seedErr
		})
		if err != nil {
			exitWithAPIError("Schema indexing failed", err)
		}
		ux.Detail(fmt.Sprintf("%d chunks written at schema version %s", schemaResult.Chunks, schemaResult.SchemaVersion))
	}
}

// confirmSeed prompts before writing to a shared index.
func confirmSeed(count int, server string) bool {
	confirm := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Seed %d examples into %s?", count, server)).
				Description("Entries sharing a question with the corpus are overwritten.").
				Affirmative("Seed").
				Negative("Cancel").
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		// Ctrl+C inside the form lands here; treat it as a refusal.
		return false
	}
	return confirm
}

// seedTimeout allows embedding a whole corpus to outlast the ordinary
// request deadline unless the caller set one explicitly.
func seedTimeout() time.Duration {
	if timeoutFlag > 0 || clientConfig.TimeoutSeconds > 0 {
		return resolveTimeout()
	}
	return 5 * time.Minute
}
