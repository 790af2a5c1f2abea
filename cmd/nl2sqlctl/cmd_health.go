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
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datasulting/nl2sql/pkg/ux"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var healthJSONOutput bool // Output as JSON

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// healthCmd fetches the translator's own per-dependency verdict. The
// service answers 503 while degraded; the command mirrors that as a
// non-zero exit status so scripts and probes can reuse it.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Display the translator's dependency health",
	Long: `Fetches /health and prints the per-dependency report.

A dependency can be ok, disabled, not configured, or failing with a
reason. Exit status is 0 only when the service reports healthy overall.

Examples:
  nl2sqlctl health             # Human-readable report
  nl2sqlctl health --json      # JSON output for scripting`,
	Run: runHealthCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.AddCommand(healthCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout())
	defer cancel()

	client := newAPIClient()
	health, err := client.Health(ctx)
	if err != nil {
		exitWithAPIError("Health check failed", err)
	}

	if healthJSONOutput {
		outputJSON(health)
	} else {
		outputHealthReport(health)
	}

	if health.Status != "healthy" {
		os.Exit(1)
	}
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

func outputHealthReport(health *datatypes.HealthResponse) {
	ux.Title(fmt.Sprintf("%s: %s", health.Service, health.Status))

	names := make([]string, 0, len(health.Dependencies))
	for name := range health.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := health.Dependencies[name]
		icon := ux.IconError
		switch {
		case strings.HasPrefix(state, "ok"):
			icon = ux.IconSuccess
		case state == "disabled" || state == "not configured":
			icon = ux.IconWarning
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", icon.Render(), ux.KeyValue(name, state))
	}
}
