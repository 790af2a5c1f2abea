// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// generate_policy_docs renders a markdown reference of the embedded
// framework policy, for the operator handbook.
//
// Usage:
//
//	go run scripts/generate_policy_docs.go > docs/framework_policy.md
//
// The generated reference includes:
//   - Anchor and fact table roles
//   - The tenant filter predicate and trailing markers
//   - Allowed and forbidden statement verbs
//   - The reserved keywords excluded from alias discovery
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// policyYAML mirrors services/translator/compliance/framework_policy.yaml.
// Kept local so the script stays runnable with `go run` and never drags
// service packages into a docs build.
type policyYAML struct {
	Version int `yaml:"version"`
	Tables  struct {
		Anchor string `yaml:"anchor"`
		Fact   string `yaml:"fact"`
	} `yaml:"tables"`
	TenantFilter struct {
		UserIDColumn string `yaml:"user_id_column"`
		Placeholder  string `yaml:"placeholder"`
	} `yaml:"tenant_filter"`
	Markers struct {
		AnchorPrefix string `yaml:"anchor_prefix"`
		FactPrefix   string `yaml:"fact_prefix"`
		Period       string `yaml:"period"`
	} `yaml:"markers"`
	Statements struct {
		ReadOnlyVerbs       []string `yaml:"read_only_verbs"`
		ForbiddenStartVerbs []string `yaml:"forbidden_start_verbs"`
		ForbiddenAnywhere   []string `yaml:"forbidden_anywhere"`
	} `yaml:"statements"`
	ReservedKeywords []string `yaml:"reserved_keywords"`
}

func main() {
	data, err := os.ReadFile("services/translator/compliance/framework_policy.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading framework_policy.yaml: %v\n", err)
		os.Exit(1)
	}

	var policy policyYAML
	if err := yaml.Unmarshal(data, &policy); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing framework_policy.yaml: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("# Framework Policy Reference")
	fmt.Println()
	fmt.Printf("Generated from `framework_policy.yaml` version %d on %s.\n",
		policy.Version, time.Now().Format("2006-01-02"))
	fmt.Println()
	fmt.Println("Every statement the translator returns must satisfy all four rules")
	fmt.Println("below. The validator checks them; the corrector can repair a missing")
	fmt.Println("filter or missing markers, never a write operation.")
	fmt.Println()

	fmt.Println("## Tables")
	fmt.Println()
	fmt.Println("| Role | Table | Purpose |")
	fmt.Println("|------|-------|---------|")
	fmt.Printf("| Anchor | `%s` | Joined in every query; carries the tenant filter |\n", policy.Tables.Anchor)
	fmt.Printf("| Fact | `%s` | Business records, joined against the anchor |\n", policy.Tables.Fact)
	fmt.Println()

	fmt.Println("## Tenant Filter")
	fmt.Println()
	fmt.Printf("```sql\n<anchor alias>.%s = %s\n```\n",
		policy.TenantFilter.UserIDColumn, policy.TenantFilter.Placeholder)
	fmt.Println()
	fmt.Println("The predicate must be bound to an alias of the anchor table. A filter")
	fmt.Println("on a fact-table alias does not count.")
	fmt.Println()

	fmt.Println("## Traceability Markers")
	fmt.Println()
	fmt.Printf("Statements end with `#%s<alias>#` for the anchor and `#%s<alias>#`\n",
		policy.Markers.AnchorPrefix, policy.Markers.FactPrefix)
	fmt.Printf("for each joined fact alias. `#%s#` tags period-scoped queries.\n", policy.Markers.Period)
	fmt.Println()

	fmt.Println("## Statement Verbs")
	fmt.Println()
	fmt.Printf("Allowed statement starts: %s.\n", codeList(policy.Statements.ReadOnlyVerbs))
	fmt.Println()
	fmt.Printf("Rejected at any statement start (including after `;`): %s.\n",
		codeList(policy.Statements.ForbiddenStartVerbs))
	fmt.Println()
	fmt.Printf("Rejected anywhere outside string literals: %s.\n",
		codeList(policy.Statements.ForbiddenAnywhere))
	fmt.Println()

	fmt.Println("## Reserved Keywords")
	fmt.Println()
	fmt.Println("Never recorded as table aliases during analysis:")
	fmt.Println()
	keywords := append([]string(nil), policy.ReservedKeywords...)
	sort.Strings(keywords)
	fmt.Println(codeList(keywords))
	fmt.Println()

	fmt.Println("## Summary")
	fmt.Println()
	fmt.Printf("- %d read-only verbs, %d forbidden start verbs, %d forbidden anywhere\n",
		len(policy.Statements.ReadOnlyVerbs),
		len(policy.Statements.ForbiddenStartVerbs),
		len(policy.Statements.ForbiddenAnywhere))
	fmt.Printf("- %d reserved keywords excluded from alias discovery\n", len(policy.ReservedKeywords))
}

// codeList renders items as a comma-separated list of inline code spans.
func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "`" + item + "`"
	}
	return strings.Join(quoted, ", ")
}
