// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compliance implements the tenant-isolation contract for generated SQL.
//
// The package answers one question deterministically: given an arbitrary SQL
// string from an untrusted generative source, is it safe to hand to the
// multi-tenant execution engine, and if not, can it be repaired without
// altering its business semantics?
//
// It is built from four pieces:
//   - a lexer that splits a statement into tokens, keeping string literals,
//     quoted identifiers, and comments apart from structural SQL
//   - an Analyzer that runs the fixed rule set over the token stream and
//     produces a Report
//   - a Corrector that applies the ordered repair policy and re-analyzes
//     after each step
//   - a ConsistencyChecker that compares temporal tokens between a retrieved
//     candidate and the current request
//
// The rule vocabulary (table names, the tenant filter column, marker
// prefixes, verb lists) is loaded from the embedded framework_policy.yaml
// and never read from the filesystem at runtime.
package compliance

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the parsed and normalized rule vocabulary.
//
// All lookups are case-insensitive; the maps below are keyed by upper-cased
// tokens so the hot path never allocates for case folding on both sides.
type Policy struct {
	Version int `yaml:"version"`

	Tables struct {
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
		ReadOnlyVerbs     []string `yaml:"read_only_verbs"`
		ForbiddenStart    []string `yaml:"forbidden_start_verbs"`
		ForbiddenAnywhere []string `yaml:"forbidden_anywhere"`
	} `yaml:"statements"`

	ReservedKeywords []string `yaml:"reserved_keywords"`

	// Normalized lookup sets, built by finalize().
	readOnlyVerbs     map[string]bool
	forbiddenStart    map[string]bool
	forbiddenAnywhere map[string]bool
	reserved          map[string]bool
}

// LoadPolicy parses the embedded framework_policy.yaml into a ready-to-use Policy.
//
// # Description
//
// Unmarshals the embedded YAML, validates the fields the analyzer cannot work
// without, and builds the normalized keyword sets. Call once at startup and
// share the result; a Policy is immutable after load.
//
// # Outputs
//
//   - *Policy: Fully initialized policy.
//   - error: Non-nil if the embedded YAML is malformed or incomplete.
func LoadPolicy() (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(FrameworkPolicyYAML, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}
	if err := p.finalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// finalize validates required fields and builds the lookup sets.
func (p *Policy) finalize() error {
	switch {
	case p.Tables.Anchor == "":
		return fmt.Errorf("policy is missing tables.anchor")
	case p.Tables.Fact == "":
		return fmt.Errorf("policy is missing tables.fact")
	case p.TenantFilter.UserIDColumn == "":
		return fmt.Errorf("policy is missing tenant_filter.user_id_column")
	case p.TenantFilter.Placeholder == "":
		return fmt.Errorf("policy is missing tenant_filter.placeholder")
	case len(p.Statements.ReadOnlyVerbs) == 0:
		return fmt.Errorf("policy declares no read-only verbs")
	}

	p.readOnlyVerbs = upperSet(p.Statements.ReadOnlyVerbs)
	p.forbiddenStart = upperSet(p.Statements.ForbiddenStart)
	p.forbiddenAnywhere = upperSet(p.Statements.ForbiddenAnywhere)
	p.reserved = upperSet(p.ReservedKeywords)
	return nil
}

// AnchorTable returns the upper-cased anchor table name.
func (p *Policy) AnchorTable() string { return strings.ToUpper(p.Tables.Anchor) }

// FactTable returns the upper-cased fact table name.
func (p *Policy) FactTable() string { return strings.ToUpper(p.Tables.Fact) }

// UserFilter renders the tenant predicate for the given anchor alias,
// e.g. "a.ID_USER = ?".
func (p *Policy) UserFilter(alias string) string {
	return fmt.Sprintf("%s.%s = %s", alias, p.TenantFilter.UserIDColumn, p.TenantFilter.Placeholder)
}

// AnchorMarker renders the anchor marker for an alias, e.g. "#DEPOT_a#".
func (p *Policy) AnchorMarker(alias string) string {
	return "#" + p.Markers.AnchorPrefix + alias + "#"
}

// FactMarker renders the fact-table marker for an alias, e.g. "#FACTS_b#".
func (p *Policy) FactMarker(alias string) string {
	return "#" + p.Markers.FactPrefix + alias + "#"
}

// PeriodMarker renders the temporal marker, e.g. "#PERIODE#".
func (p *Policy) PeriodMarker() string {
	return "#" + p.Markers.Period + "#"
}

func (p *Policy) isReadOnlyVerb(word string) bool { return p.readOnlyVerbs[strings.ToUpper(word)] }

func (p *Policy) isForbiddenStart(word string) bool { return p.forbiddenStart[strings.ToUpper(word)] }

func (p *Policy) isForbiddenAnywhere(word string) bool {
	return p.forbiddenAnywhere[strings.ToUpper(word)]
}

func (p *Policy) isReserved(word string) bool { return p.reserved[strings.ToUpper(word)] }

func upperSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToUpper(strings.TrimSpace(w))] = true
	}
	return set
}
