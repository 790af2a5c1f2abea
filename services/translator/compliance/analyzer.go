// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"fmt"
	"strings"
)

// Report is the structured outcome of analyzing one SQL string against the
// framework policy. A report is compliant iff all four boolean flags are
// true; Diagnostics carries a human-readable reason for every flag that is
// false.
type Report struct {
	IsReadOnly         bool `json:"is_read_only"`
	HasAnchorTable     bool `json:"has_anchor_table"`
	HasUserFilter      bool `json:"has_user_filter"`
	HasRequiredMarkers bool `json:"has_required_markers"`

	// AnchorAliases and FactAliases list the table aliases discovered in
	// FROM/JOIN clauses, in order of appearance. A table referenced without
	// an explicit alias is recorded under its own name.
	AnchorAliases []string `json:"anchor_aliases,omitempty"`
	FactAliases   []string `json:"fact_aliases,omitempty"`

	// TrailingMarkers holds the #NAME# tokens found after the final
	// statement terminator, without their surrounding hashes.
	TrailingMarkers []string `json:"trailing_markers,omitempty"`

	Diagnostics []string `json:"diagnostics,omitempty"`
}

// IsCompliant reports whether all four framework checks passed.
func (r Report) IsCompliant() bool {
	return r.IsReadOnly && r.HasAnchorTable && r.HasUserFilter && r.HasRequiredMarkers
}

// Analyzer runs the fixed framework rule set over a SQL string.
//
// An Analyzer is stateless and safe for concurrent use. Construct one with
// NewAnalyzer and share it across requests.
type Analyzer struct {
	policy *Policy
}

// NewAnalyzer returns an Analyzer bound to the given policy.
func NewAnalyzer(policy *Policy) *Analyzer {
	return &Analyzer{policy: policy}
}

// Analyze scans sql and returns a full compliance Report.
//
// # Description
//
// Runs every check unconditionally so the report always carries the complete
// picture, not just the first failure:
//
//  1. Each statement must begin with a read-only verb. A forbidden verb at
//     any statement-start position, including after a semicolon, fails the
//     check, as does EXEC/EXECUTE anywhere outside a string literal.
//  2. FROM/JOIN clauses are scanned for anchor and fact table references to
//     build the alias table.
//  3. The tenant filter must appear as <anchor_alias>.<user column> = <placeholder>
//     where the alias is one discovered in step 2. A filter bound to any
//     other alias does not count.
//  4. The statement tail must carry at least one anchor marker naming a
//     discovered alias.
//
// Analyze never fails: input that cannot be tokenized yields a report with
// all flags false and a diagnostic describing the scan error.
//
// # Inputs
//
//   - sql: Raw SQL text from an untrusted source.
//
// # Outputs
//
//   - Report: Flags, discovered aliases, trailing markers, diagnostics.
func (a *Analyzer) Analyze(sql string) Report {
	var rep Report
	p := a.policy

	toks := scan(sql)
	for _, t := range toks {
		if t.Kind == tokenIllegal {
			rep.Diagnostics = append(rep.Diagnostics,
				fmt.Sprintf("statement could not be tokenized at byte %d (near %q); all checks fail closed", t.Pos, t.Text))
			return rep
		}
	}

	stmts := splitStatements(toks)
	if len(stmts) == 0 {
		rep.Diagnostics = append(rep.Diagnostics, "no executable statement found")
		return rep
	}

	rep.IsReadOnly = a.checkReadOnly(toks, stmts, &rep.Diagnostics)

	anchorRefs := discoverAliases(p, toks, p.Tables.Anchor)
	factRefs := discoverAliases(p, toks, p.Tables.Fact)
	rep.AnchorAliases = aliasNames(anchorRefs)
	rep.FactAliases = aliasNames(factRefs)

	rep.HasAnchorTable = len(anchorRefs) > 0
	if !rep.HasAnchorTable {
		rep.Diagnostics = append(rep.Diagnostics,
			fmt.Sprintf("no reference to anchor table %s found in any FROM/JOIN clause", p.Tables.Anchor))
	}

	rep.HasUserFilter = hasUserFilter(p, toks, rep.AnchorAliases)
	if !rep.HasUserFilter {
		if len(rep.AnchorAliases) > 0 {
			rep.Diagnostics = append(rep.Diagnostics,
				fmt.Sprintf("missing tenant filter %s bound to an anchor alias (discovered: %s)",
					p.UserFilter(rep.AnchorAliases[0]), strings.Join(rep.AnchorAliases, ", ")))
		} else {
			rep.Diagnostics = append(rep.Diagnostics,
				fmt.Sprintf("missing tenant filter on %s.%s: no anchor alias to bind it to",
					p.Tables.Anchor, p.TenantFilter.UserIDColumn))
		}
	}

	rep.TrailingMarkers = trailingMarkers(toks)
	rep.HasRequiredMarkers = hasAnchorMarker(p, rep.TrailingMarkers, rep.AnchorAliases)
	if !rep.HasRequiredMarkers {
		if len(rep.AnchorAliases) > 0 {
			rep.Diagnostics = append(rep.Diagnostics,
				fmt.Sprintf("missing trailing access marker for the anchor table (expected %s)",
					p.AnchorMarker(rep.AnchorAliases[0])))
		} else {
			rep.Diagnostics = append(rep.Diagnostics,
				fmt.Sprintf("missing trailing access marker #%s<alias># for the anchor table", p.Markers.AnchorPrefix))
		}
	}

	return rep
}

// checkReadOnly verifies every statement's leading verb and the absence of
// forbidden keywords anywhere in the token stream.
func (a *Analyzer) checkReadOnly(toks []token, stmts [][]token, diags *[]string) bool {
	p := a.policy
	ok := true

	for n, st := range stmts {
		verb, found := leadingVerb(st)
		switch {
		case !found:
			*diags = append(*diags,
				fmt.Sprintf("statement %d does not begin with a read-only verb (%s)",
					n+1, strings.Join(p.Statements.ReadOnlyVerbs, ", ")))
			ok = false
		case p.isForbiddenStart(verb):
			*diags = append(*diags,
				fmt.Sprintf("statement %d begins with forbidden verb %s", n+1, strings.ToUpper(verb)))
			ok = false
		case !p.isReadOnlyVerb(verb):
			*diags = append(*diags,
				fmt.Sprintf("statement %d begins with %q, not a read-only verb (%s)",
					n+1, verb, strings.Join(p.Statements.ReadOnlyVerbs, ", ")))
			ok = false
		}
	}

	for _, t := range toks {
		if t.Kind == tokenIdent && p.isForbiddenAnywhere(t.Text) {
			*diags = append(*diags,
				fmt.Sprintf("forbidden keyword %s is not allowed anywhere in a statement", strings.ToUpper(t.Text)))
			ok = false
			break
		}
	}

	return ok
}

// splitStatements groups the token stream into per-statement slices, split
// on semicolons. Empty runs and runs made only of markers (the trailing
// marker block) are not statements.
func splitStatements(toks []token) [][]token {
	var stmts [][]token
	var cur []token

	flush := func() {
		if len(cur) == 0 {
			return
		}
		for _, t := range cur {
			if t.Kind != tokenMarker {
				stmts = append(stmts, cur)
				break
			}
		}
		cur = nil
	}

	for _, t := range toks {
		switch t.Kind {
		case tokenEOF:
			flush()
			return stmts
		case tokenSemicolon:
			flush()
		default:
			cur = append(cur, t)
		}
	}
	flush()
	return stmts
}

// leadingVerb returns the first identifier of a statement, skipping opening
// parentheses. found is false when the statement starts with anything else.
func leadingVerb(st []token) (verb string, found bool) {
	for _, t := range st {
		switch t.Kind {
		case tokenLParen:
			continue
		case tokenIdent:
			return t.Text, true
		default:
			return "", false
		}
	}
	return "", false
}

// aliasRef records one discovered table reference: the alias it is known by
// downstream and the index of the table-name token in the stream.
type aliasRef struct {
	alias string
	idx   int
}

// discoverAliases walks the token stream and records every reference to
// table in a FROM/JOIN clause (the preceding significant token is FROM,
// JOIN, or a comma inside a FROM list). The alias is the identifier that
// follows, skipping an optional AS; reserved keywords never qualify, in
// which case the table is recorded under its own name.
func discoverAliases(p *Policy, toks []token, table string) []aliasRef {
	var refs []aliasRef
	seen := map[string]bool{}

	for i, t := range toks {
		if !isIdentLike(t) || !strings.EqualFold(t.Text, table) {
			continue
		}
		if i == 0 || !introducesTable(toks[i-1]) {
			continue
		}

		alias := t.Text
		j := i + 1
		if j < len(toks) && toks[j].Kind == tokenIdent && strings.EqualFold(toks[j].Text, "AS") {
			j++
		}
		if j < len(toks) && isAliasCandidate(p, toks[j]) {
			alias = toks[j].Text
		}

		key := strings.ToUpper(alias)
		if !seen[key] {
			seen[key] = true
			refs = append(refs, aliasRef{alias: alias, idx: i})
		}
	}
	return refs
}

// introducesTable reports whether a token can directly precede a table name
// in a FROM/JOIN clause.
func introducesTable(t token) bool {
	if t.Kind == tokenComma {
		return true
	}
	if t.Kind != tokenIdent {
		return false
	}
	up := strings.ToUpper(t.Text)
	return up == "FROM" || up == "JOIN"
}

// isAliasCandidate reports whether a token can serve as a table alias. A
// quoted identifier always can; an unquoted one only if it is not reserved.
func isAliasCandidate(p *Policy, t token) bool {
	switch t.Kind {
	case tokenQuotedIdent:
		return true
	case tokenIdent:
		return !p.isReserved(t.Text)
	default:
		return false
	}
}

func isIdentLike(t token) bool {
	return t.Kind == tokenIdent || t.Kind == tokenQuotedIdent
}

func aliasNames(refs []aliasRef) []string {
	if len(refs) == 0 {
		return nil
	}
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.alias)
	}
	return names
}

// hasUserFilter looks for the exact predicate shape
// <alias> . <user column> = <placeholder> with the alias bound to one of
// the discovered anchor aliases.
func hasUserFilter(p *Policy, toks []token, anchorAliases []string) bool {
	if len(anchorAliases) == 0 {
		return false
	}
	aliases := upperSet(anchorAliases)

	for i := 0; i+4 < len(toks); i++ {
		if !isIdentLike(toks[i]) || !aliases[strings.ToUpper(toks[i].Text)] {
			continue
		}
		if toks[i+1].Kind != tokenDot {
			continue
		}
		if !isIdentLike(toks[i+2]) || !strings.EqualFold(toks[i+2].Text, p.TenantFilter.UserIDColumn) {
			continue
		}
		if toks[i+3].Kind != tokenOperator || toks[i+3].Text != "=" {
			continue
		}
		if toks[i+4].Kind == tokenPlaceholder {
			return true
		}
	}
	return false
}

// trailingMarkers returns the longest run of marker tokens at the end of
// the stream, which is the statement tail after the final terminator.
func trailingMarkers(toks []token) []string {
	end := len(toks)
	if end > 0 && toks[end-1].Kind == tokenEOF {
		end--
	}
	start := end
	for start > 0 && toks[start-1].Kind == tokenMarker {
		start--
	}
	if start == end {
		return nil
	}
	names := make([]string, 0, end-start)
	for _, t := range toks[start:end] {
		names = append(names, t.Text)
	}
	return names
}

// hasAnchorMarker reports whether at least one trailing marker names the
// anchor table together with a discovered alias.
func hasAnchorMarker(p *Policy, markers, anchorAliases []string) bool {
	for _, alias := range anchorAliases {
		want := strings.ToUpper(p.Markers.AnchorPrefix + alias)
		for _, m := range markers {
			if strings.ToUpper(m) == want {
				return true
			}
		}
	}
	return false
}
