// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"errors"
	"fmt"
	"strings"
)

// UncorrectableError is returned when a statement violates the framework in
// a way correction must not repair: it is not read-only, or it never
// references the anchor table, so there is nothing safe to bind the tenant
// filter to.
type UncorrectableError struct {
	Reason      string
	Diagnostics []string
}

func (e *UncorrectableError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "uncorrectable framework violation: " + e.Reason
	}
	return fmt.Sprintf("uncorrectable framework violation: %s (%s)", e.Reason, strings.Join(e.Diagnostics, "; "))
}

// IsUncorrectable reports whether err is an UncorrectableError anywhere in
// its chain.
func IsUncorrectable(err error) bool {
	var ue *UncorrectableError
	return errors.As(err, &ue)
}

// Corrector applies the ordered repair policy to a non-compliant statement.
//
// Like the Analyzer it is stateless and safe for concurrent use.
type Corrector struct {
	policy   *Policy
	analyzer *Analyzer
}

// NewCorrector returns a Corrector that re-analyzes with analyzer after
// each repair step.
func NewCorrector(policy *Policy, analyzer *Analyzer) *Corrector {
	return &Corrector{policy: policy, analyzer: analyzer}
}

// Correct repairs sql according to report, or fails with UncorrectableError.
//
// # Description
//
// The repair policy, applied in order with a re-analysis between steps:
//
//  1. A statement that is not read-only is terminal. No correction is ever
//     attempted on a write or DDL statement.
//  2. A statement with no anchor-table reference is terminal. Synthesizing
//     a join target and join key without schema knowledge would be guessing
//     at tenant boundaries.
//  3. A missing tenant filter is injected for the first discovered anchor
//     alias: appended to an existing WHERE clause with AND, or introduced
//     as a new WHERE clause before GROUP BY/ORDER BY/trailing markers.
//  4. Missing trailing markers are appended: the anchor marker always, the
//     fact-table marker iff a fact alias was discovered.
//
// Correct is idempotent: a compliant input is returned unchanged, and
// correcting an already-corrected statement changes nothing.
//
// # Inputs
//
//   - sql: The statement to repair.
//   - report: The analysis of that exact statement.
//
// # Outputs
//
//   - string: The corrected statement, compliant under re-analysis.
//   - error: *UncorrectableError for terminal violations.
func (c *Corrector) Correct(sql string, report Report) (string, error) {
	if report.IsCompliant() {
		return sql, nil
	}
	if !report.IsReadOnly {
		return "", &UncorrectableError{
			Reason:      "statement is not read-only",
			Diagnostics: report.Diagnostics,
		}
	}
	if !report.HasAnchorTable {
		return "", &UncorrectableError{
			Reason:      fmt.Sprintf("statement never references anchor table %s", c.policy.Tables.Anchor),
			Diagnostics: report.Diagnostics,
		}
	}

	out := sql
	if !report.HasUserFilter {
		out = c.injectUserFilter(out, report.AnchorAliases[0])
		report = c.analyzer.Analyze(out)
		if !report.HasUserFilter {
			return "", &UncorrectableError{
				Reason:      "tenant filter injection did not take effect",
				Diagnostics: report.Diagnostics,
			}
		}
	}

	if !report.HasRequiredMarkers {
		out = c.appendMarkers(out, report)
		report = c.analyzer.Analyze(out)
	}

	if !report.IsCompliant() {
		return "", &UncorrectableError{
			Reason:      "correction did not converge to a compliant statement",
			Diagnostics: report.Diagnostics,
		}
	}
	return out, nil
}

// clauseBoundaries are the keywords that close the WHERE-clause region of a
// select block. The injected predicate must land before any of them.
var clauseBoundaries = map[string]bool{
	"GROUP":     true,
	"ORDER":     true,
	"HAVING":    true,
	"LIMIT":     true,
	"OFFSET":    true,
	"FETCH":     true,
	"WINDOW":    true,
	"UNION":     true,
	"EXCEPT":    true,
	"INTERSECT": true,
}

// injectUserFilter splices the tenant predicate for alias into sql at the
// end of the WHERE clause of the select block referencing the anchor table,
// creating the clause if the block has none.
func (c *Corrector) injectUserFilter(sql, alias string) string {
	toks := scan(sql)
	refs := discoverAliases(c.policy, toks, c.policy.Tables.Anchor)
	if len(refs) == 0 {
		return sql
	}
	refIdx := refs[0].idx

	stmtEnd := len(toks) - 1 // EOF
	for i := refIdx + 1; i < len(toks); i++ {
		if toks[i].Kind == tokenSemicolon {
			stmtEnd = i
			break
		}
	}

	stopIdx, haveWhere := clauseEnd(toks, refIdx, stmtEnd)
	insertAt := toks[stopIdx-1].End

	predicate := c.policy.UserFilter(alias)
	var glue string
	if haveWhere {
		glue = " AND "
	} else {
		glue = " WHERE "
	}
	return sql[:insertAt] + glue + predicate + sql[insertAt:]
}

// clauseEnd walks forward from the anchor reference and returns the index
// of the first token that closes its WHERE-clause region: a clause-boundary
// keyword at the reference's paren depth, a parenthesis closing the block,
// a trailing marker, or the statement terminator. haveWhere reports whether
// a WHERE keyword was seen inside the region.
func clauseEnd(toks []token, refIdx, stmtEnd int) (stopIdx int, haveWhere bool) {
	depth := 0
	for i := refIdx + 1; i < stmtEnd; i++ {
		t := toks[i]
		switch t.Kind {
		case tokenLParen:
			depth++
		case tokenRParen:
			depth--
			if depth < 0 {
				return i, haveWhere
			}
		case tokenMarker:
			return i, haveWhere
		case tokenIdent:
			if depth != 0 {
				continue
			}
			up := strings.ToUpper(t.Text)
			if up == "WHERE" {
				haveWhere = true
			} else if clauseBoundaries[up] {
				return i, haveWhere
			}
		}
	}
	return stmtEnd, haveWhere
}

// appendMarkers appends the minimal missing marker set to the statement
// tail: the anchor marker for the first anchor alias, plus the fact marker
// for the first fact alias when one was discovered.
func (c *Corrector) appendMarkers(sql string, report Report) string {
	p := c.policy
	have := upperSet(report.TrailingMarkers)

	var add []string
	if len(report.AnchorAliases) > 0 {
		name := p.Markers.AnchorPrefix + report.AnchorAliases[0]
		if !have[strings.ToUpper(name)] {
			add = append(add, p.AnchorMarker(report.AnchorAliases[0]))
		}
	}
	if len(report.FactAliases) > 0 {
		name := p.Markers.FactPrefix + report.FactAliases[0]
		if !have[strings.ToUpper(name)] {
			add = append(add, p.FactMarker(report.FactAliases[0]))
		}
	}
	if len(add) == 0 {
		return sql
	}
	return strings.TrimRight(sql, " \t\r\n") + " " + strings.Join(add, " ")
}
