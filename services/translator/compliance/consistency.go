// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// yearPattern matches coarse temporal tokens: four-digit years.
var yearPattern = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

// ConsistencyVerdict is the outcome of comparing a retrieved candidate
// against the current request. An inconsistent verdict is a routing
// decision, not an error: it forces the pipeline off the exact-match
// shortcut and into fresh generation.
type ConsistencyVerdict struct {
	Consistent bool   `json:"consistent"`
	Reason     string `json:"reason,omitempty"`
}

// CheckConsistency compares the temporal tokens of a retrieved candidate
// (its stored question and SQL) against the current request text.
//
// If both sides mention years and the sets are disjoint, the candidate
// answers a question about a different period and must not be reused
// verbatim, however high its similarity score. When either side mentions no
// years at all there is no evidence of a mismatch and the verdict is
// consistent; a false negative here only costs a regeneration.
func CheckConsistency(candidateText, requestText string) ConsistencyVerdict {
	candidateYears := extractYears(candidateText)
	requestYears := extractYears(requestText)

	if len(candidateYears) == 0 || len(requestYears) == 0 {
		return ConsistencyVerdict{Consistent: true}
	}
	for y := range candidateYears {
		if requestYears[y] {
			return ConsistencyVerdict{Consistent: true}
		}
	}
	return ConsistencyVerdict{
		Consistent: false,
		Reason: fmt.Sprintf("temporal mismatch: candidate references %s, request references %s",
			joinYears(candidateYears), joinYears(requestYears)),
	}
}

func extractYears(text string) map[string]bool {
	matches := yearPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	years := make(map[string]bool, len(matches))
	for _, m := range matches {
		years[m] = true
	}
	return years
}

func joinYears(years map[string]bool) string {
	sorted := make([]string, 0, len(years))
	for y := range years {
		sorted = append(sorted, y)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
