// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"strings"
	"testing"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	policy, err := LoadPolicy()
	if err != nil {
		t.Fatalf("Failed to load embedded policy: %v", err)
	}
	return NewAnalyzer(policy)
}

func TestAnalyze(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	tests := []struct {
		name               string
		sql                string
		isReadOnly         bool
		hasAnchorTable     bool
		hasUserFilter      bool
		hasRequiredMarkers bool
		anchorAliases      []string
		factAliases        []string
	}{
		{
			name:               "fully compliant join",
			sql:                "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE a.ID_USER = ?; #DEPOT_a# #FACTS_b#",
			isReadOnly:         true,
			hasAnchorTable:     true,
			hasUserFilter:      true,
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
			factAliases:        []string{"b"},
		},
		{
			name:           "fact table only, no anchor",
			sql:            "SELECT * FROM facts;",
			isReadOnly:     true,
			hasAnchorTable: false,
			factAliases:    []string{"facts"},
		},
		{
			name:           "delete statement",
			sql:            "DELETE FROM facts WHERE age > 65;",
			isReadOnly:     false,
			hasAnchorTable: false,
		},
		{
			name:           "join without filter or markers",
			sql:            "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT;",
			isReadOnly:     true,
			hasAnchorTable: true,
			anchorAliases:  []string{"a"},
			factAliases:    []string{"b"},
		},
		{
			name:               "anchor without explicit alias",
			sql:                "SELECT * FROM depot WHERE depot.ID_USER = ?; #DEPOT_depot#",
			isReadOnly:         true,
			hasAnchorTable:     true,
			hasUserFilter:      true,
			hasRequiredMarkers: true,
			anchorAliases:      []string{"depot"},
		},
		{
			name:           "filter bound to the wrong alias",
			sql:            "SELECT * FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE b.ID_USER = ?; #DEPOT_a#",
			isReadOnly:     true,
			hasAnchorTable: true,
			hasUserFilter:  false,
			// the anchor marker is present, so only the filter fails
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
			factAliases:        []string{"b"},
		},
		{
			name:           "statement stacking with drop",
			sql:            "SELECT * FROM depot a WHERE a.ID_USER = ?; DROP TABLE facts;",
			isReadOnly:     false,
			hasAnchorTable: true,
			hasUserFilter:  true,
			anchorAliases:  []string{"a"},
		},
		{
			name:           "exec hidden mid statement",
			sql:            "SELECT * FROM depot a WHERE a.ID_USER = ? AND EXEC('xp_cmdshell');",
			isReadOnly:     false,
			hasAnchorTable: true,
			hasUserFilter:  true,
			anchorAliases:  []string{"a"},
		},
		{
			name:               "forbidden verb inside a comment is ignored",
			sql:                "/* DROP TABLE facts */ SELECT * FROM depot a WHERE a.ID_USER = ?; #DEPOT_a#",
			isReadOnly:         true,
			hasAnchorTable:     true,
			hasUserFilter:      true,
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
		},
		{
			name:               "forbidden verb inside a string literal is ignored",
			sql:                "SELECT * FROM depot a WHERE a.STATUT = 'DELETE' AND a.ID_USER = ?; #DEPOT_a#",
			isReadOnly:         true,
			hasAnchorTable:     true,
			hasUserFilter:      true,
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
		},
		{
			name:               "cte keeps read only and finds nested anchor",
			sql:                "WITH actifs AS (SELECT * FROM depot a WHERE a.ID_USER = ?) SELECT * FROM actifs; #DEPOT_a#",
			isReadOnly:         true,
			hasAnchorTable:     true,
			hasUserFilter:      true,
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
		},
		{
			name:           "markers without terminator still count",
			sql:            "SELECT * FROM depot a #DEPOT_a#",
			isReadOnly:     true,
			hasAnchorTable: true,
			hasUserFilter:  false,
			// marker names a discovered alias even without a semicolon
			hasRequiredMarkers: true,
			anchorAliases:      []string{"a"},
		},
		{
			name:           "marker for an unknown alias does not count",
			sql:            "SELECT * FROM depot a WHERE a.ID_USER = ?; #DEPOT_z#",
			isReadOnly:     true,
			hasAnchorTable: true,
			hasUserFilter:  true,
			anchorAliases:  []string{"a"},
		},
		{
			name: "unterminated string fails everything",
			sql:  "SELECT * FROM depot a WHERE a.NOM = 'dupon",
		},
		{
			name: "empty input fails everything",
			sql:  "   ",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep := analyzer.Analyze(tc.sql)

			if rep.IsReadOnly != tc.isReadOnly {
				t.Errorf("IsReadOnly = %v, want %v (diagnostics: %v)", rep.IsReadOnly, tc.isReadOnly, rep.Diagnostics)
			}
			if rep.HasAnchorTable != tc.hasAnchorTable {
				t.Errorf("HasAnchorTable = %v, want %v", rep.HasAnchorTable, tc.hasAnchorTable)
			}
			if rep.HasUserFilter != tc.hasUserFilter {
				t.Errorf("HasUserFilter = %v, want %v", rep.HasUserFilter, tc.hasUserFilter)
			}
			if rep.HasRequiredMarkers != tc.hasRequiredMarkers {
				t.Errorf("HasRequiredMarkers = %v, want %v", rep.HasRequiredMarkers, tc.hasRequiredMarkers)
			}
			if !equalStrings(rep.AnchorAliases, tc.anchorAliases) {
				t.Errorf("AnchorAliases = %v, want %v", rep.AnchorAliases, tc.anchorAliases)
			}
			if !equalStrings(rep.FactAliases, tc.factAliases) {
				t.Errorf("FactAliases = %v, want %v", rep.FactAliases, tc.factAliases)
			}

			compliant := tc.isReadOnly && tc.hasAnchorTable && tc.hasUserFilter && tc.hasRequiredMarkers
			if rep.IsCompliant() != compliant {
				t.Errorf("IsCompliant() = %v, want %v", rep.IsCompliant(), compliant)
			}
			if !compliant && len(rep.Diagnostics) == 0 {
				t.Error("Non-compliant report carries no diagnostics")
			}
		})
	}
}

func TestAnalyzeDiagnosticsNameTheViolation(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "forbidden verb is named",
			sql:  "DELETE FROM facts;",
			want: "DELETE",
		},
		{
			name: "missing anchor names the table",
			sql:  "SELECT * FROM facts;",
			want: "DEPOT",
		},
		{
			name: "missing filter names the predicate",
			sql:  "SELECT * FROM depot a; #DEPOT_a#",
			want: "a.ID_USER = ?",
		},
		{
			name: "missing marker names the expected token",
			sql:  "SELECT * FROM depot a WHERE a.ID_USER = ?;",
			want: "#DEPOT_a#",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep := analyzer.Analyze(tc.sql)
			joined := strings.Join(rep.Diagnostics, "\n")
			if !strings.Contains(joined, tc.want) {
				t.Errorf("Diagnostics %q do not mention %q", joined, tc.want)
			}
		})
	}
}

func TestAnalyzeTrailingMarkers(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	rep := analyzer.Analyze("SELECT * FROM depot a WHERE a.ID_USER = ?; #DEPOT_a# #FACTS_b# #PERIODE#")
	want := []string{"DEPOT_a", "FACTS_b", "PERIODE"}
	if !equalStrings(rep.TrailingMarkers, want) {
		t.Fatalf("TrailingMarkers = %v, want %v", rep.TrailingMarkers, want)
	}
}

func TestAnalyzeIsPureAndConcurrencySafe(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	sql := "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE a.ID_USER = ?; #DEPOT_a#"

	for i := 0; i < 50; i++ {
		t.Run("Worker", func(t *testing.T) {
			t.Parallel()
			rep := analyzer.Analyze(sql)
			if !rep.IsCompliant() {
				t.Errorf("Concurrent analysis lost compliance: %v", rep.Diagnostics)
			}
		})
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func BenchmarkAnalyze(b *testing.B) {
	policy, err := LoadPolicy()
	if err != nil {
		b.Fatalf("Failed to load embedded policy: %v", err)
	}
	analyzer := NewAnalyzer(policy)
	sql := "SELECT b.NOM, b.PRENOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT WHERE a.ID_USER = ? ORDER BY b.NOM; #DEPOT_a# #FACTS_b#"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.Analyze(sql)
	}
}
