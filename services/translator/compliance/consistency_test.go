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

func TestCheckConsistency(t *testing.T) {
	tests := []struct {
		name       string
		candidate  string
		request    string
		consistent bool
	}{
		{
			name:       "disjoint years force regeneration",
			candidate:  "Quelle est la masse salariale en 2021 ?",
			request:    "Quelle est la masse salariale en 2024 ?",
			consistent: false,
		},
		{
			name:       "shared year is consistent",
			candidate:  "Effectif au 31 décembre 2023",
			request:    "Quel est l'effectif total en 2023 ?",
			consistent: true,
		},
		{
			name:       "overlap among several years is consistent",
			candidate:  "Comparer 2022 et 2023",
			request:    "Evolution entre 2023 et 2024",
			consistent: true,
		},
		{
			name:       "candidate without years is consistent",
			candidate:  "Liste des salariés par ville",
			request:    "Liste des salariés par ville en 2024",
			consistent: true,
		},
		{
			name:       "request without years is consistent",
			candidate:  "Embauches en 2021",
			request:    "Liste des embauches",
			consistent: true,
		},
		{
			name:       "no years on either side is consistent",
			candidate:  "Salaire moyen par service",
			request:    "Salaire moyen par agence",
			consistent: true,
		},
		{
			name:       "numbers that are not years are ignored",
			candidate:  "Salariés de plus de 55 ans au 31/12",
			request:    "Salariés de plus de 60 ans",
			consistent: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict := CheckConsistency(tc.candidate, tc.request)
			if verdict.Consistent != tc.consistent {
				t.Errorf("Consistent = %v, want %v (reason: %q)", verdict.Consistent, tc.consistent, verdict.Reason)
			}
			if !tc.consistent {
				if !strings.HasPrefix(verdict.Reason, "temporal mismatch") {
					t.Errorf("Reason %q does not start with %q", verdict.Reason, "temporal mismatch")
				}
			} else if verdict.Reason != "" {
				t.Errorf("Consistent verdict carries reason %q", verdict.Reason)
			}
		})
	}
}

func TestCheckConsistencyReasonNamesBothSides(t *testing.T) {
	verdict := CheckConsistency("CA de 2020 et 2021", "CA de 2024")
	if verdict.Consistent {
		t.Fatal("Expected inconsistent verdict")
	}
	for _, year := range []string{"2020", "2021", "2024"} {
		if !strings.Contains(verdict.Reason, year) {
			t.Errorf("Reason %q does not mention %s", verdict.Reason, year)
		}
	}
}
