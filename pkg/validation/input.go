// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// prompts, vector-index queries, cache keys, or time-series tags. Using these
// validators keeps injection attempts (prompt smuggling, Flux/tag injection,
// oversized payloads) out of the downstream collaborators.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// identifierPattern matches provider, model, and schema-version identifiers.
// Allows: letters, digits, dots, underscores, hyphens, colons
// Max length: 64 characters (colons cover local model tags like "sqlcoder:7b")
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,63}$`)

// MaxQuestionLen is the upper bound, in runes, for a natural-language
// question. Anything longer is almost certainly pasted content, not a
// question, and would blow up embedding and prompt budgets.
const MaxQuestionLen = 1000

// ValidateQuestion validates a natural-language question before it enters
// the pipeline.
//
// Valid questions:
//   - 1-1000 characters after trimming
//   - no control characters other than newline and tab
//
// Returns an error naming the violated bound if the question is invalid.
//
// Example:
//
//	if err := validation.ValidateQuestion(req.Question); err != nil {
//	    return nil, fmt.Errorf("invalid question: %w", err)
//	}
func ValidateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxQuestionLen {
		return fmt.Errorf("question is %d characters, maximum is %d", n, MaxQuestionLen)
	}
	for _, r := range trimmed {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("question contains control character %U", r)
		}
	}
	return nil
}

// SanitizeQuestion normalizes and validates a question. Returns the trimmed
// question with internal whitespace runs collapsed to single spaces, or an
// error if invalid.
//
// Use this when the text also feeds key derivation, so that formatting
// differences do not fragment the cache:
//
//	question, err := validation.SanitizeQuestion(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeQuestion(question string) (string, error) {
	collapsed := strings.Join(strings.Fields(question), " ")
	if err := ValidateQuestion(collapsed); err != nil {
		return "", err
	}
	return collapsed, nil
}

// ValidateIdentifier validates a configuration-style identifier (provider
// name, model name, schema version label) that is used as a cache-key part
// or a time-series tag.
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier(req.Provider); err != nil {
//	    return nil, fmt.Errorf("invalid provider: %w", err)
//	}
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier format: %q (must be 1-64 alphanumeric chars, dots, underscores, hyphens, or colons)", name)
	}
	return nil
}
