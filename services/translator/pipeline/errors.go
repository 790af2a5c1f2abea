// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider rejects a request that pins a provider the chain does
// not carry.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrInvalidQuestion rejects a question that failed sanitization before
// any stage ran. The wrapped detail names what was wrong with it.
var ErrInvalidQuestion = errors.New("invalid question")

// RelevanceRejectionError ends a request before retrieval or generation:
// the pre-check decided the question is not about this database at all.
type RelevanceRejectionError struct {
	Question string
}

func (e *RelevanceRejectionError) Error() string {
	return fmt.Sprintf("question rejected as out of domain: %q", e.Question)
}

// UserMessage returns the text shown to the end user.
func (e *RelevanceRejectionError) UserMessage() string {
	return "Cette requête ne semble pas concerner les ressources humaines. " +
		"Cette base de données contient uniquement des informations RH " +
		"(employés, contrats, absences, paie, etc.)."
}

// IsRelevanceRejection reports whether err means the question was screened
// out as off-domain.
func IsRelevanceRejection(err error) bool {
	var re *RelevanceRejectionError
	return errors.As(err, &re)
}

// ImpossibleRequestError means the generator declared the question
// untranslatable against the current schema.
type ImpossibleRequestError struct {
	Question string
}

func (e *ImpossibleRequestError) Error() string {
	return fmt.Sprintf("question cannot be translated to SQL: %q", e.Question)
}

// UserMessage returns the text shown to the end user.
func (e *ImpossibleRequestError) UserMessage() string {
	return "Cette demande ne semble pas concerner les ressources humaines " +
		"ou est impossible à traduire en SQL avec le schéma fourni."
}

// IsImpossible reports whether err means the question has no SQL answer.
func IsImpossible(err error) bool {
	var ie *ImpossibleRequestError
	return errors.As(err, &ie)
}

// WriteRequestError means the caller asked for a data modification. The
// input screen sets Operation to the verb it matched; the generator's
// refusal leaves it empty.
type WriteRequestError struct {
	Operation string
}

func (e *WriteRequestError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("write operation %q requested", e.Operation)
	}
	return "write operation requested"
}

// UserMessage returns the text shown to the end user.
func (e *WriteRequestError) UserMessage() string {
	if e.Operation != "" {
		return fmt.Sprintf("Opération '%s' non autorisée. "+
			"Seules les requêtes de consultation (SELECT) sont permises.",
			strings.ToUpper(e.Operation))
	}
	return "Votre demande concerne une opération d'écriture " +
		"(INSERT, UPDATE, DELETE, etc.) qui n'est pas autorisée. " +
		"Cette API est en lecture seule."
}

// IsWriteRequest reports whether err means a write operation was asked for.
func IsWriteRequest(err error) bool {
	var we *WriteRequestError
	return errors.As(err, &we)
}

// UserMessage extracts the user-facing text an error carries, if any.
// Compliance and provider errors carry none; handlers fall back to their
// own wording for those.
func UserMessage(err error) (string, bool) {
	var carrier interface{ UserMessage() string }
	if errors.As(err, &carrier) {
		return carrier.UserMessage(), true
	}
	return "", false
}
