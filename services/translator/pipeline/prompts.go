// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// Sentinel words the generation prompt tells the model to answer with
// instead of SQL. Detection requires the whole cleaned response to equal
// the sentinel; SQL that merely contains the word is SQL.
const (
	sentinelImpossible = "IMPOSSIBLE"
	sentinelReadOnly   = "READONLY_VIOLATION"
)

// Outcome messages surfaced in ValidationResult.Reason and in the
// explanation field, in the product language.
const (
	msgExactMatch = "Requête trouvée directement dans la base de connaissances " +
		"et conforme au framework."
	msgFrameworkOK     = "Requête conforme au framework obligatoire."
	msgCorrectedSuffix = " (Requête corrigée automatiquement)"

	msgSemanticOK = "La requête SQL correspond bien à votre demande " +
		"et est compatible avec le schéma."
	msgSemanticDoubt = "La requête SQL pourrait ne pas correspondre " +
		"parfaitement à votre demande."
	msgSemanticOffTopic = "Cette demande ne concerne pas une requête SQL " +
		"sur cette base de données."
	msgSemanticAmbiguous = "La requête SQL semble correspondre à votre demande."
	msgSemanticSkipped   = "Validation sémantique ignorée due à une erreur LLM."

	msgExplanationUnavailable = "Explication non disponible."
)

const generationSystemPrompt = `Tu es un expert SQL spécialisé dans la traduction de langage naturel en requêtes SQL optimisées. Tu dois retourner UNIQUEMENT le code SQL, sans explications ni formatage markdown. Tu fais tout ton possible pour comprendre l'intention de l'utilisateur, même si la demande est vague.

Cas particuliers:
- Si la demande concerne une opération d'écriture (INSERT, UPDATE, DELETE, etc.), réponds UNIQUEMENT "READONLY_VIOLATION".
- Si la demande est impossible à traduire en SQL avec le schéma fourni, réponds UNIQUEMENT "IMPOSSIBLE".`

const relevanceSystemPrompt = "Tu détermines si une question concerne les ressources humaines."

const semanticSystemPrompt = "Tu es un expert SQL qui valide la correspondance entre une demande et une requête SQL générée."

const explanationSystemPrompt = "Tu es un expert SQL qui explique des requêtes SQL de manière simple et accessible."

// buildGenerationPrompt assembles the user message for SQL generation:
// the question, the schema context, the retrieved examples, and the
// framework rules the statement must satisfy.
func buildGenerationPrompt(question, schemaContext string, examples []datatypes.CandidateMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Traduis cette question en SQL en respectant le schéma fourni:\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Schéma:\n%s\n", schemaContext)

	if len(examples) > 0 {
		b.WriteString("\nExemples de requêtes similaires:\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "\nExemple %d (Score: %.2f):\nQuestion: \"%s\"\nSQL: %s\n",
				i+1, ex.Certainty, ex.Question, ex.SQL)
		}
	}

	b.WriteString(`
Tu dois ABSOLUMENT respecter ces règles:
1. Inclure WHERE [alias_depot].ID_USER = ?
2. Joindre avec la table DEPOT
3. Ajouter les hashtags appropriés en fin (#DEPOT_alias# etc.)

SQL:`)
	return b.String()
}

func buildRelevancePrompt(question string) string {
	return fmt.Sprintf(`Tu es un expert RH qui détermine si une question concerne une base de données RH.

La base de données contient des informations sur :
- Employés, contrats, rémunérations
- Entreprises et établissements
- Absences et arrêts de travail
- Déclarations sociales (DSN)

Question: "%s"

Cette question concerne-t-elle les ressources humaines ?
Réponds UNIQUEMENT par "OUI" ou "NON".`, question)
}

func buildSemanticValidationPrompt(sqlText, question, schemaContext string) string {
	return fmt.Sprintf(`Tu es un expert SQL chargé d'analyser et de valider des requêtes SQL.

La requête SQL suivante a été générée pour répondre à cette demande: "%s"

Requête SQL générée:
`+"```sql\n%s\n```"+`

Schéma de la base de données:
`+"```sql\n%s\n```"+`

TÂCHE:
1. Vérifie si la demande concerne une requête SQL sur cette base de données
2. Si oui, analyse si la requête SQL est compatible avec le schéma
3. Évalue si la requête répond à l'intention de l'utilisateur
4. RÉPONDS UNIQUEMENT par "OUI" ou "NON" ou "HORS SUJET"`, question, sqlText, schemaContext)
}

func buildExplanationPrompt(sqlText, question string) string {
	return fmt.Sprintf(`Tu es un expert SQL qui explique des requêtes en langage simple.

Demande originale: "%s"

Requête SQL générée:
`+"```sql\n%s\n```"+`

Explique en une phrase courte et simple ce que fait cette requête, sans termes techniques complexes.`, question, sqlText)
}

// stripMarkdownSQL removes the code fence models wrap SQL in despite being
// told not to.
func stripMarkdownSQL(response string) string {
	s := strings.TrimSpace(response)
	if rest, ok := strings.CutPrefix(s, "```sql"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// isSentinel reports whether a cleaned response is exactly the sentinel,
// case-insensitively. Substring matching would misfire on SQL selecting a
// literal that happens to contain the word.
func isSentinel(response, sentinel string) bool {
	return strings.EqualFold(strings.TrimSpace(response), sentinel)
}

// parseRelevance interprets the relevance check answer. Anything without
// an explicit OUI counts as off-domain.
func parseRelevance(response string) bool {
	return strings.Contains(strings.ToUpper(response), "OUI")
}

// semanticVerdict is the advisory outcome of the cross-check between the
// question and the generated SQL.
type semanticVerdict struct {
	Valid   bool
	Message string
}

// parseSemanticVerdict maps the validator's free-form answer onto a
// verdict. HORS SUJET is checked first because models sometimes pad it
// with an OUI or NON; both the spaced and underscored spellings appear in
// the wild. An unrecognizable answer passes with the ambiguous message
// rather than blocking a statement the compliance gate already accepted.
func parseSemanticVerdict(response string) semanticVerdict {
	up := strings.ToUpper(response)
	switch {
	case strings.Contains(up, "HORS_SUJET") || strings.Contains(up, "HORS SUJET"):
		return semanticVerdict{Valid: false, Message: msgSemanticOffTopic}
	case strings.Contains(up, "OUI"):
		return semanticVerdict{Valid: true, Message: msgSemanticOK}
	case strings.Contains(up, "NON"):
		return semanticVerdict{Valid: false, Message: msgSemanticDoubt}
	default:
		return semanticVerdict{Valid: true, Message: msgSemanticAmbiguous}
	}
}
