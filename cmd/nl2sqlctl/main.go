// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// nl2sqlctl is the command line client for the translation service.
//
// It talks to a running translator over its HTTP API and never touches the
// service's collaborators directly, so it works against any deployment the
// caller can reach:
//
//	nl2sqlctl translate "quels salariés ont plus de 10 ans d'ancienneté ?"
//	nl2sqlctl console
//	nl2sqlctl validate "SELECT b.NOM FROM depot a JOIN facts b ON a.ID=b.ID_NUMDEPOT"
//	nl2sqlctl seed corpus.json --schema
//	nl2sqlctl health
//
// Configuration comes from flags, then the environment, then an optional
// YAML file at ~/.nl2sql/nl2sqlctl.yaml:
//
//	NL2SQL_SERVER_URL   translator base URL (default http://localhost:8080)
//	NL2SQL_API_KEY      credential sent as X-API-Key on /api/v1 calls
//	NL2SQL_PLAIN        force undecorated output
//	NL2SQL_CONFIG_FILE  alternate config file path
//
// The API key is only ever read from the environment or the secrets
// directory, never from a flag, so it cannot leak into shell history.
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
