// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datasulting/nl2sql/pkg/logging"
	"github.com/datasulting/nl2sql/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverFlag  string        // --server override for the translator base URL
	timeoutFlag time.Duration // --timeout override for request deadlines
	plainFlag   bool          // --plain forces undecorated output
	verboseFlag bool          // --verbose lowers the log level to debug
	logDirFlag  string        // --log-dir enables file logging

	// clientConfig holds the optional YAML config file contents. Flags and
	// environment variables take precedence over it.
	clientConfig ClientConfig

	// cliLogger is shared by all commands. Built in PersistentPreRun so it
	// sees the resolved flags, closed in PersistentPostRun.
	cliLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "nl2sqlctl",
		Short: "Command line client for the Datasulting NL-to-SQL translator",
		Long: `nl2sqlctl drives a running translation service over its HTTP API.

One-shot translation, an interactive console, local compliance checks,
index seeding, and health inspection:

  nl2sqlctl translate "quels salariés ont plus de 10 ans d'ancienneté ?"
  nl2sqlctl console
  nl2sqlctl validate --file query.sql --fix
  nl2sqlctl seed corpus.json --schema
  nl2sqlctl health --json

The server address comes from --server, NL2SQL_SERVER_URL, or the config
file at ~/.nl2sql/nl2sqlctl.yaml. The API key is read from NL2SQL_API_KEY
or /run/secrets, never from a flag.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := loadClientConfig(); err != nil {
				log.Fatalf("Error reading config file: %v", err)
			}

			if plainFlag {
				ux.SetPlain(true)
			} else {
				ux.InitTerminal()
			}

			level := logging.LevelWarn
			if verboseFlag {
				level = logging.LevelDebug
			}
			cliLogger = logging.New(logging.Config{
				Level:   level,
				LogDir:  resolveLogDir(),
				Service: "nl2sqlctl",
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cliLogger != nil {
				if err := cliLogger.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: closing log file: %v\n", err)
				}
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "",
		"Translator base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0,
		"Request timeout (default 60s, generation can be slow on local models)")
	rootCmd.PersistentFlags().BoolVar(&plainFlag, "plain", false,
		"Undecorated output for scripting")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false,
		"Debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&logDirFlag, "log-dir", "",
		"Also write JSON logs to this directory")
}

// ClientConfig is the optional ~/.nl2sql/nl2sqlctl.yaml file. Every field
// has a flag or environment override, so the file is never required.
type ClientConfig struct {
	ServerURL      string `yaml:"server_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	LogDir         string `yaml:"log_dir"`
}

// loadClientConfig fills clientConfig from the config file when one
// exists. A missing file is not an error; a malformed one is.
func loadClientConfig() error {
	path := os.Getenv("NL2SQL_CONFIG_FILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".nl2sql", "nl2sqlctl.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &clientConfig); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// resolveServerURL returns the translator base URL without a trailing
// slash. Precedence: flag, environment, config file, localhost default.
func resolveServerURL() string {
	for _, candidate := range []string{serverFlag, os.Getenv("NL2SQL_SERVER_URL"), clientConfig.ServerURL} {
		if candidate != "" {
			return strings.TrimRight(candidate, "/")
		}
	}
	return "http://localhost:8080"
}

// resolveTimeout returns the per-request deadline.
func resolveTimeout() time.Duration {
	if timeoutFlag > 0 {
		return timeoutFlag
	}
	if clientConfig.TimeoutSeconds > 0 {
		return time.Duration(clientConfig.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

func resolveLogDir() string {
	if logDirFlag != "" {
		return logDirFlag
	}
	return clientConfig.LogDir
}

// outputJSON prints v to stdout as indented JSON.
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// exitWithAPIError reports err and terminates with a non-zero status.
// Server rejections keep the product-language message the service chose;
// transport problems get the wrapped Go error.
func exitWithAPIError(prefix string, err error) {
	var remote *apiError
	if errors.As(err, &remote) {
		ux.Error(fmt.Sprintf("%s: %s", prefix, remote.Error()))
		if cliLogger != nil {
			cliLogger.Debug("request rejected", "status", remote.Status, "detail", remote.Detail)
		}
	} else {
		ux.Error(fmt.Sprintf("%s: %v", prefix, err))
	}
	os.Exit(1)
}
