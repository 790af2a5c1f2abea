// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// resetResolution clears the flag, environment, and config inputs that
// the resolve helpers read, restoring them when the test ends.
func resetResolution(t *testing.T) {
	t.Helper()
	prevServer, prevTimeout, prevLogDir := serverFlag, timeoutFlag, logDirFlag
	prevConfig := clientConfig
	t.Cleanup(func() {
		serverFlag, timeoutFlag, logDirFlag = prevServer, prevTimeout, prevLogDir
		clientConfig = prevConfig
	})

	serverFlag, timeoutFlag, logDirFlag = "", 0, ""
	clientConfig = ClientConfig{}
	t.Setenv("NL2SQL_SERVER_URL", "")
}

// =============================================================================
// SERVER URL RESOLUTION TESTS
// =============================================================================

func TestResolveServerURL_DefaultsToLocalhost(t *testing.T) {
	resetResolution(t)

	if got := resolveServerURL(); got != "http://localhost:8080" {
		t.Errorf("resolveServerURL() = %q", got)
	}
}

func TestResolveServerURL_FlagWins(t *testing.T) {
	resetResolution(t)
	serverFlag = "http://flag:1111"
	t.Setenv("NL2SQL_SERVER_URL", "http://env:2222")
	clientConfig.ServerURL = "http://config:3333"

	if got := resolveServerURL(); got != "http://flag:1111" {
		t.Errorf("resolveServerURL() = %q, want the flag value", got)
	}
}

func TestResolveServerURL_EnvBeatsConfig(t *testing.T) {
	resetResolution(t)
	t.Setenv("NL2SQL_SERVER_URL", "http://env:2222")
	clientConfig.ServerURL = "http://config:3333"

	if got := resolveServerURL(); got != "http://env:2222" {
		t.Errorf("resolveServerURL() = %q, want the environment value", got)
	}
}

func TestResolveServerURL_ConfigUsedLast(t *testing.T) {
	resetResolution(t)
	clientConfig.ServerURL = "http://config:3333"

	if got := resolveServerURL(); got != "http://config:3333" {
		t.Errorf("resolveServerURL() = %q, want the config value", got)
	}
}

func TestResolveServerURL_TrimsTrailingSlash(t *testing.T) {
	resetResolution(t)
	serverFlag = "http://svc:8080/"

	if got := resolveServerURL(); got != "http://svc:8080" {
		t.Errorf("resolveServerURL() = %q, want the slash trimmed", got)
	}
}

// =============================================================================
// TIMEOUT RESOLUTION TESTS
// =============================================================================

func TestResolveTimeout(t *testing.T) {
	tests := []struct {
		name          string
		flag          time.Duration
		configSeconds int
		want          time.Duration
	}{
		{name: "default", want: 60 * time.Second},
		{name: "flag wins", flag: 5 * time.Second, configSeconds: 120, want: 5 * time.Second},
		{name: "config seconds", configSeconds: 120, want: 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetResolution(t)
			timeoutFlag = tt.flag
			clientConfig.TimeoutSeconds = tt.configSeconds

			if got := resolveTimeout(); got != tt.want {
				t.Errorf("resolveTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveLogDir_FlagWinsOverConfig(t *testing.T) {
	resetResolution(t)
	logDirFlag = "/tmp/flag-logs"
	clientConfig.LogDir = "/tmp/config-logs"

	if got := resolveLogDir(); got != "/tmp/flag-logs" {
		t.Errorf("resolveLogDir() = %q", got)
	}
}

// =============================================================================
// CONFIG FILE TESTS
// =============================================================================

func TestLoadClientConfig_FromEnvPath(t *testing.T) {
	resetResolution(t)

	path := filepath.Join(t.TempDir(), "nl2sqlctl.yaml")
	content := "server_url: http://translator:9000\ntimeout_seconds: 90\nlog_dir: /var/log/nl2sql\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("NL2SQL_CONFIG_FILE", path)

	if err := loadClientConfig(); err != nil {
		t.Fatalf("loadClientConfig() returned error: %v", err)
	}

	if clientConfig.ServerURL != "http://translator:9000" {
		t.Errorf("ServerURL = %q", clientConfig.ServerURL)
	}
	if clientConfig.TimeoutSeconds != 90 {
		t.Errorf("TimeoutSeconds = %d", clientConfig.TimeoutSeconds)
	}
	if clientConfig.LogDir != "/var/log/nl2sql" {
		t.Errorf("LogDir = %q", clientConfig.LogDir)
	}
}

func TestLoadClientConfig_MissingFileIsNotAnError(t *testing.T) {
	resetResolution(t)
	t.Setenv("NL2SQL_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if err := loadClientConfig(); err != nil {
		t.Errorf("loadClientConfig() returned error for a missing file: %v", err)
	}
}

func TestLoadClientConfig_MalformedFileErrors(t *testing.T) {
	resetResolution(t)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server_url: [not, a, string"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("NL2SQL_CONFIG_FILE", path)

	if err := loadClientConfig(); err == nil {
		t.Error("loadClientConfig() returned nil error for malformed YAML")
	}
}

// =============================================================================
// ROOT COMMAND TESTS
// =============================================================================

func TestRootCommandPersistentFlags(t *testing.T) {
	for _, name := range []string{"server", "timeout", "plain", "verbose", "log-dir"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Persistent flag %q not registered", name)
		}
	}

	short := rootCmd.PersistentFlags().ShorthandLookup("v")
	if short == nil {
		t.Fatal("Short flag -v not registered")
	}
	if short.Name != "verbose" {
		t.Errorf("Short flag -v maps to %q, want verbose", short.Name)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := map[string]bool{
		"translate": false,
		"console":   false,
		"validate":  false,
		"seed":      false,
		"health":    false,
	}

	for _, sub := range rootCmd.Commands() {
		if _, tracked := want[sub.Name()]; tracked {
			want[sub.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("Subcommand %q not registered on the root command", name)
		}
	}
}
