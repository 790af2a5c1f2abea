// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package secrets stores provider credentials in locked memory.
//
// API keys for LLM providers and the translator's own inbound key are
// resolved once (environment variable first, then a container secret file
// under /run/secrets) and sealed into memguard enclaves. Sealed keys are
// encrypted at rest in process memory and only decrypted into a short-lived
// mlocked buffer while a request header is being built, so a core dump or
// swap file never carries a plaintext key.
//
// Systems with an insufficient RLIMIT_MEMLOCK refuse to start unless
// NL2SQL_INSECURE_MEMORY=true is set, in which case keys are held in
// ordinary heap memory with a loud warning.
package secrets

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// secretsDir is where container runtimes mount file-based secrets.
	secretsDir = "/run/secrets"

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	// Each sealed key costs a handful of pages (data, canary, guards), so
	// 64 KB covers every provider key the translator can be configured with.
	MinMlockLimitKB = 64
)

var (
	initOnce sync.Once

	// mlockSufficient records whether sealed storage is available on this host.
	mlockSufficient bool

	// mlockLimitKB holds the current RLIMIT_MEMLOCK soft limit for logging.
	mlockLimitKB int64
)

// APIKey is a provider credential sealed in locked memory.
//
// The zero value is unusable; obtain one through Load. An APIKey is safe
// for concurrent use: the enclave is immutable after Load and each Reveal
// decrypts into its own buffer.
type APIKey struct {
	name    string
	enclave *memguard.Enclave

	// plain carries the key when the host cannot mlock and the operator
	// opted into insecure storage. Exactly one of enclave/plain is set.
	plain []byte
}

// Load resolves and seals a credential.
//
// # Description
//
// Resolves the key value from the environment variable envVar. When the
// variable is unset or empty, falls back to reading the container secret
// file /run/secrets/<file>, where <file> is the lower-cased variable name
// (ANTHROPIC_API_KEY becomes /run/secrets/anthropic_api_key). The resolved
// value is trimmed and sealed into an enclave.
//
// # Inputs
//
//   - name: Human-readable label used in log lines and error messages
//   - envVar: Environment variable to resolve, e.g. "OPENAI_API_KEY"
//
// # Outputs
//
//   - *APIKey: Sealed credential ready for Reveal/Verify
//   - error: Non-nil if no value could be resolved or locked storage is
//     unavailable without the insecure override
func Load(name, envVar string) (*APIKey, error) {
	initSecureMemory()

	value := os.Getenv(envVar)
	if value == "" {
		secretPath := filepath.Join(secretsDir, strings.ToLower(envVar))
		if content, err := os.ReadFile(secretPath); err == nil {
			value = strings.TrimSpace(string(content))
			slog.Info("Read credential from container secret file",
				"credential", name,
				"path", secretPath,
			)
		}
	}
	value = strings.TrimSpace(value)

	if value == "" {
		return nil, fmt.Errorf(
			"credential %s not found: set %s or mount %s",
			name, envVar, filepath.Join(secretsDir, strings.ToLower(envVar)),
		)
	}

	return seal(name, value)
}

// seal wraps a resolved value in locked or, with the override, heap storage.
func seal(name, value string) (*APIKey, error) {
	if !mlockSufficient {
		if os.Getenv("NL2SQL_INSECURE_MEMORY") != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient for sealed credentials: have %d KB, need %d KB. "+
					"Raise RLIMIT_MEMLOCK or set NL2SQL_INSECURE_MEMORY=true",
				mlockLimitKB, MinMlockLimitKB,
			)
		}
		slog.Warn("SECURITY: storing credential in unlocked memory",
			"credential", name,
			"mlock_limit_kb", mlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return &APIKey{name: name, plain: []byte(value)}, nil
	}

	// NewEnclave wipes the source buffer after sealing, so the only
	// remaining plaintext copy is the immutable `value` string, which dies
	// with this frame.
	enclave := memguard.NewEnclave([]byte(value))
	if enclave == nil {
		return nil, fmt.Errorf("failed to seal credential %s", name)
	}

	slog.Debug("Sealed credential in locked memory", "credential", name)

	return &APIKey{name: name, enclave: enclave}, nil
}

// Name returns the label the key was loaded under.
func (k *APIKey) Name() string {
	return k.name
}

// Reveal decrypts the credential for immediate use.
//
// # Description
//
// Opens the enclave, copies the plaintext out, and destroys the decryption
// buffer before returning. Callers should pass the result straight into a
// request header and drop the reference; never log it or store it on a
// long-lived struct.
//
// # Outputs
//
//   - string: The plaintext credential
//   - error: Non-nil if the enclave could not be opened
func (k *APIKey) Reveal() (string, error) {
	if k.plain != nil {
		return string(k.plain), nil
	}
	if k.enclave == nil {
		return "", fmt.Errorf("credential %s is empty", k.name)
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open sealed credential %s: %w", k.name, err)
	}
	defer buf.Destroy()

	// string([]byte) copies, so the returned value outlives the buffer.
	return string(buf.Bytes()), nil
}

// Verify compares a candidate against the credential in constant time.
//
// # Description
//
// Used by the authentication middleware to check inbound X-API-Key headers
// without leaking the match position through timing. Returns false on any
// reveal failure.
//
// # Inputs
//
//   - candidate: The value presented by the caller
//
// # Outputs
//
//   - bool: True only if candidate matches the sealed credential exactly
func (k *APIKey) Verify(candidate string) bool {
	expected, err := k.Reveal()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}

// initSecureMemory performs one-time memguard setup and the rlimit probe.
func initSecureMemory() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure credential storage initialized",
				"mlock_limit_kb", mlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient for sealed credentials",
				"mlock_limit_kb", mlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK and compares it to the minimum.
// A failed query is treated as sufficient; memguard will surface the real
// error on first allocation if the kernel refuses.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// IsMlockAvailable reports whether sealed storage is available and the
// current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initSecureMemory()
	return mlockSufficient, mlockLimitKB
}

// Purge wipes all sealed credentials. Call during graceful shutdown; every
// existing APIKey is unusable afterwards.
func Purge() {
	memguard.Purge()
	slog.Info("Purged sealed credentials")
}
