// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure for failover decisions.
//
// Auth and quota failures are permanent for the failing provider, so the
// chain advances immediately. Network failures (transport errors and 5xx)
// are transient and retried with backoff before advancing.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindQuota
	KindNetwork
)

// String returns the kind as a lowercase label for logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ProviderError wraps a failure from one LLM backend with enough context
// for the chain to decide between retrying and advancing.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s failure (status %d): %v",
			e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies an HTTP-level failure from a provider.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Kind:       classifyStatus(statusCode),
		Err:        err,
	}
}

// NewTransportError wraps a failure that never produced an HTTP status
// (DNS, connection refused, timeout). Always retryable.
func NewTransportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindNetwork,
		Err:      err,
	}
}

// classifyStatus maps an HTTP status to a failure kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindQuota
	case code >= 500:
		return KindNetwork
	default:
		return KindUnknown
	}
}

// IsAuth reports whether err is a provider authentication failure.
func IsAuth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

// IsQuota reports whether err is a provider quota/rate-limit failure.
func IsQuota(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindQuota
}

// IsNetwork reports whether err is a transient transport or server failure
// worth retrying against the same provider.
func IsNetwork(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindNetwork
}

// ExhaustionError means every provider in the chain failed. It carries the
// per-provider errors so callers can report what was actually tried.
type ExhaustionError struct {
	Attempts []error
}

func (e *ExhaustionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d providers failed", len(e.Attempts))
	for _, err := range e.Attempts {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *ExhaustionError) Unwrap() []error {
	return e.Attempts
}

// IsExhausted reports whether err means the whole provider chain failed.
func IsExhausted(err error) bool {
	var ee *ExhaustionError
	return errors.As(err, &ee)
}
