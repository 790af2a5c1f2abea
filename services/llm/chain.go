// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// =============================================================================
// Provider Chain
// =============================================================================

const (
	// defaultMaxRetries is how many times a transient failure is retried
	// against the same provider before advancing to the next one.
	defaultMaxRetries = 2

	// defaultBaseBackoff is the first retry delay; it doubles per retry.
	defaultBaseBackoff = 500 * time.Millisecond
)

// ProviderChain runs an ordered list of LLM backends with failover.
//
// # Description
//
// A request is tried against the first provider. Auth and quota failures
// advance to the next provider immediately (retrying cannot fix a revoked
// key or an exhausted budget). Network failures are retried against the
// same provider with doubling backoff before advancing. When every provider
// has failed, the chain returns an ExhaustionError carrying the
// per-provider failures.
//
// # Thread Safety
//
// ProviderChain is safe for concurrent use.
//
// # Example
//
//	openaiClient, _ := NewOpenAIClient()
//	ollamaClient, _ := NewOllamaClient()
//	chain, err := NewProviderChain(openaiClient, ollamaClient)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sql, err := chain.Chat(ctx, messages, params)
type ProviderChain struct {
	providers   []LLMClient
	maxRetries  int
	baseBackoff time.Duration
	status      map[string]*ProviderStatus
	mu          sync.RWMutex
	logger      *slog.Logger
}

// ProviderStatus tracks one provider's usage within the chain.
//
// # Fields
//
//   - Name: Provider identifier ("openai", "anthropic", ...).
//   - Requests: Total attempts routed to this provider, including retries.
//   - Failures: Attempts that returned an error.
//   - LastUsed: When the provider last handled an attempt.
//   - LastError: Most recent error message, empty after a success.
type ProviderStatus struct {
	Name      string    `json:"name"`
	Requests  int64     `json:"requests"`
	Failures  int64     `json:"failures"`
	LastUsed  time.Time `json:"last_used"`
	LastError string    `json:"last_error,omitempty"`
}

// NewProviderChain creates a chain over the given providers, tried in order.
//
// # Inputs
//
//   - providers: At least one configured backend. Order is failover order.
//
// # Outputs
//
//   - *ProviderChain: Ready for use.
//   - error: Non-nil if no providers were supplied.
func NewProviderChain(providers ...LLMClient) (*ProviderChain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider chain requires at least one backend")
	}

	status := make(map[string]*ProviderStatus, len(providers))
	for _, p := range providers {
		status[p.Name()] = &ProviderStatus{Name: p.Name()}
	}

	return &ProviderChain{
		providers:   providers,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		status:      status,
		logger:      slog.Default(),
	}, nil
}

// Name implements the LLMClient interface.
func (c *ProviderChain) Name() string {
	return "chain"
}

// Generate implements the LLMClient interface with failover.
func (c *ProviderChain) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	answer, _, err := c.run(ctx, "ProviderChain.Generate", func(ctx context.Context, p LLMClient) (string, error) {
		return p.Generate(ctx, prompt, params)
	})
	return answer, err
}

// Chat implements the LLMClient interface with failover.
func (c *ProviderChain) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	answer, _, err := c.run(ctx, "ProviderChain.Chat", func(ctx context.Context, p LLMClient) (string, error) {
		return p.Chat(ctx, messages, params)
	})
	return answer, err
}

// ChatVia is Chat that also reports which backend served the completion,
// so responses can name the provider that actually produced them after
// failover.
func (c *ProviderChain) ChatVia(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, string, error) {
	return c.run(ctx, "ProviderChain.Chat", func(ctx context.Context, p LLMClient) (string, error) {
		return p.Chat(ctx, messages, params)
	})
}

// Pinned returns the named backend, for requests that pin one provider
// instead of using the failover order.
func (c *ProviderChain) Pinned(name string) (LLMClient, bool) {
	for _, p := range c.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// run walks the chain, applying the retry policy per provider. On success
// the second return value names the provider that answered.
func (c *ProviderChain) run(ctx context.Context, spanName string,
	call func(context.Context, LLMClient) (string, error)) (string, string, error) {

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.Int("llm.chain_length", len(c.providers)))

	var attempts []error
	for _, provider := range c.providers {
		answer, err := c.attempt(ctx, provider, call)
		if err == nil {
			span.SetAttributes(attribute.String("llm.provider", provider.Name()))
			return answer, provider.Name(), nil
		}
		attempts = append(attempts, err)

		if ctx.Err() != nil {
			// The caller's deadline expired; trying further providers
			// would fail the same way.
			break
		}
		c.logger.Warn("Provider failed, advancing to next in chain",
			"provider", provider.Name(),
			"error", err,
		)
	}

	exhausted := &ExhaustionError{Attempts: attempts}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "all providers failed")
	return "", "", exhausted
}

// attempt runs one provider, retrying transient failures with backoff.
func (c *ProviderChain) attempt(ctx context.Context, provider LLMClient,
	call func(context.Context, LLMClient) (string, error)) (string, error) {

	backoff := c.baseBackoff
	var lastErr error

	for try := 0; try <= c.maxRetries; try++ {
		if try > 0 {
			c.logger.Info("Retrying provider after transient failure",
				"provider", provider.Name(),
				"attempt", try,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		answer, err := call(ctx, provider)
		c.recordAttempt(provider.Name(), err)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		if !IsNetwork(err) {
			// Auth, quota, or a malformed response: more attempts against
			// this provider cannot succeed.
			break
		}
	}

	return "", lastErr
}

// recordAttempt updates the usage counters for one provider.
func (c *ProviderChain) recordAttempt(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.status[name]
	if !ok {
		st = &ProviderStatus{Name: name}
		c.status[name] = st
	}
	st.Requests++
	st.LastUsed = time.Now()
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
}

// Status returns a snapshot of per-provider usage in chain order.
//
// # Description
//
// Used by the health endpoint to expose which providers are configured and
// how they have been behaving. The snapshot is a copy; mutating it does not
// affect the chain.
func (c *ProviderChain) Status() []ProviderStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(c.providers))
	for _, p := range c.providers {
		if st, ok := c.status[p.Name()]; ok {
			statuses = append(statuses, *st)
		}
	}
	return statuses
}

// Names returns the provider names in chain order.
func (c *ProviderChain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

var _ LLMClient = (*ProviderChain)(nil)
