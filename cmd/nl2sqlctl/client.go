// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/datasulting/nl2sql/pkg/secrets"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/middleware"
)

// maxResponseBytes bounds how much of a response body is read. Suggestion
// lists and health reports are small; anything larger is a misbehaving
// server.
const maxResponseBytes = 4 << 20

// =============================================================================
// API CLIENT
// =============================================================================

// apiClient is a typed wrapper over the translator's HTTP API. Every
// command goes through it, so the key handling and error decoding live
// in exactly one place.
type apiClient struct {
	baseURL string
	key     *secrets.APIKey // nil when no credential is configured
	http    *http.Client
}

// newAPIClient builds a client from the resolved configuration. A missing
// API key is not an error here: the server may run in open mode, and an
// authenticated server answers 401 with a clear message anyway.
func newAPIClient() *apiClient {
	client := &apiClient{
		baseURL: resolveServerURL(),
		http:    &http.Client{Timeout: resolveTimeout()},
	}
	if key, err := secrets.Load("service API key", "NL2SQL_API_KEY"); err == nil {
		client.key = key
	} else if cliLogger != nil {
		cliLogger.Debug("no API key configured, calling unauthenticated", "error", err)
	}
	return client
}

// apiError is a non-2xx response decoded from the service's error body.
// Message carries the product-language text the server chose for the
// user; Detail the diagnostic, when one was included.
type apiError struct {
	Status  int
	Message string
	Detail  string
}

func (e *apiError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Detail)
	}
	return e.Message
}

func decodeAPIError(status int, body []byte) *apiError {
	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &apiError{Status: status, Message: parsed.Error, Detail: parsed.Detail}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	return &apiError{Status: status, Message: message}
}

// do performs one request and returns the raw status and body. The caller
// decides what a non-2xx status means; /health treats 503 as an answer.
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.key != nil {
		if value, revealErr := c.key.Reveal(); revealErr == nil {
			req.Header.Set(middleware.APIKeyHeader, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response from %s: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

// call wraps do with JSON encoding on both sides and apiError mapping for
// every non-2xx status.
func (c *apiClient) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	status, data, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	if status >= 400 {
		return decodeAPIError(status, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSLATION ENDPOINTS
// =============================================================================

// Translate runs one question through POST /api/v1/translate.
func (c *apiClient) Translate(ctx context.Context, req datatypes.TranslationRequest) (*datatypes.TranslationResponse, error) {
	var resp datatypes.TranslationResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/translate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateSQL runs a compliance check through POST /api/v1/validate.
func (c *apiClient) ValidateSQL(ctx context.Context, req datatypes.ValidateRequest) (*datatypes.ValidateResponse, error) {
	var resp datatypes.ValidateResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Suggestions fetches similar validated questions through
// POST /api/v1/suggestions.
func (c *apiClient) Suggestions(ctx context.Context, req datatypes.SuggestionsRequest) (*datatypes.SuggestionsResponse, error) {
	var resp datatypes.SuggestionsResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/suggestions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// HEALTH AND ADMIN ENDPOINTS
// =============================================================================

// Health fetches GET /health. A degraded service answers 503 with the
// same body shape, so only transport and decode failures are errors.
func (c *apiClient) Health(ctx context.Context) (*datatypes.HealthResponse, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, decodeAPIError(status, data)
	}

	var health datatypes.HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

// seedResult is the summary the admin seed endpoints return.
type seedResult struct {
	Seeded        int    `json:"seeded"`
	Chunks        int    `json:"chunks"`
	SchemaVersion string `json:"schema_version"`
}

// SeedExamples posts a raw corpus document to
// POST /api/v1/admin/seed/examples. The server parses and validates it,
// so malformed entries are reported against the server's rules, not a
// client-side copy of them.
func (c *apiClient) SeedExamples(ctx context.Context, corpus []byte) (*seedResult, error) {
	status, data, err := c.do(ctx, http.MethodPost, "/api/v1/admin/seed/examples", bytes.NewReader(corpus), "application/json")
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, decodeAPIError(status, data)
	}

	var result seedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode seed response: %w", err)
	}
	return &result, nil
}

// SeedSchema asks the server to chunk and index its current schema
// document through POST /api/v1/admin/seed/schema.
func (c *apiClient) SeedSchema(ctx context.Context) (*seedResult, error) {
	var result seedResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/seed/schema", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
