// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the translator service.
//
// # Description
//
// Provides standard counters, histograms, and gauges for HTTP requests,
// translations, cache behavior, retrieval, generation, and compliance
// outcomes. All metrics use the "nl2sql_" prefix for consistent naming.
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Translation Metrics ---

	// TranslationsTotal counts completed translations by source and status.
	TranslationsTotal metric.Int64Counter

	// TranslationDuration records end-to-end translation duration in seconds.
	TranslationDuration metric.Float64Histogram

	// StageDuration records per-stage duration in seconds by stage and status.
	StageDuration metric.Float64Histogram

	// --- Cache Metrics ---

	// CacheLookupsTotal counts cache lookups by result (hit, miss, bypass, error).
	CacheLookupsTotal metric.Int64Counter

	// CacheEntries tracks the current number of cached translations.
	CacheEntries metric.Int64ObservableGauge

	// --- Retrieval Metrics ---

	// ExamplesRetrievedTotal counts few-shot examples returned by similarity search.
	ExamplesRetrievedTotal metric.Int64Counter

	// RetrievalTimeoutsTotal counts retrieval stages that hit their deadline.
	RetrievalTimeoutsTotal metric.Int64Counter

	// --- Generation Metrics ---

	// GenerationsTotal counts generation calls by provider and status.
	GenerationsTotal metric.Int64Counter

	// RelevanceRejectionsTotal counts questions rejected as off-domain.
	RelevanceRejectionsTotal metric.Int64Counter

	// --- Compliance Metrics ---

	// CorrectionsTotal counts automatic corrections by fix applied.
	CorrectionsTotal metric.Int64Counter

	// RejectionsTotal counts rejected translations by reason: forbidden
	// operations screened from the question, uncorrectable statements,
	// and generator refusals.
	RejectionsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// # Description
//
// Registers all pre-defined metrics with the provided meter.
// Returns an error if any metric registration fails.
//
// # Inputs
//
//   - meter: The OTel meter to use for metric registration.
//
// # Outputs
//
//   - *Metrics: The metrics instance with all counters and histograms initialized.
//   - error: Non-nil if metric registration fails.
//
// # Example
//
//	meter := otel.Meter("nl2sql")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.TranslationsTotal.Add(ctx, 1, ...)
//
// # Thread Safety
//
// Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"nl2sql_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"nl2sql_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"nl2sql_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Translation Metrics ---
	m.TranslationsTotal, err = meter.Int64Counter(
		"nl2sql_translations_total",
		metric.WithDescription("Completed translations by source and status"),
		metric.WithUnit("{translation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create translations_total: %w", err)
	}

	// Generation alone can take tens of seconds, so the buckets reach
	// past the 60s stage deadline.
	m.TranslationDuration, err = meter.Float64Histogram(
		"nl2sql_translation_duration_seconds",
		metric.WithDescription("End-to-end translation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create translation_duration: %w", err)
	}

	m.StageDuration, err = meter.Float64Histogram(
		"nl2sql_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage_duration: %w", err)
	}

	// --- Cache Metrics ---
	m.CacheLookupsTotal, err = meter.Int64Counter(
		"nl2sql_cache_lookups_total",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_lookups_total: %w", err)
	}

	// Note: CacheEntries requires a callback registration, handled separately

	// --- Retrieval Metrics ---
	m.ExamplesRetrievedTotal, err = meter.Int64Counter(
		"nl2sql_examples_retrieved_total",
		metric.WithDescription("Few-shot examples returned by similarity search"),
		metric.WithUnit("{example}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create examples_retrieved_total: %w", err)
	}

	m.RetrievalTimeoutsTotal, err = meter.Int64Counter(
		"nl2sql_retrieval_timeouts_total",
		metric.WithDescription("Retrieval stages that hit their deadline"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval_timeouts_total: %w", err)
	}

	// --- Generation Metrics ---
	m.GenerationsTotal, err = meter.Int64Counter(
		"nl2sql_generations_total",
		metric.WithDescription("Generation calls by provider and status"),
		metric.WithUnit("{generation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generations_total: %w", err)
	}

	m.RelevanceRejectionsTotal, err = meter.Int64Counter(
		"nl2sql_relevance_rejections_total",
		metric.WithDescription("Questions rejected as off-domain"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create relevance_rejections_total: %w", err)
	}

	// --- Compliance Metrics ---
	m.CorrectionsTotal, err = meter.Int64Counter(
		"nl2sql_corrections_total",
		metric.WithDescription("Automatic corrections by fix applied"),
		metric.WithUnit("{correction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create corrections_total: %w", err)
	}

	m.RejectionsTotal, err = meter.Int64Counter(
		"nl2sql_rejections_total",
		metric.WithDescription("Uncorrectable statements by reason"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rejections_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"nl2sql_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterCacheEntries registers a callback for the cached-entry gauge.
//
// # Description
//
// Sets up an observable gauge that reports the current number of cached
// translations. The callback is invoked each time metrics are scraped.
//
// # Inputs
//
//   - meter: The OTel meter to use for registration.
//   - countFunc: A function that returns the current cache entry count.
//
// # Outputs
//
//   - metric.Registration: Registration handle for cleanup.
//   - error: Non-nil if registration fails.
func (m *Metrics) RegisterCacheEntries(meter metric.Meter, countFunc func() int64) (metric.Registration, error) {
	var err error
	m.CacheEntries, err = meter.Int64ObservableGauge(
		"nl2sql_cache_entries",
		metric.WithDescription("Current number of cached translations"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_entries: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.CacheEntries, countFunc())
		return nil
	}, m.CacheEntries)
}
