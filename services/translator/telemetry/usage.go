// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// usageMeasurement is the InfluxDB measurement usage samples are written to.
const usageMeasurement = "nl2sql_usage"

// UsageConfig configures the optional InfluxDB usage sink.
//
// The sink is disabled when URL or Token is empty.
type UsageConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// UsageSample is one completed translation, flattened for accounting.
//
// # Fields
//
//   - RequestID: Correlates the sample with service logs.
//   - Source: "cache", "exact_match", or "generation".
//   - Status: "accepted", "corrected", or "rejected".
//   - Provider/Model: Which backend produced the SQL. Empty for cache hits.
//   - SchemaVersion: Schema generation the translation was produced against.
//   - CacheHit: True when served from the translation cache.
//   - ExamplesUsed: Few-shot examples shown to the generator.
//   - QuestionBytes/SQLBytes: Payload sizes for capacity planning.
//   - Duration: End-to-end pipeline wall time.
type UsageSample struct {
	RequestID     string
	Source        string
	Status        string
	Provider      string
	Model         string
	SchemaVersion string
	CacheHit      bool
	ExamplesUsed  int
	QuestionBytes int
	SQLBytes      int
	Duration      time.Duration
}

// UsageRecorder writes per-translation usage samples to InfluxDB.
//
// # Description
//
// One point per completed translation, tagged for slicing by source, status,
// provider, and schema version. Intended for billing and capacity reports
// that outlive Prometheus retention. A nil *UsageRecorder is valid and
// records nothing, so callers never need to branch on whether the sink is
// configured.
//
// # Thread Safety
//
// Safe for concurrent use.
type UsageRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewUsageRecorder creates an InfluxDB-backed usage sink.
//
// # Inputs
//
//   - cfg: Connection settings. An empty URL or Token disables the sink.
//
// # Outputs
//
//   - *UsageRecorder: The sink, or nil when disabled. Nil is safe to use.
func NewUsageRecorder(cfg UsageConfig) *UsageRecorder {
	if cfg.URL == "" || cfg.Token == "" {
		return nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &UsageRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   slog.Default(),
	}
}

// Enabled reports whether samples are actually being written.
func (u *UsageRecorder) Enabled() bool {
	return u != nil
}

// Record writes one usage sample.
//
// # Description
//
// Failures are logged and absorbed; usage accounting must never fail a
// translation that already succeeded.
//
// # Inputs
//
//   - ctx: Controls the write deadline.
//   - sample: The completed translation to record.
func (u *UsageRecorder) Record(ctx context.Context, sample UsageSample) {
	if u == nil {
		return
	}

	if err := u.writeAPI.WritePoint(ctx, newUsagePoint(sample, time.Now())); err != nil {
		u.logger.Warn("Failed to write usage sample",
			"request_id", sample.RequestID,
			"error", err,
		)
	}
}

// Close releases the underlying InfluxDB client.
func (u *UsageRecorder) Close() {
	if u == nil {
		return
	}
	u.client.Close()
}

// newUsagePoint flattens a sample into an InfluxDB point.
//
// High-cardinality values (request ID, sizes, duration) go in fields;
// only the bounded dimensions become tags.
func newUsagePoint(sample UsageSample, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(usageMeasurement).
		AddTag("source", sample.Source).
		AddTag("status", sample.Status).
		AddTag("provider", sample.Provider).
		AddTag("schema_version", sample.SchemaVersion).
		AddField("request_id", sample.RequestID).
		AddField("model", sample.Model).
		AddField("cache_hit", sample.CacheHit).
		AddField("examples_used", sample.ExamplesUsed).
		AddField("question_bytes", sample.QuestionBytes).
		AddField("sql_bytes", sample.SQLBytes).
		AddField("duration_ms", sample.Duration.Milliseconds()).
		SetTime(at)
}
