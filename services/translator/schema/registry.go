// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema serves the database reference document that generation
// prompts are grounded on: table and column descriptions for the HR star
// schema, maintained by the data team as a single markdown/SQL file.
//
// The registry loads the document once at startup from a local path or a
// gs:// URL, derives a short content hash used as the schema version in
// cache keys and vector index entries, and, for local sources, hot-reloads
// the document when the file changes on disk. Readers always see a complete
// document: reloads swap the content and version together under a lock.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/fsnotify/fsnotify"
	"google.golang.org/api/option"
)

// gcsPrefix marks a remote source. Everything else is a local file path.
const gcsPrefix = "gs://"

// maxDocumentBytes caps how much of a source we will read. The reference
// document for the largest tenant schema is under 200 KiB; anything in the
// megabytes is a misconfigured source, not a schema.
const maxDocumentBytes = 4 << 20

// Registry holds the current schema reference document and its version.
//
// # Description
//
// Document and Version always correspond to the same load: a reload replaces
// both in one critical section, so a caller reading them back to back inside
// the same request may still observe a torn pair across two calls. Callers
// that need the pair atomically should use Snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. Watch should only be called once.
type Registry struct {
	source    string
	credsPath string

	mu       sync.RWMutex
	document string
	version  string

	gcsClient *storage.Client
	watcher   *fsnotify.Watcher
}

// Option configures a Registry.
type Option func(*Registry)

// WithCredentialsFile points the GCS client at a service account key file.
// Ignored for local sources. When empty, application default credentials
// are used.
func WithCredentialsFile(path string) Option {
	return func(r *Registry) {
		r.credsPath = path
	}
}

// Open loads the schema document from source and returns a ready registry.
//
// # Description
//
// source is either a local file path or a gs://bucket/object URL. The
// initial load is synchronous: Open fails if the document cannot be read or
// is empty, so a service never starts serving prompts without a schema.
//
// For local sources a filesystem watcher is prepared for use by Watch. If
// the watcher cannot be created (inotify limits, unsupported filesystem),
// the registry still opens and serves the initial load; hot reload is
// simply unavailable and a warning is logged.
//
// # Inputs
//
//   - ctx: Context for the initial load (GCS fetch).
//   - source: Local path or gs:// URL of the schema reference document.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Registry: Registry serving the loaded document.
//   - error: Non-nil if the initial load fails.
func Open(ctx context.Context, source string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("schema source is required")
	}

	r := &Registry{source: source}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(ctx); err != nil {
		return nil, err
	}

	if !r.remote() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("Schema watcher unavailable, hot reload disabled",
				"source", source,
				"error", err)
		} else {
			r.watcher = watcher
		}
	}

	slog.Info("Schema document loaded",
		"source", source,
		"version", r.Version(),
		"bytes", len(r.Document()))

	return r, nil
}

// Document returns the current schema reference document.
func (r *Registry) Document() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.document
}

// Version returns the short content hash of the current document.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Snapshot returns the current document and its version as a consistent
// pair.
func (r *Registry) Snapshot() (document, version string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.document, r.version
}

// Source returns the configured document source.
func (r *Registry) Source() string {
	return r.source
}

// Refresh reloads the document from its source.
//
// # Description
//
// On failure the previous document stays in place and the error is
// returned, so a transient source outage never blanks the schema.
func (r *Registry) Refresh(ctx context.Context) error {
	return r.load(ctx)
}

// Watch hot-reloads the document when the local source file changes.
//
// # Description
//
// Blocks until the context is cancelled; run it in a goroutine. Returns
// immediately for gs:// sources and when the watcher could not be created.
//
// The watch is placed on the parent directory rather than the file itself:
// most editors and config deploys replace the file (write to a temp name,
// then rename over), which would orphan a watch on the old inode. Events
// are filtered back down to the source's base name.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//
// # Example
//
//	registry, _ := schema.Open(ctx, cfg.SchemaSource)
//	go registry.Watch(ctx)
func (r *Registry) Watch(ctx context.Context) {
	if r.watcher == nil {
		slog.Debug("Schema watch skipped, no watcher for source",
			"source", r.source)
		return
	}

	dir := filepath.Dir(r.source)
	base := filepath.Base(r.source)
	if err := r.watcher.Add(dir); err != nil {
		slog.Warn("Failed to watch schema directory, hot reload disabled",
			"dir", dir,
			"error", err)
		return
	}

	slog.Debug("Started watching schema document",
		"dir", dir,
		"file", base)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(ctx, event, base)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Schema watcher error",
				"error", err)

		case <-ctx.Done():
			slog.Debug("Schema watcher stopping")
			return
		}
	}
}

// handleEvent processes a single fsnotify event.
func (r *Registry) handleEvent(ctx context.Context, event fsnotify.Event, base string) {
	if filepath.Base(event.Name) != base {
		return
	}
	// Write covers in-place edits, Create and Rename cover the
	// temp-file-then-rename pattern.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	prev := r.Version()
	if err := r.load(ctx); err != nil {
		slog.Warn("Schema reload failed, keeping previous document",
			"source", r.source,
			"version", prev,
			"error", err)
		return
	}

	next := r.Version()
	if next == prev {
		return
	}
	slog.Info("Schema document reloaded",
		"source", r.source,
		"old_version", prev,
		"new_version", next)
}

// Stop releases the watcher and any GCS client. Safe to call after Watch
// has returned.
func (r *Registry) Stop() error {
	var firstErr error
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			firstErr = err
		}
		r.watcher = nil
	}
	if r.gcsClient != nil {
		if err := r.gcsClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.gcsClient = nil
	}
	return firstErr
}

// remote reports whether the source lives in GCS.
func (r *Registry) remote() bool {
	return strings.HasPrefix(r.source, gcsPrefix)
}

// load fetches the document from its source and swaps it in.
func (r *Registry) load(ctx context.Context) error {
	var (
		content string
		err     error
	)
	if r.remote() {
		content, err = r.loadFromGCS(ctx)
	} else {
		content, err = r.loadFromFile()
	}
	if err != nil {
		return err
	}

	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("schema document %s is empty", r.source)
	}

	version := contentVersion(content)

	r.mu.Lock()
	r.document = content
	r.version = version
	r.mu.Unlock()

	return nil
}

// loadFromFile reads the document from the local filesystem.
func (r *Registry) loadFromFile() (string, error) {
	info, err := os.Stat(r.source)
	if err != nil {
		return "", fmt.Errorf("schema document not found at %s: %w", r.source, err)
	}
	if info.Size() > maxDocumentBytes {
		return "", fmt.Errorf("schema document %s is %d bytes, larger than the %d byte limit", r.source, info.Size(), maxDocumentBytes)
	}

	content, err := os.ReadFile(r.source)
	if err != nil {
		return "", fmt.Errorf("failed to read schema document %s: %w", r.source, err)
	}
	return string(content), nil
}

// loadFromGCS reads the document from a gs://bucket/object source.
func (r *Registry) loadFromGCS(ctx context.Context) (string, error) {
	bucket, object, err := splitGCSSource(r.source)
	if err != nil {
		return "", err
	}

	client, err := r.storageClient(ctx)
	if err != nil {
		return "", err
	}

	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	if len(content) > maxDocumentBytes {
		return "", fmt.Errorf("schema document gs://%s/%s exceeds the %d byte limit", bucket, object, maxDocumentBytes)
	}
	return string(content), nil
}

// storageClient returns the shared GCS client, creating it on first use.
func (r *Registry) storageClient(ctx context.Context) (*storage.Client, error) {
	if r.gcsClient != nil {
		return r.gcsClient, nil
	}

	var opts []option.ClientOption
	if r.credsPath != "" {
		if _, err := os.Stat(r.credsPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", r.credsPath)
		}
		opts = append(opts, option.WithCredentialsFile(r.credsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	r.gcsClient = client
	return client, nil
}

// splitGCSSource parses gs://bucket/object into its parts.
func splitGCSSource(source string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(source, gcsPrefix)
	bucket, object, found := strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS source %q, expected gs://bucket/object", source)
	}
	return bucket, object, nil
}

// contentVersion derives the schema version from the document content:
// the first 12 hex characters of its SHA-256. Two deployments serving the
// same document always report the same version, wherever it was loaded
// from.
func contentVersion(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:12]
}
