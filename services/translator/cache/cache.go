// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the translation cache backed by BadgerDB.
//
// A cache key is a pure function of the normalized question text, the
// provider, the model, and the schema version, so any input that changes
// the produced SQL changes the key. Entries expire through Badger's native
// TTL support and only validated results (status accepted or corrected)
// are ever stored. When the store is unavailable the cache degrades to
// pass-through: lookups report misses, writes are dropped with a warning,
// and translation proceeds without it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// keyPrefix versions the key space. Bump the version when the entry
// layout changes so stale payloads from a previous release are never
// decoded.
const keyPrefix = "nl2sql:translate:v1:"

// Entry is the stored representation of one validated translation.
type Entry struct {
	Key        string                        `json:"key"`
	Payload    datatypes.TranslationResponse `json:"payload"`
	CreatedAt  int64                         `json:"created_at"`
	TTLSeconds int64                         `json:"ttl"`
}

// Key derives the cache key for a translation request.
//
// # Description
//
//	Normalizes the question (trim, collapse whitespace runs, lowercase)
//	so formatting differences between otherwise identical questions do
//	not fragment the cache, then hashes it together with the provider,
//	model, and schema version. Any of those changing must miss: the same
//	question against a new schema or a different model can legitimately
//	produce different SQL.
//
// # Inputs
//
//	question - Natural-language question text.
//	provider - Provider name ("openai", "anthropic", ...).
//	model - Model identifier.
//	schemaVersion - Schema registry content version.
//
// # Outputs
//
//	string - Prefixed hex digest, stable across processes.
func Key(question, provider, model, schemaVersion string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))

	h := sha256.New()
	h.Write([]byte(normalized))
	for _, part := range []string{provider, model, schemaVersion} {
		// NUL separators keep ("a","bc") and ("ab","c") distinct.
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Cacheable reports whether a translation with the given status may be
// stored. Rejected results and relevance failures are never replayed.
func Cacheable(status string) bool {
	return status == datatypes.StatusAccepted || status == datatypes.StatusCorrected
}

// Cache is the translation cache.
//
// # Thread Safety
//
//	Safe for concurrent use. Counters are atomic and BadgerDB handles its
//	own transaction isolation.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
	flight singleflight.Group

	gcStop chan struct{}
	gcDone chan struct{}

	hits   int64
	misses int64
	stores int64
	errors int64
}

// Stats is a snapshot of cache activity for the health endpoint.
type Stats struct {
	Enabled bool  `json:"enabled"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Stores  int64 `json:"stores"`
	Errors  int64 `json:"errors"`
}

// Open creates a translation cache with the given configuration.
//
// # Outputs
//
//	*Cache - The cache. Caller must call Close() when done.
//	error - Non-nil if the underlying store cannot be opened.
func Open(cfg Config) (*Cache, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &Cache{
		db:     db,
		ttl:    ttl,
		logger: cfg.Logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.gcStop = make(chan struct{})
		c.gcDone = make(chan struct{})
		go runGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, c.gcStop, c.gcDone)
	}

	return c, nil
}

// Disabled returns a cache with no backing store. Lookups always miss,
// stores are dropped, and request coalescing still works. Used when the
// store fails to open so the service can run pass-through instead of
// refusing to start.
func Disabled(logger *slog.Logger) *Cache {
	return &Cache{
		ttl:    time.Hour,
		logger: logger,
	}
}

// Enabled reports whether the cache has a backing store.
func (c *Cache) Enabled() bool {
	return c.db != nil
}

// Lookup fetches a stored translation.
//
// # Description
//
//	Returns the entry and true on a hit. Misses, expired entries, a
//	disabled cache, and store failures all report a miss: the caller
//	translates as if no cache existed. Store failures additionally log
//	a warning and count toward Stats().Errors.
//
// # Inputs
//
//	ctx - Cancellation. A cancelled context reports a miss immediately.
//	key - Cache key from Key().
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, bool) {
	if c.db == nil || ctx.Err() != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		// Expiry surfaces as ErrKeyNotFound, so this branch covers
		// both a plain miss and a TTL lapse.
		if err != badger.ErrKeyNotFound {
			atomic.AddInt64(&c.errors, 1)
			if c.logger != nil {
				c.logger.Warn("translation cache read failed, treating as miss",
					slog.String("error", err.Error()))
			}
		}
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return &entry, true
}

// Store persists a validated translation under the given key.
//
// # Description
//
//	Only accepted and corrected results are worth replaying; any other
//	status is a silent no-op. The entry's bookkeeping fields (Key,
//	CreatedAt, TTLSeconds) are filled here so callers only provide the
//	payload. The write carries the configured TTL and expires on its
//	own.
//
// # Outputs
//
//	error - Non-nil if the write failed. Callers treat this as a
//	degradation, not a request failure.
func (c *Cache) Store(ctx context.Context, key string, payload datatypes.TranslationResponse) error {
	if !Cacheable(payload.Status) {
		return nil
	}
	if c.db == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	entry := Entry{
		Key:        key,
		Payload:    payload,
		CreatedAt:  time.Now().UnixMilli(),
		TTLSeconds: int64(c.ttl.Seconds()),
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(c.ttl))
	})
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		if c.logger != nil {
			c.logger.Warn("translation cache write failed",
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("store cache entry: %w", err)
	}

	atomic.AddInt64(&c.stores, 1)
	return nil
}

// Fill runs translate under singleflight so concurrent misses for the
// same key produce a single upstream translation, then stores the result
// when its status allows.
//
// # Description
//
//	The first caller for a key executes translate; callers arriving
//	while it runs receive the same result. The store happens once, after
//	the full result exists, and a store failure is logged without
//	failing the translation.
//
// # Inputs
//
//	ctx - Owned by the caller that executes translate. Followers share
//	its outcome, including cancellation.
//	key - Cache key from Key().
//	translate - Produces the translation on a miss.
//
// # Outputs
//
//	datatypes.TranslationResponse - The translation result.
//	bool - True when the result was shared with another in-flight caller.
//	error - The translate error, unchanged.
func (c *Cache) Fill(ctx context.Context, key string, translate func(ctx context.Context) (datatypes.TranslationResponse, error)) (datatypes.TranslationResponse, bool, error) {
	result, err, shared := c.flight.Do(key, func() (interface{}, error) {
		payload, err := translate(ctx)
		if err != nil {
			return nil, err
		}
		// Store failures degrade to pass-through.
		_ = c.Store(ctx, key, payload)
		return payload, nil
	})
	if err != nil {
		return datatypes.TranslationResponse{}, shared, err
	}
	return result.(datatypes.TranslationResponse), shared, nil
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	return Stats{
		Enabled: c.db != nil,
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Stores:  atomic.LoadInt64(&c.stores),
		Errors:  atomic.LoadInt64(&c.errors),
	}
}

// EntryCount reports the number of live cached translations.
//
// Key-only iteration reads from the LSM tree without touching the value
// log, so the metrics gauge can call this on every scrape.
func (c *Cache) EntryCount() int64 {
	if c.db == nil {
		return 0
	}

	var count int64
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close stops garbage collection and closes the store. Safe on a
// disabled cache.
func (c *Cache) Close() error {
	if c.gcStop != nil {
		close(c.gcStop)
		<-c.gcDone
	}
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
