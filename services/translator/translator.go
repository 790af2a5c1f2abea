// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package translator assembles the NL-to-SQL translation service.
//
// This package contains the service type that wires every component
// together: the translation pipeline, the provider chain, the Weaviate
// example index, the Badger response cache, the schema registry, HTTP
// routing, and the observability stack. Each collaborator package stays
// independently testable; this is the only place that knows how they
// connect.
//
// # Degraded Modes
//
// The service starts without several collaborators and degrades instead
// of failing:
//
//   - No Weaviate URL: retrieval is disabled, every request generates.
//   - Cache cannot open: lookups miss, translations are never stored.
//   - No service API key: the API runs open (intended for development).
//
// The schema registry and at least one LLM provider are required; there
// is no translation without them.
//
// # Usage
//
//	cfg := translator.Config{Port: 8080, SchemaSource: "./config/schema_reference.md"}
//	svc, err := translator.New(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package translator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"

	"github.com/datasulting/nl2sql/pkg/secrets"
	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/cache"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/handlers"
	"github.com/datasulting/nl2sql/services/translator/middleware"
	"github.com/datasulting/nl2sql/services/translator/pipeline"
	"github.com/datasulting/nl2sql/services/translator/retrieval"
	"github.com/datasulting/nl2sql/services/translator/routes"
	"github.com/datasulting/nl2sql/services/translator/schema"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the translator service.
//
// # Description
//
// Service abstracts the translator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds translator service configuration options.
//
// # Description
//
// Config centralizes all configuration for the translator service.
// Values are populated from environment variables in cmd/translator, or
// programmatically for testing. Boolean feature switches are phrased as
// Disable* so the zero value of Config enables them.
//
// # Required Fields
//
// SchemaSource must point to a readable schema reference document; every
// other field has a default.
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses the GIN_MODE env var or "debug"
	GinMode string

	// Providers is the LLM failover order. Known names: "openai",
	// "anthropic" (alias "claude"), "google" (alias "gemini"), "ollama".
	// Providers whose credentials are missing are skipped with a warning.
	// Default: openai, anthropic, google
	Providers []string

	// WeaviateURL is the vector index URL, e.g. "http://localhost:8080".
	// If empty, retrieval and example write-back are disabled.
	WeaviateURL string

	// SchemaSource is the schema reference document location: a local
	// path or gs://bucket/object. Required.
	SchemaSource string

	// CacheDir is the directory for the Badger translation cache.
	// Default: ./data/cache
	CacheDir string

	// CacheTTL is how long a cached translation stays valid.
	// Default: 1 hour
	CacheTTL time.Duration

	// CacheDisabled turns the translation cache off entirely.
	CacheDisabled bool

	// DisableSemanticValidation skips the advisory LLM validation of
	// generated SQL against the question.
	DisableSemanticValidation bool

	// MaxExamples is how many retrieved examples a generation prompt
	// carries by default. Default: 3
	MaxExamples int

	// APIKeyVar names the environment variable (or /run/secrets file)
	// carrying the inbound service key. When the variable is unset the
	// API runs open. Default: NL2SQL_API_KEY
	APIKeyVar string

	// RequestsPerMinute is the per-caller rate limit. Default: 60
	RequestsPerMinute int

	// RateBurst is the rate limiter burst size. Default: 10
	RateBurst int

	// Usage configures the optional InfluxDB usage sink. Disabled unless
	// URL and Token are both set.
	Usage telemetry.UsageConfig

	// Telemetry configures tracing and metrics. Zero value uses
	// telemetry.DefaultConfig().
	Telemetry telemetry.Config
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config   Config
	router   *gin.Engine
	pipeline *pipeline.Pipeline
	chain    *llm.ProviderChain
	weaviate *weaviate.Client
	index    *retrieval.ExampleIndex
	registry *schema.Registry
	cache    *cache.Cache
	metrics  *telemetry.Metrics
	usage    *telemetry.UsageRecorder
	apiKey   *secrets.APIKey

	telemetryShutdown func(context.Context) error
	watchCancel       context.CancelFunc
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new translator Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes tracing and metrics
//  3. Opens the translation cache (degrades to disabled on failure)
//  4. Loads the schema reference document and starts the hot-reload watch
//  5. Connects to Weaviate and builds the example index (optional)
//  6. Builds the LLM provider chain from configured backends
//  7. Loads the compliance policy and assembles the pipeline
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - ctx: Context for initialization I/O (schema load, GCS reads).
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run translator service
//   - error: Non-nil if a required component fails to initialize
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	shutdown, err := telemetry.Init(ctx, s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	// Never fatal: a missing cache only costs latency.
	s.initCache()

	if err := s.initMetrics(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := s.initSchema(ctx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load schema document: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, retrieval disabled",
			"error", err)
		// Not fatal - every request generates without examples
	}

	if err := s.initChain(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize provider chain: %w", err)
	}

	s.usage = telemetry.NewUsageRecorder(s.config.Usage)
	if s.usage != nil {
		slog.Info("Usage accounting enabled", "bucket", s.config.Usage.Bucket)
	}

	if err := s.initAPIKey(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load service API key: %w", err)
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting translator server",
		"port", s.config.Port,
		"providers", s.chain.Names(),
		"retrieval", s.index != nil,
		"cache", s.cache.Enabled(),
		"auth", s.apiKey != nil,
	)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing. Callers must not
// modify routes after construction.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = []string{"openai", "anthropic", "google"}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./data/cache"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxExamples == 0 {
		cfg.MaxExamples = 3
	}
	if cfg.APIKeyVar == "" {
		cfg.APIKeyVar = "NL2SQL_API_KEY"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 10
	}
	if cfg.Telemetry == (telemetry.Config{}) {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	return cfg
}

// initCache opens the Badger translation cache. Any failure degrades to
// the disabled cache so the service still answers requests.
func (s *service) initCache() {
	if s.config.CacheDisabled {
		slog.Info("Translation cache disabled by configuration")
		s.cache = cache.Disabled(slog.Default())
		return
	}

	c, err := cache.Open(cache.Config{
		Path:   s.config.CacheDir,
		TTL:    s.config.CacheTTL,
		Logger: slog.Default(),
	})
	if err != nil {
		slog.Warn("Translation cache unavailable, continuing without it",
			"dir", s.config.CacheDir,
			"error", err)
		s.cache = cache.Disabled(slog.Default())
		return
	}

	s.cache = c
	slog.Info("Translation cache opened",
		"dir", s.config.CacheDir,
		"ttl", s.config.CacheTTL.String())
}

// initMetrics builds the instrument set and registers the cache entry
// gauge against the live cache.
func (s *service) initMetrics() error {
	meter := otel.Meter("nl2sql.translator")

	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}
	s.metrics = metrics

	if _, err := metrics.RegisterCacheEntries(meter, s.cache.EntryCount); err != nil {
		slog.Warn("Cache entry gauge registration failed", "error", err)
	}
	return nil
}

// initSchema loads the schema reference document and starts the
// hot-reload watch for local sources.
func (s *service) initSchema(ctx context.Context) error {
	if s.config.SchemaSource == "" {
		return fmt.Errorf("SchemaSource is required")
	}

	registry, err := schema.Open(ctx, s.config.SchemaSource)
	if err != nil {
		return err
	}
	s.registry = registry

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go registry.Watch(watchCtx)

	slog.Info("Schema document loaded",
		"source", registry.Source(),
		"version", registry.Version())
	return nil
}

// initWeaviate connects the vector index client and builds the example
// index over it.
//
// # Limitations
//
//   - Returns nil without an index when WeaviateURL is empty (optional
//     dependency)
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" {
		slog.Info("Weaviate URL not configured, retrieval disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	s.weaviate = client

	if err := datatypes.EnsureWeaviateSchema(client); err != nil {
		slog.Warn("Weaviate class check failed, index may be missing",
			"error", err)
		// Not fatal - classes may appear once Weaviate is reachable
	}

	embedder, err := retrieval.NewOpenAIEmbedder()
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	s.index = retrieval.NewExampleIndex(client, embedder, retrieval.DefaultConfig())
	slog.Info("Example index initialized", "url", weaviateURL)
	return nil
}

// initChain builds the LLM failover chain from the configured provider
// order. Providers whose construction fails (usually a missing key) are
// skipped; at least one must survive.
func (s *service) initChain() error {
	var clients []llm.LLMClient

	for _, name := range s.config.Providers {
		client, err := newProviderClient(name)
		if err != nil {
			slog.Warn("Skipping LLM provider",
				"provider", name,
				"error", err)
			continue
		}
		clients = append(clients, client)
	}

	chain, err := llm.NewProviderChain(clients...)
	if err != nil {
		return fmt.Errorf("no usable LLM provider among %v: %w", s.config.Providers, err)
	}

	s.chain = chain
	slog.Info("Provider chain ready", "order", chain.Names())
	return nil
}

// newProviderClient maps a configured backend name to its client.
func newProviderClient(name string) (llm.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return llm.NewOpenAIClient()
	case "anthropic", "claude":
		return llm.NewAnthropicClient()
	case "google", "gemini":
		return llm.NewGoogleClient()
	case "ollama":
		return llm.NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

// initAPIKey loads the inbound service key. An unset variable means the
// API runs open; a set but unusable one is a configuration error.
func (s *service) initAPIKey() error {
	key, err := secrets.Load("service gate", s.config.APIKeyVar)
	if err != nil {
		if os.Getenv(s.config.APIKeyVar) != "" {
			return err
		}
		slog.Warn("No service API key configured, API is open",
			"env", s.config.APIKeyVar)
		return nil
	}

	s.apiKey = key
	slog.Info("Service API key loaded", "env", s.config.APIKeyVar)
	return nil
}

// initPipeline loads the compliance policy and assembles the translation
// pipeline over the initialized collaborators.
func (s *service) initPipeline() error {
	policy, err := compliance.LoadPolicy()
	if err != nil {
		return fmt.Errorf("failed to load compliance policy: %w", err)
	}

	var examples pipeline.ExampleStore = noopExampleStore{}
	if s.index != nil {
		examples = s.index
	}

	p, err := pipeline.New(pipeline.Deps{
		Chain:    s.chain,
		Examples: examples,
		Cache:    s.cache,
		Schema:   s.registry,
		Policy:   policy,
		Metrics:  s.metrics,
		Usage:    s.usage,
		Logger:   slog.Default(),
	}, pipeline.Config{
		MaxExamples:        s.config.MaxExamples,
		SemanticValidation: !s.config.DisableSemanticValidation,
	})
	if err != nil {
		return err
	}

	s.pipeline = p
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())

	routes.Register(s.router, routes.Deps{
		Pipeline: s.pipeline,
		Index:    s.index,
		Registry: s.registry,
		Health: handlers.HealthTargets{
			Weaviate: s.weaviate,
			Chain:    s.chain,
			Cache:    s.cache,
			Schema:   s.registry,
		},
		Metrics: s.metrics,
		APIKey:  s.apiKey,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMinute: s.config.RequestsPerMinute,
			Burst:             s.config.RateBurst,
		},
		Logger: slog.Default(),
	})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the schema
// watcher, closes the cache and usage sink, and flushes telemetry.
func (s *service) cleanup() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.registry != nil {
		if err := s.registry.Stop(); err != nil {
			slog.Warn("Schema registry stop error", "error", err)
		}
	}
	if s.usage != nil {
		s.usage.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("Cache close error", "error", err)
		}
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			slog.Warn("Telemetry shutdown error", "error", err)
		}
	}
}

// noopExampleStore serves a deployment without a vector index: searches
// find nothing and write-back is dropped.
type noopExampleStore struct{}

func (noopExampleStore) Search(context.Context, string, string, int) ([]datatypes.CandidateMatch, error) {
	return nil, nil
}

func (noopExampleStore) ExactMatch([]datatypes.CandidateMatch) (*datatypes.CandidateMatch, bool) {
	return nil, false
}

func (noopExampleStore) SearchSchema(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (noopExampleStore) StoreExample(context.Context, string, string, string, string) error {
	return nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
