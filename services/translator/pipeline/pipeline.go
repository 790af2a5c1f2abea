// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates the translation of natural-language
// questions into framework-compliant SQL.
//
// A request flows through a fixed sequence of stages: input screening, a
// concurrent cache lookup and relevance pre-check, similarity retrieval,
// either an exact-match shortcut or LLM generation, the compliance gate,
// and a single cache write. Every stage that talks to the outside world
// runs under its own deadline, and only two kinds of failure ever surface
// to the caller: an uncorrectable framework violation and provider
// exhaustion. Everything else degrades in place, because a broken cache or
// a slow vector index must cost latency, not answers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/datasulting/nl2sql/pkg/validation"
	"github.com/datasulting/nl2sql/services/llm"
	"github.com/datasulting/nl2sql/services/translator/cache"
	"github.com/datasulting/nl2sql/services/translator/compliance"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
	"github.com/datasulting/nl2sql/services/translator/telemetry"
)

var tracer = otel.Tracer("nl2sql.pipeline")

// Stage names announced to progress observers, in pipeline order. A run
// visits a subset: cache hits stop after the cache check, exact matches
// skip generation.
const (
	StageCacheCheck = "cache_check"
	StageRetrieval  = "retrieval"
	StageExactMatch = "exact_match"
	StageGeneration = "generation"
	StageValidation = "validation"
	StageDone       = "done"
)

// Sampling temperatures per call kind. Yes-or-no checks and SQL want
// near-deterministic output; the explanation can be a little loose.
const (
	relevanceTemperature   = 0.1
	generationTemperature  = 0.2
	semanticTemperature    = 0.1
	explanationTemperature = 0.3
)

// writeBackTimeout bounds the detached example write-back after a
// response has already been sent.
const writeBackTimeout = 10 * time.Second

// forbiddenOps matches mutation verbs in the question before any model
// sees it. Word boundaries matter: "update" flags the question, a word
// like "updated" does not.
var forbiddenOps = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|truncate|alter|create)\b`)

// ExampleStore is the retrieval surface the pipeline drives: similarity
// search for candidate pairs and schema context, plus write-back of
// validated translations.
type ExampleStore interface {
	Search(ctx context.Context, question, schemaVersion string, limit int) ([]datatypes.CandidateMatch, error)
	ExactMatch(matches []datatypes.CandidateMatch) (*datatypes.CandidateMatch, bool)
	SearchSchema(ctx context.Context, question, schemaVersion string, limit int) ([]string, error)
	StoreExample(ctx context.Context, question, sql, schemaVersion, status string) error
}

// TranslationCache is the response cache surface.
type TranslationCache interface {
	Enabled() bool
	Lookup(ctx context.Context, key string) (*cache.Entry, bool)
	Fill(ctx context.Context, key string, translate func(ctx context.Context) (datatypes.TranslationResponse, error)) (datatypes.TranslationResponse, bool, error)
}

// SchemaSource yields the current schema document and its version label.
type SchemaSource interface {
	Snapshot() (document, version string)
}

// completer is what a request generates with: the whole failover chain or
// one pinned backend, either way reporting which provider served a
// completion.
type completer interface {
	llm.LLMClient
	ChatVia(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, string, error)
}

// pinnedCompleter adapts a single backend to the completer surface.
type pinnedCompleter struct {
	llm.LLMClient
}

func (pc pinnedCompleter) ChatVia(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, string, error) {
	answer, err := pc.Chat(ctx, messages, params)
	return answer, pc.Name(), err
}

// Config tunes the pipeline stages.
//
// # Fields
//
//   - MaxExamples: How many retrieved examples the generator is shown when
//     the request does not say otherwise.
//   - SemanticValidation: Cross-check the generated SQL against the
//     question with the LLM. The verdict is advisory: it shapes the
//     validation message, never the status.
//   - CacheTimeout/RelevanceTimeout/RetrievalTimeout: Deadlines on stages
//     that degrade when exceeded.
//   - GenerationTimeout: Deadline on the stage that fails the request when
//     exceeded.
type Config struct {
	MaxExamples        int
	SemanticValidation bool

	CacheTimeout      time.Duration
	RelevanceTimeout  time.Duration
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
}

// DefaultConfig returns the production stage tuning.
func DefaultConfig() Config {
	return Config{
		MaxExamples:        3,
		SemanticValidation: true,
		CacheTimeout:       2 * time.Second,
		RelevanceTimeout:   15 * time.Second,
		RetrievalTimeout:   10 * time.Second,
		GenerationTimeout:  60 * time.Second,
	}
}

// fillConfig substitutes defaults for zero counts and timeouts.
// SemanticValidation is taken as given.
func fillConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxExamples <= 0 || cfg.MaxExamples > datatypes.MaxExamplesPerRequest {
		cfg.MaxExamples = def.MaxExamples
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = def.CacheTimeout
	}
	if cfg.RelevanceTimeout <= 0 {
		cfg.RelevanceTimeout = def.RelevanceTimeout
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = def.RetrievalTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = def.GenerationTimeout
	}
	return cfg
}

// Deps are the collaborators a Pipeline needs. Usage may be nil; Logger
// defaults to slog.Default; everything else is required.
type Deps struct {
	Chain    *llm.ProviderChain
	Examples ExampleStore
	Cache    TranslationCache
	Schema   SchemaSource
	Policy   *compliance.Policy
	Metrics  *telemetry.Metrics
	Usage    *telemetry.UsageRecorder
	Logger   *slog.Logger
}

// Pipeline is the translation orchestrator. One instance serves all
// requests concurrently; it holds only immutable collaborators.
type Pipeline struct {
	chain     *llm.ProviderChain
	examples  ExampleStore
	cache     TranslationCache
	schema    SchemaSource
	analyzer  *compliance.Analyzer
	corrector *compliance.Corrector
	metrics   *telemetry.Metrics
	usage     *telemetry.UsageRecorder
	logger    *slog.Logger
	config    Config
}

// New builds a Pipeline from its collaborators.
func New(deps Deps, config Config) (*Pipeline, error) {
	switch {
	case deps.Chain == nil:
		return nil, fmt.Errorf("pipeline requires a provider chain")
	case deps.Examples == nil:
		return nil, fmt.Errorf("pipeline requires an example store")
	case deps.Cache == nil:
		return nil, fmt.Errorf("pipeline requires a translation cache")
	case deps.Schema == nil:
		return nil, fmt.Errorf("pipeline requires a schema source")
	case deps.Policy == nil:
		return nil, fmt.Errorf("pipeline requires a framework policy")
	case deps.Metrics == nil:
		return nil, fmt.Errorf("pipeline requires metrics")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	analyzer := compliance.NewAnalyzer(deps.Policy)
	return &Pipeline{
		chain:     deps.Chain,
		examples:  deps.Examples,
		cache:     deps.Cache,
		schema:    deps.Schema,
		analyzer:  analyzer,
		corrector: compliance.NewCorrector(deps.Policy, analyzer),
		metrics:   deps.Metrics,
		usage:     deps.Usage,
		logger:    deps.Logger,
		config:    fillConfig(config),
	}, nil
}

// Translate runs one request through the full pipeline.
//
// # Description
//
// The question is sanitized and screened for mutation verbs, then the
// cache lookup and the relevance pre-check race each other: whichever
// finishes first with a definitive outcome (a hit, a rejection) ends the
// race, and a pre-check failure admits the question rather than blocking
// it. On a miss the pipeline retrieves similar stored pairs, reuses an
// exact match when its temporal references agree with the request, and
// otherwise generates SQL with the provider chain. Generated and matched
// statements alike pass the compliance gate, which corrects repairable
// violations once and rejects the rest. The finished response is written
// to the cache in a single operation, and the validated pair is written
// back to the example index off the request path.
//
// # Inputs
//
//   - ctx: Cancellation and deadline for the whole request. Cancelling it
//     stops in-flight stage work; the cache is never left with a partial
//     entry.
//   - req: The translation request. Mutated only by EnsureDefaults.
//
// # Outputs
//
//   - *datatypes.TranslationResponse: The SQL, its validation result, and
//     serving metadata. Never partially filled.
//   - error: An UncorrectableError, an ExhaustionError, a rejection error
//     from this package, or a context error. Use UserMessage to extract
//     end-user wording.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent misses for the same key share one
// translation.
func (p *Pipeline) Translate(ctx context.Context, req *datatypes.TranslationRequest) (*datatypes.TranslationResponse, error) {
	return p.TranslateWithProgress(ctx, req, nil)
}

// TranslateWithProgress is Translate with a stage callback for streaming
// transports. notify observes stage transitions from this request's own
// goroutine; it may be nil. Stages are skipped when the response is served
// from the cache or shared with a concurrent identical request.
func (p *Pipeline) TranslateWithProgress(ctx context.Context, req *datatypes.TranslationRequest, notify func(stage string)) (*datatypes.TranslationResponse, error) {
	start := time.Now()
	req.EnsureDefaults()

	ctx, span := tracer.Start(ctx, "Pipeline.Translate",
		trace.WithAttributes(
			attribute.String("translate.request_id", req.RequestID),
			attribute.String("translate.provider", req.Provider),
		),
	)
	defer span.End()

	question, err := validation.SanitizeQuestion(req.Question)
	if err != nil {
		p.metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "invalid_input"),
			attribute.String("component", "pipeline")))
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}
	if err := p.screenQuestion(ctx, question); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forbidden operation")
		return nil, err
	}

	client, err := p.resolveClient(req.Provider)
	if err != nil {
		return nil, err
	}

	schemaVersion := req.SchemaVersion
	if schemaVersion == "" {
		_, schemaVersion = p.schema.Snapshot()
	}
	key := cache.Key(question, req.Provider, req.Model, schemaVersion)

	stage(notify, StageCacheCheck)
	hit, err := p.preflight(ctx, client, question, key, req.BypassCache)
	if err != nil {
		p.recordFailure(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pre-flight rejected")
		return nil, err
	}

	lookupRan := !req.BypassCache && p.cache.Enabled()
	if hit != nil {
		p.countLookup(ctx, "hit")
		resp := hit.Payload
		if req.IncludeExplanation && resp.Explanation == "" {
			p.explain(ctx, client, resp.SQL, question, &resp)
		}
		p.restamp(&resp, req, start, true)
		p.recordOutcome(ctx, req, &resp, question, schemaVersion, start)
		stage(notify, StageDone)
		span.SetAttributes(
			attribute.String("translate.source", resp.Source),
			attribute.String("translate.status", resp.Status))
		return &resp, nil
	}
	switch {
	case lookupRan:
		p.countLookup(ctx, "miss")
	case req.BypassCache && p.cache.Enabled():
		p.countLookup(ctx, "bypass")
	}

	payload, shared, err := p.cache.Fill(ctx, key, func(fctx context.Context) (datatypes.TranslationResponse, error) {
		resp, perr := p.produce(fctx, client, req, question, schemaVersion, notify)
		if perr != nil {
			return datatypes.TranslationResponse{}, perr
		}
		return *resp, nil
	})
	if err != nil {
		p.recordFailure(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "translation failed")
		return nil, err
	}
	if shared {
		p.logger.Debug("Joined concurrent translation of the same question",
			"request_id", req.RequestID)
	}

	if req.IncludeExplanation && payload.Explanation == "" {
		p.explain(ctx, client, payload.SQL, question, &payload)
	}
	p.restamp(&payload, req, start, false)
	p.recordOutcome(ctx, req, &payload, question, schemaVersion, start)
	stage(notify, StageDone)
	span.SetAttributes(
		attribute.String("translate.source", payload.Source),
		attribute.String("translate.status", payload.Status))
	return &payload, nil
}

// Validate runs the compliance gate over a statement without retrieval,
// generation, or caching. This is the diagnostic entry point for callers
// holding SQL of unknown provenance.
func (p *Pipeline) Validate(ctx context.Context, req *datatypes.ValidateRequest) *datatypes.ValidateResponse {
	_, span := tracer.Start(ctx, "Pipeline.Validate",
		trace.WithAttributes(attribute.Bool("validate.attempt_correction", req.AttemptCorrection)),
	)
	defer span.End()

	report := p.analyzer.Analyze(req.SQL)
	resp := &datatypes.ValidateResponse{
		Compliant:   report.IsCompliant(),
		Report:      report,
		Correctable: report.IsReadOnly && report.HasAnchorTable,
	}
	span.SetAttributes(attribute.Bool("sql.compliant", resp.Compliant))
	if resp.Compliant {
		return resp
	}

	if !resp.Correctable {
		// Run the corrector anyway to name the terminal violation the way
		// the translation path would.
		if _, err := p.corrector.Correct(req.SQL, report); err != nil {
			resp.Reason = err.Error()
		}
		return resp
	}

	if req.AttemptCorrection {
		corrected, err := p.corrector.Correct(req.SQL, report)
		if err != nil {
			resp.Correctable = false
			resp.Reason = err.Error()
			return resp
		}
		resp.CorrectedSQL = corrected
	}
	return resp
}

// Suggestions returns stored questions similar to the given one, for
// autocomplete-style clients. Read-only; the example index's failure is
// the endpoint's failure.
func (p *Pipeline) Suggestions(ctx context.Context, req *datatypes.SuggestionsRequest) (*datatypes.SuggestionsResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Suggestions")
	defer span.End()

	question, err := validation.SanitizeQuestion(req.Question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}

	schemaVersion := req.SchemaVersion
	if schemaVersion == "" {
		_, schemaVersion = p.schema.Snapshot()
	}

	rctx, cancel := context.WithTimeout(ctx, p.config.RetrievalTimeout)
	defer cancel()

	matches, err := p.examples.Search(rctx, question, schemaVersion, req.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	span.SetAttributes(attribute.Int("suggestions.count", len(matches)))
	return &datatypes.SuggestionsResponse{Suggestions: matches}, nil
}

// screenQuestion rejects questions that name a mutation verb before any
// model time is spent on them.
func (p *Pipeline) screenQuestion(ctx context.Context, question string) error {
	m := forbiddenOps.FindString(question)
	if m == "" {
		return nil
	}
	p.metrics.RejectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", "forbidden_operation")))
	return &WriteRequestError{Operation: strings.ToLower(m)}
}

// resolveClient picks the per-request LLM: the whole failover chain, or a
// single pinned backend when the request names one.
func (p *Pipeline) resolveClient(provider string) (completer, error) {
	if provider == "" {
		return p.chain, nil
	}
	pinned, ok := p.chain.Pinned(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return pinnedCompleter{pinned}, nil
}

// errCacheHit ends the pre-flight race when the lookup wins.
var errCacheHit = errors.New("cache hit")

// preflight runs the cache lookup and the relevance pre-check
// concurrently. A hit or a rejection is definitive and cancels the other
// side; a miss and a passing (or failed) check both have to land before
// the pipeline proceeds.
func (p *Pipeline) preflight(ctx context.Context, client completer, question, key string, bypass bool) (*cache.Entry, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var hit *cache.Entry
	if !bypass && p.cache.Enabled() {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, p.config.CacheTimeout)
			defer cancel()
			entry, ok := p.cache.Lookup(lctx, key)
			if !ok {
				return nil
			}
			hit = entry
			return errCacheHit
		})
	}

	g.Go(func() error {
		rctx, cancel := context.WithTimeout(gctx, p.config.RelevanceTimeout)
		defer cancel()
		relevant, err := p.checkRelevance(rctx, client, question)
		if err != nil {
			// Fail open: a broken pre-check must not take the whole
			// service down with it.
			if gctx.Err() == nil {
				p.logger.Warn("Relevance check failed, admitting question",
					"error", err)
			}
			return nil
		}
		if !relevant {
			return &RelevanceRejectionError{Question: question}
		}
		return nil
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errCacheHit):
		p.recordStage(ctx, StageCacheCheck, start, "ok")
		return hit, nil
	case err != nil:
		p.recordStage(ctx, StageCacheCheck, start, "rejected")
		return nil, err
	}
	p.recordStage(ctx, StageCacheCheck, start, "ok")
	return nil, ctx.Err()
}

// checkRelevance asks the model whether the question concerns this
// database at all.
func (p *Pipeline) checkRelevance(ctx context.Context, client completer, question string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.CheckRelevance")
	defer span.End()

	messages := []datatypes.Message{
		{Role: "system", Content: relevanceSystemPrompt},
		{Role: "user", Content: buildRelevancePrompt(question)},
	}
	answer, err := client.Chat(ctx, messages, tempParams(relevanceTemperature))
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	relevant := parseRelevance(answer)
	span.SetAttributes(attribute.Bool("relevance.relevant", relevant))
	return relevant, nil
}

// produce runs retrieval, the exact-match shortcut, generation, and the
// compliance gate. It is the unit of work the cache deduplicates and
// stores.
func (p *Pipeline) produce(ctx context.Context, client completer, req *datatypes.TranslationRequest, question, schemaVersion string, notify func(string)) (*datatypes.TranslationResponse, error) {
	stage(notify, StageRetrieval)
	examples := p.retrieve(ctx, question, schemaVersion)

	if match, ok := p.examples.ExactMatch(examples); ok {
		stage(notify, StageExactMatch)
		verdict := compliance.CheckConsistency(match.Question+"\n"+match.SQL, question)
		if verdict.Consistent {
			return p.admitExactMatch(ctx, client, req, question, schemaVersion, match, verdict, notify)
		}
		p.logger.Info("Exact match discarded, regenerating",
			"reason", verdict.Reason,
			"certainty", match.Certainty)
	}

	return p.generate(ctx, client, req, question, schemaVersion, examples, notify)
}

// retrieve searches for similar stored pairs, degrading to none on any
// failure. A retrieval outage turns the exact-match shortcut off and the
// generator works without in-context examples; it never fails the
// request.
func (p *Pipeline) retrieve(ctx context.Context, question, schemaVersion string) []datatypes.CandidateMatch {
	rctx, cancel := context.WithTimeout(ctx, p.config.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	matches, err := p.examples.Search(rctx, question, schemaVersion, 0)
	if err != nil {
		p.recordStage(ctx, StageRetrieval, start, "error")
		if ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
			p.metrics.RetrievalTimeoutsTotal.Add(ctx, 1)
		}
		p.logger.Warn("Retrieval degraded, continuing without examples",
			"error", err)
		p.metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "retrieval"),
			attribute.String("component", "pipeline")))
		return nil
	}
	p.recordStage(ctx, StageRetrieval, start, "ok")
	p.metrics.ExamplesRetrievedTotal.Add(ctx, int64(len(matches)))
	return matches
}

// admitExactMatch validates a consistent high-certainty candidate and
// reuses its SQL. An uncorrectable candidate is terminal rather than a
// fallback to generation: a pair that was admitted once but violates the
// framework now is a knowledge-base problem to surface, not to paper
// over.
func (p *Pipeline) admitExactMatch(ctx context.Context, client completer, req *datatypes.TranslationRequest, question, schemaVersion string, match *datatypes.CandidateMatch, verdict compliance.ConsistencyVerdict, notify func(string)) (*datatypes.TranslationResponse, error) {
	out, err := p.runGate(ctx, match.SQL, notify)
	if err != nil {
		return nil, err
	}

	reason := msgExactMatch
	if out.Status == datatypes.StatusCorrected {
		reason += msgCorrectedSuffix
	}

	resp := datatypes.NewTranslationResponse(req.RequestID, out.SQL)
	resp.Status = out.Status
	resp.Source = datatypes.SourceExactMatch
	resp.Model = req.Model
	resp.Validation = &datatypes.ValidationResult{
		Status:      out.Status,
		SQL:         out.SQL,
		Report:      out.Report,
		Consistency: &verdict,
		Reason:      reason,
	}

	if req.IncludeExplanation {
		p.explain(ctx, client, out.SQL, question, resp)
	}
	p.writeBack(ctx, question, out.SQL, schemaVersion, out.Status)
	return resp, nil
}

// generate produces SQL with the LLM and runs it through the compliance
// gate.
func (p *Pipeline) generate(ctx context.Context, client completer, req *datatypes.TranslationRequest, question, schemaVersion string, examples []datatypes.CandidateMatch, notify func(string)) (*datatypes.TranslationResponse, error) {
	stage(notify, StageGeneration)

	shown := examples
	if limit := p.exampleLimit(req); len(shown) > limit {
		shown = shown[:limit]
	}
	schemaContext := p.schemaContext(ctx, question, schemaVersion)

	gctx, cancel := context.WithTimeout(ctx, p.config.GenerationTimeout)
	defer cancel()

	messages := []datatypes.Message{
		{Role: "system", Content: generationSystemPrompt},
		{Role: "user", Content: buildGenerationPrompt(question, schemaContext, shown)},
	}

	start := time.Now()
	raw, served, err := client.ChatVia(gctx, messages, tempParams(generationTemperature))
	if err != nil {
		p.recordStage(ctx, StageGeneration, start, "error")
		p.countGeneration(ctx, client.Name(), "error")
		return nil, err
	}
	p.recordStage(ctx, StageGeneration, start, "ok")

	sqlText := stripMarkdownSQL(raw)
	switch {
	case isSentinel(sqlText, sentinelImpossible):
		p.countGeneration(ctx, served, "impossible")
		p.metrics.RejectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "impossible")))
		return nil, &ImpossibleRequestError{Question: question}
	case isSentinel(sqlText, sentinelReadOnly):
		p.countGeneration(ctx, served, "readonly_violation")
		p.metrics.RejectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "write_generation")))
		return nil, &WriteRequestError{}
	}
	p.countGeneration(ctx, served, "ok")

	out, err := p.runGate(ctx, sqlText, notify)
	if err != nil {
		return nil, err
	}

	reason := msgFrameworkOK
	if p.config.SemanticValidation {
		reason = p.semanticCheck(ctx, client, out.SQL, question, schemaContext)
	}
	if out.Status == datatypes.StatusCorrected {
		reason += msgCorrectedSuffix
	}

	resp := datatypes.NewTranslationResponse(req.RequestID, out.SQL)
	resp.Status = out.Status
	resp.Source = datatypes.SourceGeneration
	resp.Provider = served
	resp.Model = req.Model
	resp.ExamplesUsed = len(shown)
	resp.Validation = &datatypes.ValidationResult{
		Status: out.Status,
		SQL:    out.SQL,
		Report: out.Report,
		Reason: reason,
	}

	if req.IncludeExplanation {
		p.explain(ctx, client, out.SQL, question, resp)
	}
	p.writeBack(ctx, question, out.SQL, schemaVersion, out.Status)
	return resp, nil
}

// gateOutcome is the compliance gate's result for one statement.
type gateOutcome struct {
	SQL    string
	Status string
	// Report describes SQL; Before is the pre-correction analysis.
	Report compliance.Report
	Before compliance.Report
}

// gate analyzes a statement, corrects a repairable violation once, and
// re-analyzes. The returned report always describes the returned SQL.
func (p *Pipeline) gate(sqlText string) (gateOutcome, error) {
	before := p.analyzer.Analyze(sqlText)
	if before.IsCompliant() {
		return gateOutcome{
			SQL:    sqlText,
			Status: datatypes.StatusAccepted,
			Report: before,
			Before: before,
		}, nil
	}

	corrected, err := p.corrector.Correct(sqlText, before)
	if err != nil {
		return gateOutcome{
			Status: datatypes.StatusRejected,
			Report: before,
			Before: before,
		}, err
	}
	return gateOutcome{
		SQL:    corrected,
		Status: datatypes.StatusCorrected,
		Report: p.analyzer.Analyze(corrected),
		Before: before,
	}, nil
}

// runGate is gate with stage accounting.
func (p *Pipeline) runGate(ctx context.Context, sqlText string, notify func(string)) (gateOutcome, error) {
	stage(notify, StageValidation)
	start := time.Now()
	out, err := p.gate(sqlText)
	if err != nil {
		p.recordStage(ctx, StageValidation, start, "error")
		p.countRejection(ctx, out.Before)
		return out, err
	}
	p.recordStage(ctx, StageValidation, start, "ok")
	if out.Status == datatypes.StatusCorrected {
		p.countCorrections(ctx, out.Before)
	}
	return out, nil
}

// semanticCheck cross-checks the SQL against the question. The verdict is
// advisory: a framework-compliant statement is returned whatever the
// model thinks of it, and a failed check only costs the nuance in the
// message.
func (p *Pipeline) semanticCheck(ctx context.Context, client completer, sqlText, question, schemaContext string) string {
	ctx, span := tracer.Start(ctx, "Pipeline.SemanticCheck")
	defer span.End()

	messages := []datatypes.Message{
		{Role: "system", Content: semanticSystemPrompt},
		{Role: "user", Content: buildSemanticValidationPrompt(sqlText, question, schemaContext)},
	}
	answer, err := client.Chat(ctx, messages, tempParams(semanticTemperature))
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("Semantic validation skipped", "error", err)
		return msgSemanticSkipped
	}

	verdict := parseSemanticVerdict(answer)
	span.SetAttributes(attribute.Bool("semantic.valid", verdict.Valid))
	if !verdict.Valid {
		p.logger.Warn("Semantic validation doubts the statement",
			"verdict", verdict.Message)
	}
	return verdict.Message
}

// explain fills in the natural-language explanation. Failures leave a
// fixed fallback text; they never fail the translation.
func (p *Pipeline) explain(ctx context.Context, client llm.LLMClient, sqlText, question string, resp *datatypes.TranslationResponse) {
	messages := []datatypes.Message{
		{Role: "system", Content: explanationSystemPrompt},
		{Role: "user", Content: buildExplanationPrompt(sqlText, question)},
	}
	answer, err := client.Chat(ctx, messages, tempParams(explanationTemperature))
	if err != nil {
		p.logger.Warn("Explanation unavailable", "error", err)
		resp.Explanation = msgExplanationUnavailable
		return
	}
	resp.Explanation = strings.TrimSpace(answer)
}

// schemaContext assembles the schema text shown to the model: the chunks
// most similar to the question when the index has them, the registry's
// full document otherwise.
func (p *Pipeline) schemaContext(ctx context.Context, question, schemaVersion string) string {
	chunks, err := p.examples.SearchSchema(ctx, question, schemaVersion, 0)
	if err != nil {
		p.logger.Warn("Schema chunk search failed, using full document",
			"error", err)
	}
	if len(chunks) > 0 {
		return strings.Join(chunks, "\n\n")
	}
	document, _ := p.schema.Snapshot()
	return document
}

// writeBack stores the validated pair in the example index so the next
// similar question can shortcut. Runs detached from the request: the
// write must survive the response being sent, and its failure is
// invisible to the caller.
func (p *Pipeline) writeBack(ctx context.Context, question, sqlText, schemaVersion, status string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		sctx, cancel := context.WithTimeout(bg, writeBackTimeout)
		defer cancel()
		if err := p.examples.StoreExample(sctx, question, sqlText, schemaVersion, status); err != nil {
			p.logger.Warn("Example write-back failed",
				"schema_version", schemaVersion,
				"error", err)
		}
	}()
}

// restamp makes a payload this request's own: fresh response identity,
// the caller's request ID, this request's wall time. Cached and shared
// payloads keep their SQL and validation but must not leak the producing
// request's identifiers.
func (p *Pipeline) restamp(resp *datatypes.TranslationResponse, req *datatypes.TranslationRequest, start time.Time, fromCache bool) {
	resp.ResponseID = uuid.New().String()
	resp.RequestID = req.RequestID
	resp.Timestamp = time.Now().UnixMilli()
	resp.CacheHit = fromCache
	if fromCache {
		resp.Source = datatypes.SourceCache
		resp.Provider = ""
		resp.Model = ""
	}
	if !req.IncludeExplanation {
		resp.Explanation = ""
	}
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
}

// exampleLimit is how many examples this request's generator may see.
func (p *Pipeline) exampleLimit(req *datatypes.TranslationRequest) int {
	if req.MaxExamples > 0 {
		return req.MaxExamples
	}
	return p.config.MaxExamples
}

func tempParams(t float32) llm.GenerationParams {
	return llm.GenerationParams{Temperature: &t}
}

// stage announces a transition to the progress observer, when there is
// one.
func stage(notify func(string), name string) {
	if notify != nil {
		notify(name)
	}
}

// recordOutcome updates the translation metrics and the usage ledger once
// a response is final.
func (p *Pipeline) recordOutcome(ctx context.Context, req *datatypes.TranslationRequest, resp *datatypes.TranslationResponse, question, schemaVersion string, start time.Time) {
	elapsed := time.Since(start)
	p.metrics.TranslationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", resp.Source),
		attribute.String("status", resp.Status)))
	p.metrics.TranslationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("source", resp.Source)))

	p.usage.Record(ctx, telemetry.UsageSample{
		RequestID:     req.RequestID,
		Source:        resp.Source,
		Status:        resp.Status,
		Provider:      resp.Provider,
		Model:         resp.Model,
		SchemaVersion: schemaVersion,
		CacheHit:      resp.CacheHit,
		ExamplesUsed:  resp.ExamplesUsed,
		QuestionBytes: len(question),
		SQLBytes:      len(resp.SQL),
		Duration:      elapsed,
	})
}

// recordFailure counts a terminal failure. Expected outcomes are counted
// at the stage that produced them; only infrastructure failures land in
// the error counter.
func (p *Pipeline) recordFailure(ctx context.Context, err error) {
	switch {
	case IsRelevanceRejection(err):
		p.metrics.RelevanceRejectionsTotal.Add(ctx, 1)
	case IsWriteRequest(err), IsImpossible(err), compliance.IsUncorrectable(err):
		// Counted in RejectionsTotal where they were decided.
	default:
		p.metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", errorKind(err)),
			attribute.String("component", "pipeline")))
	}
}

// errorKind maps an infrastructure error chain onto a bounded label set.
func errorKind(err error) string {
	switch {
	case llm.IsExhausted(err):
		return "provider_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "internal"
	}
}

func (p *Pipeline) recordStage(ctx context.Context, name string, start time.Time, status string) {
	p.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", name),
		attribute.String("status", status)))
}

func (p *Pipeline) countLookup(ctx context.Context, result string) {
	p.metrics.CacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result)))
}

func (p *Pipeline) countGeneration(ctx context.Context, provider, status string) {
	p.metrics.GenerationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status)))
}

// countCorrections records which fixes the corrector applied, read off
// the pre-correction report.
func (p *Pipeline) countCorrections(ctx context.Context, before compliance.Report) {
	if !before.HasUserFilter {
		p.metrics.CorrectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("fix", "user_filter")))
	}
	if !before.HasRequiredMarkers {
		p.metrics.CorrectionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("fix", "markers")))
	}
}

// countRejection labels the rejection counter from the report that
// triggered the terminal violation.
func (p *Pipeline) countRejection(ctx context.Context, report compliance.Report) {
	reason := "other"
	switch {
	case !report.IsReadOnly:
		reason = "write_statement"
	case !report.HasAnchorTable:
		reason = "no_anchor_table"
	}
	p.metrics.RejectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason)))
}
