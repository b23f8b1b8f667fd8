// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge is the validation engine's service layer: it ties the
// source loader, graph builder, script analyzer, validator, reporter, and
// the optional suggestion index into the operations the API exposes.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/report"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/suggest"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/validate"
)

const suggestFanout = 4

// Engine exposes the two core operations: ingest a repository into the
// graph and validate a script against it.
//
// Thread Safety: safe for concurrent use. Concurrent ingestion of the
// same repository identity fails fast with graph.ErrTransactionConflict.
type Engine struct {
	store     graph.Store
	builder   *graph.Builder
	analyzer  *script.Analyzer
	validator *validate.Validator
	reporter  *report.Reporter
	retriever suggest.Retriever
	logger    *slog.Logger

	suggestLimit int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetriever enables "did you mean" suggestions on reports.
func WithRetriever(r suggest.Retriever) EngineOption {
	return func(e *Engine) { e.retriever = r }
}

// WithEngineLogger overrides the default slog logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSuggestLimit caps suggestions per finding.
func WithSuggestLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.suggestLimit = n
		}
	}
}

// WithBuilder replaces the default graph builder. Used to wire builder
// options such as worker counts and build observers.
func WithBuilder(b *graph.Builder) EngineOption {
	return func(e *Engine) {
		if b != nil {
			e.builder = b
		}
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validate.Validator) EngineOption {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// NewEngine assembles an Engine over a graph store.
func NewEngine(store graph.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		analyzer:     script.NewAnalyzer(),
		reporter:     report.NewReporter(),
		logger:       slog.Default(),
		suggestLimit: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builder == nil {
		e.builder = graph.NewBuilder(store)
	}
	if e.validator == nil {
		e.validator = validate.NewValidator(store)
	}
	return e
}

// Ingest loads a Python source tree from disk and replaces the
// repository's graph build.
func (e *Engine) Ingest(ctx context.Context, identity, sourcePath string) (*graph.BuildResult, error) {
	files, err := LoadPythonTree(sourcePath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no Python sources under %s", sourcePath)
	}
	return e.builder.Ingest(ctx, identity, sourcePath, files)
}

// IngestFiles replaces the repository's graph build from in-memory
// sources. The API handler uses this for uploaded trees.
func (e *Engine) IngestFiles(ctx context.Context, identity, sourceLocator string, files []graph.SourceFile) (*graph.BuildResult, error) {
	return e.builder.Ingest(ctx, identity, sourceLocator, files)
}

// Validate analyzes a script, classifies its usage facts against the
// graph, and assembles the hallucination report.
//
// Description:
//
//	Suggestions are fetched only for disproven or unresolvable findings,
//	fanned out over a small worker pool, and attached afterwards; a
//	failing suggestion service marks the report degraded but never fails
//	the validation. The verdicts and the overall confidence never depend
//	on the suggestion index.
func (e *Engine) Validate(ctx context.Context, scriptPath string, content []byte) (*report.Report, error) {
	analysis := e.analyzer.Analyze(ctx, content, scriptPath)

	outcome, err := e.validator.ValidateFacts(ctx, analysis)
	if err != nil {
		return nil, err
	}

	rep := e.reporter.Build(scriptPath, outcome)
	if e.retriever != nil {
		hints, degraded := e.fetchSuggestions(ctx, outcome)
		e.reporter.Attach(rep, hints)
		if degraded {
			rep.Degraded = true
		}
	}
	return rep, nil
}

// fetchSuggestions queries the similarity index for every finding worth a
// hint. Errors are logged and surfaced only through the degraded flag,
// never propagated.
func (e *Engine) fetchSuggestions(ctx context.Context, outcome *validate.Outcome) (map[script.Location][]string, bool) {
	var mu sync.Mutex
	var degraded atomic.Bool
	hints := make(map[script.Location][]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(suggestFanout)
	for _, res := range outcome.Results {
		if res.Status != validate.StatusInvalid && res.Status != validate.StatusNotFound {
			continue
		}
		g.Go(func() error {
			repo := e.findingRepository(gctx, res.Fact)
			suggestions, err := e.retriever.Suggest(gctx, repo, res.Fact.SymbolName, e.suggestLimit)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					degraded.Store(true)
					e.logger.WarnContext(gctx, "suggestion lookup failed",
						"symbol", res.Fact.SymbolName,
						"error", err)
				}
				return nil
			}
			if len(suggestions) == 0 {
				return nil
			}
			lines := make([]string, 0, len(suggestions))
			for _, s := range suggestions {
				lines = append(lines, fmt.Sprintf("%s (%s)", s.QualifiedName, s.Kind))
			}
			mu.Lock()
			hints[res.Fact.Location] = lines
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return hints, degraded.Load()
}

// findingRepository resolves which repository a fact's base belongs to,
// so suggestions prefer symbols from the same codebase. Unresolvable
// bases fall back to a global search.
func (e *Engine) findingRepository(ctx context.Context, fact script.UsageFact) string {
	qname := fact.Base.QualifiedName
	if qname == "" {
		return ""
	}
	if cls, err := e.store.GetClass(ctx, qname); err == nil {
		return cls.Repository
	}
	if mod, err := e.store.GetModule(ctx, qname); err == nil {
		return mod.Repository
	}
	return ""
}

// Repositories lists every ingested repository.
func (e *Engine) Repositories(ctx context.Context) ([]*graph.Repository, error) {
	return e.store.ListRepositories(ctx)
}

// DeleteRepository removes one repository and all its entities.
func (e *Engine) DeleteRepository(ctx context.Context, identity string) error {
	return e.store.DeleteRepository(ctx, identity)
}

// Healthy reports whether the graph store answers.
func (e *Engine) Healthy(ctx context.Context) bool {
	_, err := e.store.ListRepositories(ctx)
	return err == nil
}
