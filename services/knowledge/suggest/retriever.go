// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suggest retrieves "did you mean" candidates for disproven or
// dubious API references from a Weaviate similarity index. Everything
// here is advisory: failures degrade to no suggestions, never to a
// failed validation.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/time/rate"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

// ApiSymbolClassName is the Weaviate class holding indexed API symbols.
const ApiSymbolClassName = "ApiSymbol"

const (
	defaultQueryTimeout = 2 * time.Second
	defaultQueryRate    = 20 // queries per second
	defaultMaxResults   = 5
	indexBatchSize      = 100
)

// Suggestion is one candidate replacement for a dubious reference.
type Suggestion struct {
	Symbol        string  `json:"symbol"`
	QualifiedName string  `json:"qualified_name"`
	Kind          string  `json:"kind"`
	Repository    string  `json:"repository"`
	Score         float64 `json:"score"`
}

// Retriever is the suggestion port. The validation engine depends on
// this, not on Weaviate.
type Retriever interface {
	// Suggest returns up to limit candidates similar to query, preferring
	// symbols from the given repository.
	Suggest(ctx context.Context, repository, query string, limit int) ([]Suggestion, error)
}

// WeaviateRetriever backs Retriever with a Weaviate nearText search.
//
// Thread Safety: safe for concurrent use.
type WeaviateRetriever struct {
	client  *weaviate.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// RetrieverOption configures a WeaviateRetriever.
type RetrieverOption func(*WeaviateRetriever)

// WithQueryTimeout bounds each similarity query.
func WithQueryTimeout(d time.Duration) RetrieverOption {
	return func(r *WeaviateRetriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithQueryRate caps queries per second against the index.
func WithQueryRate(perSecond float64) RetrieverOption {
	return func(r *WeaviateRetriever) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond))
		}
	}
}

// WithRetrieverLogger overrides the default slog logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *WeaviateRetriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewWeaviateRetriever creates a retriever over an existing client.
func NewWeaviateRetriever(client *weaviate.Client, opts ...RetrieverOption) (*WeaviateRetriever, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrSuggestionService)
	}
	r := &WeaviateRetriever{
		client:  client,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(defaultQueryRate), defaultQueryRate),
		timeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// apiSymbolSchema describes the ApiSymbol class.
func apiSymbolSchema() *models.Class {
	return &models.Class{
		Class:       ApiSymbolClassName,
		Description: "One API symbol from an ingested repository, searchable by name similarity",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{Name: "symbol", DataType: []string{"text"}, Tokenization: "word",
				Description: "Bare symbol name"},
			{Name: "qualifiedName", DataType: []string{"text"}, Tokenization: "word",
				Description: "Dotted qualified name"},
			{Name: "kind", DataType: []string{"text"}, Tokenization: "field",
				Description: "class, function, method, or attribute"},
			{Name: "repository", DataType: []string{"text"}, Tokenization: "field",
				Description: "Owning repository identity"},
		},
	}
}

// EnsureSchema creates the ApiSymbol class if it does not exist.
// Idempotent.
func (r *WeaviateRetriever) EnsureSchema(ctx context.Context) error {
	_, err := r.client.Schema().ClassGetter().WithClassName(ApiSymbolClassName).Do(ctx)
	if err == nil {
		return nil
	}
	if err := r.client.Schema().ClassCreator().WithClass(apiSymbolSchema()).Do(ctx); err != nil {
		return fmt.Errorf("%w: creating %s schema: %v", ErrSuggestionService, ApiSymbolClassName, err)
	}
	r.logger.InfoContext(ctx, "suggestion schema created", "class", ApiSymbolClassName)
	return nil
}

// IndexEntities pushes one repository build's symbols into the index in
// batches. Called after a successful graph replace; failures are the
// caller's to log, not to propagate into the ingest result.
func (r *WeaviateRetriever) IndexEntities(ctx context.Context, set *graph.EntitySet) (int, error) {
	objects := make([]*models.Object, 0, len(set.Classes)+len(set.Functions)+len(set.Methods))
	add := func(symbol, qualified, kind string) {
		objects = append(objects, &models.Object{
			Class: ApiSymbolClassName,
			Properties: map[string]interface{}{
				"symbol":        symbol,
				"qualifiedName": qualified,
				"kind":          kind,
				"repository":    set.Repository.Identity,
			},
		})
	}
	for _, c := range set.Classes {
		add(c.Name, c.QualifiedName, graph.KindClass)
	}
	for _, f := range set.Functions {
		add(f.Name, f.QualifiedName, graph.KindFunction)
	}
	for _, m := range set.Methods {
		add(m.Name, m.QualifiedName, graph.KindMethod)
	}

	indexed := 0
	for i := 0; i < len(objects); i += indexBatchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		end := i + indexBatchSize
		if end > len(objects) {
			end = len(objects)
		}
		result, err := r.client.Batch().ObjectsBatcher().WithObjects(objects[i:end]...).Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("%w: batch import: %v", ErrSuggestionService, err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				indexed++
			}
		}
	}
	r.logger.InfoContext(ctx, "symbols indexed",
		"repository", set.Repository.Identity,
		"indexed", indexed)
	return indexed, nil
}

// Suggest implements Retriever.
//
// Description:
//
//	Runs a nearText search scoped to the repository, falling back to a
//	global search when the scoped one comes back empty. Each query is
//	rate limited and bounded by its own timeout so a slow index cannot
//	stall report assembly.
func (r *WeaviateRetriever) Suggest(ctx context.Context, repository, query string, limit int) ([]Suggestion, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultMaxResults
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	suggestions, err := r.query(ctx, repository, query, limit)
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 && repository != "" {
		return r.query(ctx, "", query, limit)
	}
	return suggestions, nil
}

func (r *WeaviateRetriever) query(ctx context.Context, repository, query string, limit int) ([]Suggestion, error) {
	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "symbol"},
		{Name: "qualifiedName"},
		{Name: "kind"},
		{Name: "repository"},
		{Name: "_additional { certainty }"},
	}

	builder := r.client.GraphQL().Get().
		WithClassName(ApiSymbolClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit)

	if repository != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"repository"}).
			WithOperator(filters.Equal).
			WithValueString(repository))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuggestionService, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSuggestionService, result.Errors[0].Message)
	}
	return parseSuggestions(result), nil
}

// parseSuggestions extracts suggestions from a GraphQL response. Results
// arrive ranked by the index; malformed objects are skipped.
func parseSuggestions(result *models.GraphQLResponse) []Suggestion {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[ApiSymbolClassName].([]interface{})
	if !ok {
		return nil
	}

	suggestions := make([]Suggestion, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		s := Suggestion{
			Symbol:        getString(m, "symbol"),
			QualifiedName: getString(m, "qualifiedName"),
			Kind:          getString(m, "kind"),
			Repository:    getString(m, "repository"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				s.Score = certainty
			}
		}
		if s.QualifiedName == "" {
			continue
		}
		suggestions = append(suggestions, s)
	}
	return suggestions
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
