// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	extractDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knowledge_extract_duration_seconds",
		Help:    "Time spent extracting entities from one source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language", "status"})

	extractEntitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_extract_entities_total",
		Help: "Total entities extracted, by kind.",
	}, []string{"language", "kind"})
)

// startExtractSpan begins a tracing span for one file extraction.
func startExtractSpan(ctx context.Context, language, filePath string, sizeBytes int) (context.Context, trace.Span) {
	tracer := otel.Tracer("knowledge/ast")
	return tracer.Start(ctx, "ast.Extract",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file.path", filePath),
			attribute.Int("file.size_bytes", sizeBytes),
		))
}

// setExtractSpanResult attaches extraction counts to the span.
func setExtractSpanResult(span trace.Span, classes, functions, diagnostics int) {
	span.SetAttributes(
		attribute.Int("extract.classes", classes),
		attribute.Int("extract.functions", functions),
		attribute.Int("extract.diagnostics", diagnostics),
	)
}

// recordExtractMetrics records duration and entity counts for one extraction.
func recordExtractMetrics(language string, elapsed time.Duration, bundle *FileBundle, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	extractDuration.WithLabelValues(language, status).Observe(elapsed.Seconds())
	if bundle == nil {
		return
	}
	for kind, n := range bundle.EntityCount() {
		extractEntitiesTotal.WithLabelValues(language, kind).Add(float64(n))
	}
}
