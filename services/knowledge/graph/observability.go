// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

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
	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knowledge_ingest_duration_seconds",
		Help:    "Wall time of one repository ingestion.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"status"})

	ingestEntitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_ingest_entities_total",
		Help: "Entities written to the graph store, by kind.",
	}, []string{"kind"})
)

// startIngestSpan begins a tracing span for one repository build.
func startIngestSpan(ctx context.Context, identity string, fileCount int) (context.Context, trace.Span) {
	tracer := otel.Tracer("knowledge/graph")
	return tracer.Start(ctx, "graph.Ingest",
		trace.WithAttributes(
			attribute.String("repository.identity", identity),
			attribute.Int("repository.files", fileCount),
		))
}

// recordIngestMetrics records the outcome of one ingestion run.
func recordIngestMetrics(elapsed time.Duration, counts map[string]int, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	ingestDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	for kind, n := range counts {
		ingestEntitiesTotal.WithLabelValues(kind).Add(float64(n))
	}
}
