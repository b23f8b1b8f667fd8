// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

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
	validateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledge_validate_duration_seconds",
		Help:    "Wall time spent validating one script's usage facts.",
		Buckets: prometheus.DefBuckets,
	})

	validateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_validate_results_total",
		Help: "Validation results by status.",
	}, []string{"status"})
)

func startValidateSpan(ctx context.Context, scriptPath string, factCount int) (context.Context, trace.Span) {
	tracer := otel.Tracer("knowledge/validate")
	return tracer.Start(ctx, "validate.facts",
		trace.WithAttributes(
			attribute.String("script.path", scriptPath),
			attribute.Int("facts.count", factCount),
		))
}

func recordValidateMetrics(elapsed time.Duration, results []ValidationResult) {
	validateDuration.Observe(elapsed.Seconds())
	for _, r := range results {
		validateResults.WithLabelValues(string(r.Status)).Inc()
	}
}
