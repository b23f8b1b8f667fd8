// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report turns raw validation outcomes into hallucination reports:
// findings grouped by usage kind, an overall confidence score, and a risk
// level a caller can gate on.
package report

import (
	"sort"
	"time"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/validate"
)

// RiskLevel grades how dangerous it would be to run the script as-is.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// Aggregation weights. Disproven references drag the overall score down
// three times harder than proven ones lift it; inconclusive references
// sit in between.
const (
	weightValid     = 1.0
	weightUncertain = 1.5
	weightInvalid   = 3.0
)

// Risk thresholds on the overall confidence.
const (
	riskHighBelow   = 0.50
	riskMediumBelow = 0.75
)

// Finding is one reportable validation result with its suggestions.
type Finding struct {
	Result      validate.ValidationResult `json:"result"`
	Suggestions []string                  `json:"suggestions,omitempty"`
}

// Report is the final product of a validation run.
type Report struct {
	ScriptPath        string                        `json:"script_path"`
	GeneratedAt       time.Time                     `json:"generated_at"`
	OverallConfidence float64                       `json:"overall_confidence"`
	Risk              RiskLevel                     `json:"risk"`
	Counts            map[validate.Status]int       `json:"counts"`
	Findings          map[script.FactKind][]Finding `json:"findings"`
	Degraded          bool                          `json:"degraded,omitempty"`
}

// Reporter builds reports from validation outcomes.
type Reporter struct{}

// NewReporter creates a Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Build assembles the report for one outcome.
//
// Description:
//
//	The overall confidence is a weighted mean of per-fact confidences in
//	which INVALID and NOT_FOUND facts carry three times the weight of
//	VALID facts and UNCERTAIN facts one-and-a-half times, so a single
//	disproven reference in a sea of valid ones still dents the score.
//	The running mean is clamped so that adding a disproven fact can never
//	raise the score, even when that fact's own confidence sits above the
//	already-low mean.
//	The risk level is CRITICAL whenever an import or instantiation is
//	disproven (the script cannot run at all), otherwise it follows the
//	overall confidence thresholds. An empty outcome scores 1.0 and LOW.
//
// Outputs:
//   - *Report: findings grouped by fact kind, each group in source order.
func (r *Reporter) Build(scriptPath string, outcome *validate.Outcome) *Report {
	rep := &Report{
		ScriptPath:  scriptPath,
		GeneratedAt: time.Now().UTC(),
		Counts:      make(map[validate.Status]int),
		Findings:    make(map[script.FactKind][]Finding),
		Degraded:    outcome.Degraded,
	}

	var weighted, totalWeight float64
	overall := 1.0
	critical := false
	for _, res := range outcome.Results {
		rep.Counts[res.Status]++
		rep.Findings[res.Fact.Kind] = append(rep.Findings[res.Fact.Kind], Finding{Result: res})

		w := weightValid
		disproven := false
		switch res.Status {
		case validate.StatusInvalid, validate.StatusNotFound:
			w = weightInvalid
			disproven = true
		case validate.StatusUncertain:
			w = weightUncertain
		}
		weighted += res.Confidence * w
		totalWeight += w

		next := weighted / totalWeight
		if disproven && totalWeight > w && next > overall {
			// A disproven fact never raises the score.
			next = overall
			weighted = next * totalWeight
		}
		overall = next

		if res.Status == validate.StatusInvalid &&
			(res.Fact.Kind == script.FactImport || res.Fact.Kind == script.FactInstantiation) {
			critical = true
		}
	}

	rep.OverallConfidence = overall

	for kind := range rep.Findings {
		group := rep.Findings[kind]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Result.Fact.Location.Less(group[j].Result.Fact.Location)
		})
	}

	switch {
	case critical:
		rep.Risk = RiskCritical
	case rep.OverallConfidence < riskHighBelow:
		rep.Risk = RiskHigh
	case rep.OverallConfidence < riskMediumBelow:
		rep.Risk = RiskMedium
	default:
		rep.Risk = RiskLow
	}
	return rep
}

// Attach adds advisory suggestions to the findings they belong to, matched
// by source location. Suggestions never alter status, confidence, or risk.
func (r *Reporter) Attach(rep *Report, suggestions map[script.Location][]string) {
	if len(suggestions) == 0 {
		return
	}
	for kind, group := range rep.Findings {
		for i := range group {
			if s, ok := suggestions[group[i].Result.Fact.Location]; ok {
				group[i].Suggestions = s
			}
		}
		rep.Findings[kind] = group
	}
}
