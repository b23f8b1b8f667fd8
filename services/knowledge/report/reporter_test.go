// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"testing"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/validate"
)

func res(kind script.FactKind, status validate.Status, confidence float64, line int) validate.ValidationResult {
	return validate.ValidationResult{
		Fact:       script.UsageFact{Kind: kind, SymbolName: "x", Location: script.Location{Line: line, Col: 1}},
		Status:     status,
		Confidence: confidence,
	}
}

func TestReporter_EmptyOutcome(t *testing.T) {
	rep := NewReporter().Build("s.py", &validate.Outcome{})
	if rep.OverallConfidence != 1.0 {
		t.Errorf("overall = %.2f, want 1.0 for an empty outcome", rep.OverallConfidence)
	}
	if rep.Risk != RiskLow {
		t.Errorf("risk = %s, want LOW", rep.Risk)
	}
}

func TestReporter_InvalidWeighsHeavier(t *testing.T) {
	allValid := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusValid, 0.95, 1),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 2),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 3),
	}}
	oneBad := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusValid, 0.95, 1),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 2),
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 3),
	}}

	r := NewReporter()
	clean := r.Build("s.py", allValid)
	dented := r.Build("s.py", oneBad)
	if dented.OverallConfidence >= clean.OverallConfidence {
		t.Fatalf("one invalid result should lower the overall score: %.3f vs %.3f",
			dented.OverallConfidence, clean.OverallConfidence)
	}

	// Weighted mean: (0.95 + 0.95 + 3*0.05) / (1 + 1 + 3) = 0.41.
	if dented.OverallConfidence > 0.5 {
		t.Errorf("overall = %.3f, the invalid weight should pull it below 0.5", dented.OverallConfidence)
	}
	if dented.Risk != RiskHigh {
		t.Errorf("risk = %s, want HIGH below the 0.5 threshold", dented.Risk)
	}
}

func TestReporter_MoreInvalidNeverRaisesConfidence(t *testing.T) {
	r := NewReporter()

	// One disproven member access drags the mean to 0.05. A further
	// disproven export (confidence 0.15, above the current mean) must not
	// pull the score back up.
	base := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 1),
	}}
	extended := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 1),
		res(script.FactFunctionCall, validate.StatusInvalid, 0.15, 2),
	}}

	before := r.Build("s.py", base).OverallConfidence
	after := r.Build("s.py", extended).OverallConfidence
	if after > before {
		t.Fatalf("appending an invalid fact raised the score: %.3f -> %.3f", before, after)
	}

	// The clamp anchors later facts too: a valid fact after the clamp
	// still averages from the clamped score, not the raw weighted sum.
	withValid := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 1),
		res(script.FactFunctionCall, validate.StatusInvalid, 0.15, 2),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 3),
	}}
	full := r.Build("s.py", withValid).OverallConfidence
	if full < after {
		t.Errorf("a valid fact should not lower the score further: %.3f -> %.3f", after, full)
	}
	if full > 0.5 {
		t.Errorf("overall = %.3f, two disproven facts should keep it low", full)
	}
}

func TestReporter_CriticalOnDisprovenImport(t *testing.T) {
	outcome := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactImport, validate.StatusInvalid, 0.15, 1),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 2),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 3),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 4),
		res(script.FactMethodCall, validate.StatusValid, 0.95, 5),
	}}
	rep := NewReporter().Build("s.py", outcome)
	if rep.Risk != RiskCritical {
		t.Fatalf("risk = %s, want CRITICAL for a disproven import regardless of the score", rep.Risk)
	}
}

func TestReporter_GroupsAndOrders(t *testing.T) {
	outcome := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusValid, 0.95, 8),
		res(script.FactImport, validate.StatusValid, 0.95, 1),
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 3),
	}}
	rep := NewReporter().Build("s.py", outcome)

	calls := rep.Findings[script.FactMethodCall]
	if len(calls) != 2 {
		t.Fatalf("method call findings = %d, want 2", len(calls))
	}
	if !calls[0].Result.Fact.Location.Less(calls[1].Result.Fact.Location) {
		t.Error("findings within a group should be in source order")
	}
	if rep.Counts[validate.StatusInvalid] != 1 || rep.Counts[validate.StatusValid] != 2 {
		t.Errorf("counts = %v", rep.Counts)
	}
}

func TestReporter_AttachDoesNotChangeVerdicts(t *testing.T) {
	outcome := &validate.Outcome{Results: []validate.ValidationResult{
		res(script.FactMethodCall, validate.StatusInvalid, 0.05, 3),
	}}
	r := NewReporter()
	rep := r.Build("s.py", outcome)
	before := rep.OverallConfidence

	r.Attach(rep, map[script.Location][]string{
		{Line: 3, Col: 1}: {"did you mean post()?"},
	})

	finding := rep.Findings[script.FactMethodCall][0]
	if len(finding.Suggestions) != 1 {
		t.Fatalf("suggestions = %v, want the attached hint", finding.Suggestions)
	}
	if rep.OverallConfidence != before {
		t.Error("Attach changed the overall confidence")
	}
	if finding.Result.Status != validate.StatusInvalid {
		t.Error("Attach changed a finding status")
	}
}
