// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate resolves usage facts against the knowledge graph and
// classifies each one with a confidence score.
//
// The classification taxonomy never claims false certainty: UNCERTAIN means
// "insufficient graph data to prove or disprove" and is numerically distinct
// from INVALID, which means "the graph disproves this reference".
package validate

import (
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
)

// Status is the classification of one usage fact.
type Status string

const (
	// StatusValid: the referenced element exists in the graph (and the
	// call arguments, where known, are compatible).
	StatusValid Status = "VALID"

	// StatusInvalid: the graph disproves the reference. The owning scope
	// is known and the element is demonstrably absent or incompatible.
	StatusInvalid Status = "INVALID"

	// StatusUncertain: the graph lacks the data to prove or disprove.
	// Never conflated with StatusInvalid.
	StatusUncertain Status = "UNCERTAIN"

	// StatusNotFound: the reference could not be resolved to anything the
	// validator can even search for (unparseable script, relative imports
	// in a standalone script).
	StatusNotFound Status = "NOT_FOUND"
)

// ValidationResult is the classified outcome for one usage fact.
type ValidationResult struct {
	Fact       script.UsageFact `json:"fact"`
	Status     Status           `json:"status"`
	Confidence float64          `json:"confidence"`

	// Evidence names the lookup path that produced the status, e.g.
	// "method found on base class pkg.Base at depth 1".
	Evidence string `json:"evidence,omitempty"`

	// Message is a human-readable explanation for the report.
	Message string `json:"message,omitempty"`
}

// Outcome is the validator's result for one script's fact list.
type Outcome struct {
	Results []ValidationResult `json:"results"`

	// Degraded is set when any lookup hit an unavailable store and was
	// classified UNCERTAIN instead of failing the call.
	Degraded bool `json:"degraded,omitempty"`
}
