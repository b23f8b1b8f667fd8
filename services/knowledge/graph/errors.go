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

import "errors"

var (
	// ErrGraphUnavailable is returned when the graph store cannot be
	// reached or opened. Ingestion aborts with no partial write; validation
	// callers degrade to UNCERTAIN instead of propagating this.
	ErrGraphUnavailable = errors.New("graph store unavailable")

	// ErrTransactionConflict is returned when a second writer attempts to
	// ingest the same repository identity concurrently. Retryable.
	ErrTransactionConflict = errors.New("concurrent ingestion for repository identity")

	// ErrNotFound is returned by lookups when no entity has the requested
	// qualified name. Distinct from ErrGraphUnavailable: the store answered.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateEntity is returned when two files declare the same
	// qualified name within one build.
	ErrDuplicateEntity = errors.New("duplicate qualified name")
)
