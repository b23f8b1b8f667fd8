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

import "context"

// Extractor is a per-language structural front end.
//
// Description:
//
//	An Extractor parses one source file into a FileBundle of entities with
//	deterministic qualified names. Implementations must be safe for
//	concurrent use: repository ingestion runs extraction file-parallel.
//
// Thread Safety:
//
//	Implementations must support concurrent Extract calls.
type Extractor interface {
	// Extract parses content into a FileBundle.
	//
	// A complete parse failure returns an error wrapping ErrParse scoped to
	// this file; the caller records a diagnostic and continues the batch.
	// Recoverable syntax errors yield a partial bundle with Diagnostics.
	Extract(ctx context.Context, content []byte, filePath, moduleQName string) (*FileBundle, error)

	// Language returns the canonical language name (e.g. "python").
	Language() string

	// Extensions returns the file extensions this extractor handles.
	Extensions() []string
}
