// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds and models the structural knowledge graph.
//
// The graph is a strict ownership tree: Repository owns Modules, a Module
// owns Classes and Functions, a Class owns Methods and Attributes. A
// repository's entity set is only ever replaced wholesale; no query observes
// a mix of an old and a new build for the same identity.
package graph

import (
	"time"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/ast"
)

// EntityKind names for entity counting and metrics labels.
const (
	KindModule    = "module"
	KindClass     = "class"
	KindMethod    = "method"
	KindAttribute = "attribute"
	KindFunction  = "function"
	KindImport    = "import"
)

// Repository is the root of the ownership tree for one ingested source tree.
type Repository struct {
	Identity      string    `json:"identity"`
	SourceLocator string    `json:"source_locator"`
	LastBuiltAt   time.Time `json:"last_built_at"`
}

// Module is one source file's namespace within a repository.
type Module struct {
	QualifiedName string `json:"qualified_name"`
	FilePath      string `json:"file_path"`
	Repository    string `json:"repository"`
}

// Class is a class owned by exactly one module.
//
// BaseClassNames holds qualified names where the builder could resolve them,
// and the raw source spelling otherwise (opaque external references).
type Class struct {
	QualifiedName  string   `json:"qualified_name"`
	Name           string   `json:"name"`
	Module         string   `json:"module"`
	Repository     string   `json:"repository"`
	BaseClassNames []string `json:"base_class_names,omitempty"`
	ExternalBases  []string `json:"external_bases,omitempty"`
	IsAbstract     bool     `json:"is_abstract,omitempty"`
}

// Method is a callable owned by exactly one class.
type Method struct {
	QualifiedName string          `json:"qualified_name"`
	Name          string          `json:"name"`
	Class         string          `json:"class"`
	Repository    string          `json:"repository"`
	Params        []ast.ParamSpec `json:"params,omitempty"`
	IsAbstract    bool            `json:"is_abstract,omitempty"`
	IsStatic      bool            `json:"is_static,omitempty"`
}

// Attribute is a data member owned by exactly one class.
type Attribute struct {
	QualifiedName string `json:"qualified_name"`
	Name          string `json:"name"`
	Class         string `json:"class"`
	Repository    string `json:"repository"`
}

// Function is a callable owned by exactly one module.
type Function struct {
	QualifiedName string          `json:"qualified_name"`
	Name          string          `json:"name"`
	Module        string          `json:"module"`
	Repository    string          `json:"repository"`
	Params        []ast.ParamSpec `json:"params,omitempty"`
}

// ImportEdge records that a module imports (and thereby re-exports or
// aliases) a target symbol or module.
type ImportEdge struct {
	Module     string `json:"module"`
	Repository string `json:"repository"`
	Target     string `json:"target"`
	Alias      string `json:"alias,omitempty"`
}

// EntitySet is one complete build of a repository, ready for an atomic
// replace in the store.
type EntitySet struct {
	Repository Repository    `json:"repository"`
	Modules    []*Module     `json:"modules,omitempty"`
	Classes    []*Class      `json:"classes,omitempty"`
	Methods    []*Method     `json:"methods,omitempty"`
	Attributes []*Attribute  `json:"attributes,omitempty"`
	Functions  []*Function   `json:"functions,omitempty"`
	Imports    []*ImportEdge `json:"imports,omitempty"`
}

// Counts returns entity counts by kind.
func (s *EntitySet) Counts() map[string]int {
	return map[string]int{
		KindModule:    len(s.Modules),
		KindClass:     len(s.Classes),
		KindMethod:    len(s.Methods),
		KindAttribute: len(s.Attributes),
		KindFunction:  len(s.Functions),
		KindImport:    len(s.Imports),
	}
}

// SourceFile is one file handed to the builder by the source-tree provider.
type SourceFile struct {
	Path        string
	ModuleQName string
	Content     []byte
}

// BuildResult summarizes one ingestion run.
type BuildResult struct {
	Identity       string           `json:"identity"`
	RunID          string           `json:"run_id"`
	FilesProcessed int              `json:"files_processed"`
	EntitiesByKind map[string]int   `json:"entities_by_kind"`
	Diagnostics    []ast.Diagnostic `json:"diagnostics,omitempty"`
	Elapsed        time.Duration    `json:"elapsed_ns"`
}
