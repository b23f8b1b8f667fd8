// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts structural entities (classes, methods, attributes,
// functions, imports) from Python source files using tree-sitter.
//
// The extractor is the front end of the knowledge-graph ingestion pipeline:
// one source file in, one FileBundle of entities with deterministic qualified
// names out. Cross-file concerns (base-class resolution, ownership edges)
// belong to the graph builder, not this package.
package ast

import (
	"fmt"
	"strings"
)

// Size and traversal limits for the extractor.
const (
	// DefaultMaxFileSize is the maximum file size accepted by default (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold above which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024

	// MaxTraversalDepth is the maximum AST recursion depth. Prevents stack
	// overflow on pathologically nested sources.
	MaxTraversalDepth = 50
)

// ParamKind classifies a declared parameter.
type ParamKind string

const (
	// ParamPositional is a normal positional-or-keyword parameter.
	ParamPositional ParamKind = "positional"

	// ParamKeyword is a keyword-only parameter (declared after a bare *).
	ParamKeyword ParamKind = "keyword"

	// ParamVariadic is a *args or **kwargs catch-all.
	ParamVariadic ParamKind = "variadic"
)

// ParamSpec describes one declared parameter of a function or method.
//
// Position is the zero-based declaration index, counted after the implicit
// self/cls receiver has been dropped for methods.
type ParamSpec struct {
	Name       string    `json:"name"`
	Position   int       `json:"position"`
	Kind       ParamKind `json:"kind"`
	HasDefault bool      `json:"has_default"`
}

// MethodEntity is a method declared inside a class body.
type MethodEntity struct {
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualified_name"`
	Params        []ParamSpec `json:"params,omitempty"`
	IsAbstract    bool        `json:"is_abstract,omitempty"`
	IsStatic      bool        `json:"is_static,omitempty"`
	StartLine     int         `json:"start_line"`
	EndLine       int         `json:"end_line"`
}

// AttributeEntity is a class-level variable declaration.
type AttributeEntity struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	TypeHint      string `json:"type_hint,omitempty"`
	Line          int    `json:"line"`
}

// ClassEntity is a class declaration with its members.
//
// BaseNames holds the base-class references exactly as written in the source
// (possibly dotted). Resolution to qualified names is the graph builder's
// job; an unresolvable base stays an opaque external reference.
type ClassEntity struct {
	Name          string             `json:"name"`
	QualifiedName string             `json:"qualified_name"`
	BaseNames     []string           `json:"base_names,omitempty"`
	IsAbstract    bool               `json:"is_abstract,omitempty"`
	DocComment    string             `json:"doc_comment,omitempty"`
	Methods       []*MethodEntity    `json:"methods,omitempty"`
	Attributes    []*AttributeEntity `json:"attributes,omitempty"`
	StartLine     int                `json:"start_line"`
	EndLine       int                `json:"end_line"`
}

// FunctionEntity is a module-level function declaration.
type FunctionEntity struct {
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualified_name"`
	Params        []ParamSpec `json:"params,omitempty"`
	DocComment    string      `json:"doc_comment,omitempty"`
	StartLine     int         `json:"start_line"`
	EndLine       int         `json:"end_line"`
}

// ImportDecl is one import statement observed in a module.
//
// For "import a.b as c": ModulePath is "a.b", Alias is "c", Names is empty.
// For "from a.b import x, y": ModulePath is "a.b", Names is ["x", "y"].
// For "from . import z": IsRelative is true and ModulePath holds the dots.
type ImportDecl struct {
	ModulePath string   `json:"module_path"`
	Names      []string `json:"names,omitempty"`
	Alias      string   `json:"alias,omitempty"`
	IsWildcard bool     `json:"is_wildcard,omitempty"`
	IsRelative bool     `json:"is_relative,omitempty"`
	Line       int      `json:"line"`
}

// Diagnostic is a non-fatal extraction problem scoped to one file.
type Diagnostic struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// FileBundle is the complete extraction result for one source file.
//
// A FileBundle is self-contained: it never references entities from other
// files. The graph builder unions bundles across a repository.
type FileBundle struct {
	FilePath      string            `json:"file_path"`
	ModuleQName   string            `json:"module_qualified_name"`
	Language      string            `json:"language"`
	Hash          string            `json:"hash"`
	ParsedAtMilli int64             `json:"parsed_at_milli"`
	Classes       []*ClassEntity    `json:"classes,omitempty"`
	Functions     []*FunctionEntity `json:"functions,omitempty"`
	Imports       []ImportDecl      `json:"imports,omitempty"`
	Diagnostics   []Diagnostic      `json:"diagnostics,omitempty"`
}

// EntityCount returns the number of entities by kind for this bundle.
func (b *FileBundle) EntityCount() map[string]int {
	counts := map[string]int{
		"module":   1,
		"class":    len(b.Classes),
		"function": len(b.Functions),
		"import":   len(b.Imports),
	}
	for _, cls := range b.Classes {
		counts["method"] += len(cls.Methods)
		counts["attribute"] += len(cls.Attributes)
	}
	return counts
}

// Validate checks internal consistency of the bundle.
//
// Outputs:
//   - error: Non-nil if a required field is missing or a qualified name does
//     not share the bundle's module prefix.
func (b *FileBundle) Validate() error {
	if b.FilePath == "" {
		return fmt.Errorf("bundle has empty file path")
	}
	if b.ModuleQName == "" {
		return fmt.Errorf("bundle %s has empty module qualified name", b.FilePath)
	}
	for _, cls := range b.Classes {
		if !strings.HasPrefix(cls.QualifiedName, b.ModuleQName+".") {
			return fmt.Errorf("class %q not rooted in module %q", cls.QualifiedName, b.ModuleQName)
		}
	}
	for _, fn := range b.Functions {
		if !strings.HasPrefix(fn.QualifiedName, b.ModuleQName+".") {
			return fmt.Errorf("function %q not rooted in module %q", fn.QualifiedName, b.ModuleQName)
		}
	}
	return nil
}

// Qualify joins name parts into a dotted qualified name, skipping empties.
//
// Qualified names are derived deterministically from the module qualified
// name and the nesting path, so the same source always yields the same names.
func Qualify(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}
