// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package script analyzes a target script into a flat list of usage facts.
//
// The analyzer is deliberately shallow: a local symbol table built by
// best-effort single-assignment inference, walked in textual order. Unknown
// stays unknown; the analyzer never guesses a type it cannot see bound.
package script

// FactKind classifies one observed API reference.
type FactKind string

const (
	FactImport          FactKind = "IMPORT"
	FactInstantiation   FactKind = "INSTANTIATION"
	FactMethodCall      FactKind = "METHOD_CALL"
	FactAttributeAccess FactKind = "ATTRIBUTE_ACCESS"
	FactFunctionCall    FactKind = "FUNCTION_CALL"
)

// OriginKind tags what the analyzer knows about a local name.
type OriginKind string

const (
	// OriginImportAlias: the name was bound by an import statement.
	OriginImportAlias OriginKind = "import_alias"

	// OriginInstanceOf: the name was bound by name = Ctor(...) where Ctor
	// is a known import alias.
	OriginInstanceOf OriginKind = "instance_of"

	// OriginUnknown: anything else. Never guessed past this.
	OriginUnknown OriginKind = "unknown"
)

// SymbolOrigin is the inferred provenance of a local name or a fact's base.
type SymbolOrigin struct {
	Kind OriginKind `json:"kind"`

	// QualifiedName is the dotted target for import_alias and instance_of.
	// Empty for unknown.
	QualifiedName string `json:"qualified_name,omitempty"`
}

// Unknown is the zero-information origin.
func Unknown() SymbolOrigin {
	return SymbolOrigin{Kind: OriginUnknown}
}

// ArgSpec describes one argument at a call site.
type ArgSpec struct {
	// Keyword is the argument name for keyword arguments, empty for
	// positional ones.
	Keyword string `json:"keyword,omitempty"`

	// IsSplat marks *args / **kwargs forwarding at the call site. Splatted
	// calls defeat static argument-count checking.
	IsSplat bool `json:"is_splat,omitempty"`
}

// Location is a source position within the analyzed script.
type Location struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Less orders locations by line, then column.
func (l Location) Less(other Location) bool {
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Col < other.Col
}

// UsageFact is one observed API reference extracted from the script.
type UsageFact struct {
	Kind       FactKind     `json:"kind"`
	SymbolName string       `json:"symbol_name"`
	Base       SymbolOrigin `json:"base"`
	Args       []ArgSpec    `json:"args,omitempty"`
	Location   Location     `json:"location"`

	// Expr is the source text of the reference, for report readability.
	Expr string `json:"expr,omitempty"`
}

// Analysis is the analyzer's output for one script.
type Analysis struct {
	ScriptPath  string      `json:"script_path"`
	Facts       []UsageFact `json:"facts"`
	Unparseable bool        `json:"unparseable,omitempty"`
	Diagnostics []string    `json:"diagnostics,omitempty"`
}
