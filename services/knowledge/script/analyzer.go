// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package script

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/ast"
)

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAnalyzerMaxFileSize sets the maximum script size accepted.
func WithAnalyzerMaxFileSize(bytes int64) AnalyzerOption {
	return func(a *Analyzer) {
		if bytes > 0 {
			a.maxFileSize = bytes
		}
	}
}

// Analyzer parses a Python script and emits usage facts.
//
// Description:
//
//	Analyze walks the script AST in textual order maintaining a local
//	symbol table of name -> SymbolOrigin. The table is single-assignment
//	and non-flow-sensitive: a later reassignment overwrites the entry, and
//	conflicting branches are never merged. Every import, call expression,
//	and attribute expression yields one UsageFact with the base resolved
//	from the table state at that point in the walk.
//
// Thread Safety:
//
//	Safe for concurrent use; each Analyze call keeps all state local.
type Analyzer struct {
	maxFileSize int64
}

// NewAnalyzer creates an Analyzer with the given options.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{maxFileSize: ast.DefaultMaxFileSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze extracts usage facts from a script.
//
// Description:
//
//	A parse failure never propagates: the returned Analysis carries
//	Unparseable=true with a diagnostic instead, so the caller can still
//	produce a structured report.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - content: Script source bytes.
//   - scriptPath: Display path recorded on the Analysis.
//
// Outputs:
//   - *Analysis: Never nil. Facts are in textual (walk) order.
func (a *Analyzer) Analyze(ctx context.Context, content []byte, scriptPath string) *Analysis {
	analysis := &Analysis{ScriptPath: scriptPath}

	if int64(len(content)) > a.maxFileSize {
		analysis.Unparseable = true
		analysis.Diagnostics = append(analysis.Diagnostics, "script exceeds maximum size")
		return analysis
	}
	if !utf8.Valid(content) {
		analysis.Unparseable = true
		analysis.Diagnostics = append(analysis.Diagnostics, "script is not valid UTF-8")
		return analysis
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		analysis.Unparseable = true
		analysis.Diagnostics = append(analysis.Diagnostics, "tree-sitter could not parse the script")
		return analysis
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		analysis.Unparseable = true
		analysis.Diagnostics = append(analysis.Diagnostics, "tree-sitter returned nil root node")
		return analysis
	}
	if root.HasError() {
		analysis.Diagnostics = append(analysis.Diagnostics, "script contains syntax errors; analysis is partial")
	}

	w := &walker{
		content:  content,
		table:    make(map[string]SymbolOrigin),
		analysis: analysis,
	}
	w.walk(root, 0)

	slog.Debug("script analyzed",
		slog.String("script", scriptPath),
		slog.Int("facts", len(analysis.Facts)),
		slog.Int("bindings", len(w.table)))

	return analysis
}

// walker carries the per-call analysis state.
type walker struct {
	content  []byte
	table    map[string]SymbolOrigin
	analysis *Analysis
}

func (w *walker) text(node *sitter.Node) string {
	return string(w.content[node.StartByte():node.EndByte()])
}

func (w *walker) location(node *sitter.Node) Location {
	return Location{
		Line: int(node.StartPoint().Row + 1),
		Col:  int(node.StartPoint().Column),
	}
}

func (w *walker) emit(fact UsageFact) {
	w.analysis.Facts = append(w.analysis.Facts, fact)
}

// walk visits nodes in textual order, dispatching the handful of node types
// the analyzer understands and recursing through everything else.
func (w *walker) walk(node *sitter.Node, depth int) {
	if node == nil || depth > ast.MaxTraversalDepth {
		return
	}

	switch node.Type() {
	case "import_statement":
		w.handleImport(node)
		return
	case "import_from_statement":
		w.handleFromImport(node)
		return
	case "assignment":
		w.handleAssignment(node, depth)
		return
	case "call":
		w.handleCall(node, depth)
		return
	case "attribute":
		w.handleAttribute(node, depth)
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.walk(node.Child(i), depth+1)
	}
}

// handleImport processes 'import m' / 'import m as alias'.
func (w *walker) handleImport(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			path := w.text(child)
			// "import a.b" makes the whole path importable but binds only
			// the top-level name, to the top-level module: a later a.foo()
			// resolves against "a", not "a.b".
			local := path
			if idx := strings.Index(path, "."); idx >= 0 {
				local = path[:idx]
			}
			w.table[local] = SymbolOrigin{Kind: OriginImportAlias, QualifiedName: local}
			w.emit(UsageFact{
				Kind:       FactImport,
				SymbolName: path,
				Base:       Unknown(),
				Location:   w.location(node),
				Expr:       w.text(node),
			})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					path = w.text(grandchild)
				case "identifier":
					alias = w.text(grandchild)
				}
			}
			if path == "" {
				continue
			}
			if alias == "" {
				alias = path
			}
			w.table[alias] = SymbolOrigin{Kind: OriginImportAlias, QualifiedName: path}
			w.emit(UsageFact{
				Kind:       FactImport,
				SymbolName: path,
				Base:       Unknown(),
				Location:   w.location(node),
				Expr:       w.text(node),
			})
		}
	}
}

// handleFromImport processes 'from m import x [as y], ...'.
func (w *walker) handleFromImport(node *sitter.Node) {
	var modulePath string
	sawImport := false

	bind := func(name, alias string) {
		target := ast.Qualify(modulePath, name)
		local := alias
		if local == "" {
			local = name
		}
		w.table[local] = SymbolOrigin{Kind: OriginImportAlias, QualifiedName: target}
		w.emit(UsageFact{
			Kind:       FactImport,
			SymbolName: target,
			Base:       Unknown(),
			Location:   w.location(node),
			Expr:       w.text(node),
		})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			modulePath = w.text(child)
		case "dotted_name":
			if !sawImport {
				modulePath = w.text(child)
			} else {
				bind(w.text(child), "")
			}
		case "aliased_import":
			var name, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					name = w.text(grandchild)
				case "identifier":
					alias = w.text(grandchild)
				}
			}
			if name != "" {
				bind(name, alias)
			}
		case "wildcard_import":
			// Wildcards bind nothing the analyzer can track.
		}
	}
}

// handleAssignment applies the single-assignment inference rule:
// name = Ctor(...) where Ctor is a known import alias binds name to
// InstanceOf(Ctor's target); any other right-hand side binds Unknown.
func (w *walker) handleAssignment(node *sitter.Node, depth int) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")

	// Annotated declarations without a value ("x: int") have no right side.
	if right == nil {
		return
	}

	if left != nil && left.Type() == "identifier" {
		name := w.text(left)
		if right.Type() == "call" {
			if origin, ctor := w.resolveCallee(right); origin.Kind == OriginImportAlias {
				w.table[name] = SymbolOrigin{Kind: OriginInstanceOf, QualifiedName: origin.QualifiedName}
				w.emit(UsageFact{
					Kind:       FactInstantiation,
					SymbolName: ctor,
					Base:       origin,
					Args:       w.callArgs(right),
					Location:   w.location(right),
					Expr:       w.text(right),
				})
				// Facts inside the arguments still count.
				if args := right.ChildByFieldName("arguments"); args != nil {
					w.walk(args, depth+1)
				}
				return
			}
			w.table[name] = Unknown()
			w.handleCall(right, depth)
			return
		}
		w.table[name] = Unknown()
		w.walk(right, depth+1)
		return
	}

	// Non-identifier targets (tuple unpacking, subscripts, attributes):
	// nothing is bound, but both sides may still contain facts.
	if left != nil {
		w.walk(left, depth+1)
	}
	w.walk(right, depth+1)
}

// resolveCallee inspects a call's function expression against the table.
// Returns the origin of the base and the bare callee name.
func (w *walker) resolveCallee(call *sitter.Node) (SymbolOrigin, string) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return Unknown(), ""
	}
	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if origin, ok := w.table[name]; ok && origin.Kind == OriginImportAlias {
			return origin, name
		}
		return Unknown(), name
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return Unknown(), ""
		}
		if obj.Type() == "identifier" {
			if origin, ok := w.table[w.text(obj)]; ok && origin.Kind == OriginImportAlias {
				// Alias.Member(...): the member's qualified target.
				return SymbolOrigin{
					Kind:          OriginImportAlias,
					QualifiedName: ast.Qualify(origin.QualifiedName, w.text(attr)),
				}, w.text(attr)
			}
		}
		return Unknown(), w.text(attr)
	}
	return Unknown(), ""
}

// handleCall emits a method-call or function-call fact for one call node.
func (w *walker) handleCall(node *sitter.Node, depth int) {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")

	if fn != nil {
		switch fn.Type() {
		case "identifier":
			name := w.text(fn)
			origin := w.table[name]
			if origin.Kind == "" {
				origin = Unknown()
			}
			w.emit(UsageFact{
				Kind:       FactFunctionCall,
				SymbolName: name,
				Base:       origin,
				Args:       w.callArgs(node),
				Location:   w.location(node),
				Expr:       w.text(node),
			})
		case "attribute":
			obj := fn.ChildByFieldName("object")
			attr := fn.ChildByFieldName("attribute")
			if obj != nil && attr != nil {
				base := Unknown()
				kind := FactMethodCall
				if obj.Type() == "identifier" {
					if origin, ok := w.table[w.text(obj)]; ok {
						base = origin
						if origin.Kind == OriginImportAlias {
							// module.func(...) or Alias.method(...): the
							// validator decides which it is.
							kind = FactFunctionCall
						}
					}
				} else {
					// Nested base expressions may contain facts of their own.
					w.walk(obj, depth+1)
				}
				w.emit(UsageFact{
					Kind:       kind,
					SymbolName: w.text(attr),
					Base:       base,
					Args:       w.callArgs(node),
					Location:   w.location(node),
					Expr:       w.text(node),
				})
			}
		default:
			w.walk(fn, depth+1)
		}
	}

	if args != nil {
		w.walk(args, depth+1)
	}
}

// handleAttribute emits an attribute-access fact for one attribute node
// reached outside call-function position.
func (w *walker) handleAttribute(node *sitter.Node, depth int) {
	obj := node.ChildByFieldName("object")
	attr := node.ChildByFieldName("attribute")
	if obj == nil || attr == nil {
		return
	}

	base := Unknown()
	if obj.Type() == "identifier" {
		if origin, ok := w.table[w.text(obj)]; ok {
			base = origin
		}
	} else {
		w.walk(obj, depth+1)
	}

	w.emit(UsageFact{
		Kind:       FactAttributeAccess,
		SymbolName: w.text(attr),
		Base:       base,
		Location:   w.location(node),
		Expr:       w.text(node),
	})
}

// callArgs extracts the argument shapes of a call.
func (w *walker) callArgs(call *sitter.Node) []ArgSpec {
	argsNode := call.ChildByFieldName("arguments")
	if argsNode == nil {
		return nil
	}
	var args []ArgSpec
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		child := argsNode.Child(i)
		switch child.Type() {
		case "(", ")", ",", "comment":
			continue
		case "keyword_argument":
			name := child.ChildByFieldName("name")
			if name != nil {
				args = append(args, ArgSpec{Keyword: w.text(name)})
			}
		case "list_splat", "dictionary_splat":
			args = append(args, ArgSpec{IsSplat: true})
		default:
			args = append(args, ArgSpec{})
		}
	}
	return args
}
