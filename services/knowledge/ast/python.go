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

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonExtractorOption configures a PythonExtractor instance.
type PythonExtractorOption func(*PythonExtractor)

// WithMaxFileSize sets the maximum file size the extractor will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Must be positive.
func WithMaxFileSize(bytes int64) PythonExtractorOption {
	return func(e *PythonExtractor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// PythonExtractor implements the Extractor interface for Python source code.
//
// Description:
//
//	PythonExtractor uses tree-sitter to parse Python source files and extract
//	classes, methods, attributes, module functions, and imports. Each Extract
//	call creates its own tree-sitter parser instance internally, so a single
//	PythonExtractor is safe for concurrent use across goroutines.
//
// Example:
//
//	ex := NewPythonExtractor()
//	bundle, err := ex.Extract(ctx, []byte("class A: pass"), "pkg/a.py", "pkg.a")
type PythonExtractor struct {
	maxFileSize int64
}

// NewPythonExtractor creates a new PythonExtractor with the given options.
func NewPythonExtractor(opts ...PythonExtractorOption) *PythonExtractor {
	e := &PythonExtractor{
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Language returns the canonical language name for this extractor.
func (e *PythonExtractor) Language() string {
	return "python"
}

// Extensions returns the file extensions this extractor handles.
func (e *PythonExtractor) Extensions() []string {
	return []string{".py", ".pyi"}
}

// Extract parses Python source into a FileBundle.
//
// Description:
//
//	Parses the content with tree-sitter and walks the tree collecting
//	classes (with raw base-class names and abstractness), methods with
//	parameter specs, class attributes (class-body declarations plus
//	self.attr assignments inside method bodies), module-level functions,
//	and all import forms. Qualified names derive from moduleQName plus
//	the nesting path, so the same source always yields the same names.
//
//	The extractor is error-tolerant: syntax errors inside the file become
//	Diagnostics on a partial bundle rather than a failed call.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing;
//     tree-sitter parsing itself cannot be interrupted mid-parse.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - filePath: Path relative to the repository root, forward slashes.
//   - moduleQName: Dotted module qualified name for this file.
//
// Outputs:
//   - *FileBundle: Extracted entities. Never nil on success; may carry
//     Diagnostics for recoverable problems.
//   - error: ErrFileTooLarge, ErrInvalidContent, ErrParse, or a context error.
//
// Thread Safety: Safe for concurrent use.
func (e *PythonExtractor) Extract(ctx context.Context, content []byte, filePath, moduleQName string) (*FileBundle, error) {
	ctx, span := startExtractSpan(ctx, "python", filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("extract canceled before start: %w", err)
	}

	if int64(len(content)) > e.maxFileSize {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), e.maxFileSize)
	}

	if len(content) > WarnFileSize {
		slog.Warn("extracting large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("%w: %s", ErrInvalidContent, filePath)
	}

	hash := sha256.Sum256(content)

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("%w: tree-sitter: %v", ErrParse, err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("extract canceled after parse: %w", err)
	}

	bundle := &FileBundle{
		FilePath:      filePath,
		ModuleQName:   moduleQName,
		Language:      "python",
		Hash:          hex.EncodeToString(hash[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
	}

	root := tree.RootNode()
	if root == nil {
		bundle.Diagnostics = append(bundle.Diagnostics, Diagnostic{
			FilePath: filePath,
			Message:  "tree-sitter returned nil root node",
		})
		return bundle, nil
	}

	if root.HasError() {
		bundle.Diagnostics = append(bundle.Diagnostics, Diagnostic{
			FilePath: filePath,
			Message:  "source contains syntax errors; extraction is partial",
		})
	}

	e.extractImports(root, content, filePath, bundle, 0)
	e.extractTopLevel(root, content, filePath, moduleQName, bundle)

	if err := bundle.Validate(); err != nil {
		recordExtractMetrics("python", time.Since(start), nil, false)
		return nil, fmt.Errorf("bundle validation failed: %w", err)
	}

	setExtractSpanResult(span, len(bundle.Classes), len(bundle.Functions), len(bundle.Diagnostics))
	recordExtractMetrics("python", time.Since(start), bundle, true)

	return bundle, nil
}

// extractImports walks the entire tree collecting import statements.
// Inline imports inside function bodies count: Python uses them to break
// circular dependencies and they still bind names a script may rely on.
func (e *PythonExtractor) extractImports(node *sitter.Node, content []byte, filePath string, bundle *FileBundle, depth int) {
	if node == nil || depth > MaxTraversalDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			e.processImportStatement(child, content, bundle)
		case "import_from_statement":
			e.processImportFromStatement(child, content, bundle)
		default:
			e.extractImports(child, content, filePath, bundle, depth+1)
		}
	}
}

// processImportStatement handles 'import foo' or 'import foo as bar'.
func (e *PythonExtractor) processImportStatement(node *sitter.Node, content []byte, bundle *FileBundle) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			bundle.Imports = append(bundle.Imports, ImportDecl{
				ModulePath: nodeText(child, content),
				Line:       int(node.StartPoint().Row + 1),
			})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					path = nodeText(grandchild, content)
				case "identifier":
					alias = nodeText(grandchild, content)
				}
			}
			if path != "" {
				bundle.Imports = append(bundle.Imports, ImportDecl{
					ModulePath: path,
					Alias:      alias,
					Line:       int(node.StartPoint().Row + 1),
				})
			}
		}
	}
}

// processImportFromStatement handles 'from x import y' style imports.
func (e *PythonExtractor) processImportFromStatement(node *sitter.Node, content []byte, bundle *FileBundle) {
	var modulePath string
	var names []string
	var alias string
	var isWildcard, isRelative bool
	var sawImport bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			isRelative = true
			var prefix, name string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "import_prefix":
					prefix = nodeText(grandchild, content)
				case "dotted_name":
					name = nodeText(grandchild, content)
				}
			}
			modulePath = prefix + name
		case "dotted_name":
			text := nodeText(child, content)
			if !sawImport {
				modulePath = text
			} else {
				names = append(names, text)
			}
		case "aliased_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					names = append(names, nodeText(grandchild, content))
				case "identifier":
					alias = nodeText(grandchild, content)
				}
			}
		case "wildcard_import":
			isWildcard = true
		}
	}

	if modulePath == "" && !isRelative {
		return
	}
	bundle.Imports = append(bundle.Imports, ImportDecl{
		ModulePath: modulePath,
		Names:      names,
		Alias:      alias,
		IsWildcard: isWildcard,
		IsRelative: isRelative,
		Line:       int(node.StartPoint().Row + 1),
	})
}

// extractTopLevel collects classes and functions declared at module scope.
func (e *PythonExtractor) extractTopLevel(root *sitter.Node, content []byte, filePath, moduleQName string, bundle *FileBundle) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "class_definition":
			if cls := e.processClass(child, content, filePath, moduleQName, nil); cls != nil {
				bundle.Classes = append(bundle.Classes, cls)
			}
		case "function_definition":
			if fn := e.processFunction(child, content, moduleQName, nil); fn != nil {
				bundle.Functions = append(bundle.Functions, fn)
			}
		case "decorated_definition":
			decorators := e.extractDecorators(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				def := child.Child(j)
				switch def.Type() {
				case "class_definition":
					if cls := e.processClass(def, content, filePath, moduleQName, decorators); cls != nil {
						bundle.Classes = append(bundle.Classes, cls)
					}
				case "function_definition":
					if fn := e.processFunction(def, content, moduleQName, decorators); fn != nil {
						bundle.Functions = append(bundle.Functions, fn)
					}
				}
			}
		}
	}
}

// processClass extracts one class definition with members.
func (e *PythonExtractor) processClass(node *sitter.Node, content []byte, filePath, moduleQName string, decorators []string) *ClassEntity {
	var name string
	var bases []string
	var bodyNode *sitter.Node
	metaclassAbstract := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = nodeText(child, content)
		case "argument_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				arg := child.Child(j)
				switch arg.Type() {
				case "identifier", "attribute":
					// Dotted bases stay as written; the graph builder
					// resolves them or keeps them external.
					bases = append(bases, nodeText(arg, content))
				case "subscript":
					// Generic[T], Protocol[T]: base name before the bracket.
					if base := subscriptBaseName(arg, content); base != "" {
						bases = append(bases, base)
					}
				case "keyword_argument":
					if isAbstractMetaclass(arg, content) {
						metaclassAbstract = true
					}
				}
			}
		case "block":
			bodyNode = child
		}
	}

	if name == "" {
		return nil
	}

	cls := &ClassEntity{
		Name:          name,
		QualifiedName: Qualify(moduleQName, name),
		BaseNames:     bases,
		StartLine:     int(node.StartPoint().Row + 1),
		EndLine:       int(node.EndPoint().Row + 1),
	}

	if bodyNode != nil {
		cls.DocComment = extractDocstring(bodyNode, content)
		e.extractClassMembers(bodyNode, content, filePath, cls)
	}

	cls.IsAbstract = metaclassAbstract || isAbstractBases(bases) || hasAbstractMethod(cls)

	return cls
}

// extractClassMembers collects methods and attributes from a class body.
func (e *PythonExtractor) extractClassMembers(body *sitter.Node, content []byte, filePath string, cls *ClassEntity) {
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		switch child.Type() {
		case "function_definition":
			if m := e.processMethod(child, content, cls, nil); m != nil {
				cls.Methods = append(cls.Methods, m)
			}
		case "decorated_definition":
			decorators := e.extractDecorators(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				def := child.Child(j)
				if def.Type() == "function_definition" {
					if m := e.processMethod(def, content, cls, decorators); m != nil {
						cls.Methods = append(cls.Methods, m)
					}
				}
			}
		case "expression_statement":
			if child.ChildCount() > 0 {
				assign := child.Child(0)
				if assign.Type() == "assignment" || assign.Type() == "augmented_assignment" {
					if attr := e.processClassAttribute(assign, content, cls); attr != nil {
						cls.Attributes = appendAttribute(cls.Attributes, attr)
					}
				}
			}
		}
	}
}

// processClassAttribute extracts a class-level variable declaration.
func (e *PythonExtractor) processClassAttribute(node *sitter.Node, content []byte, cls *ClassEntity) *AttributeEntity {
	var name, typeHint string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = nodeText(child, content)
			}
		case "type":
			typeHint = nodeText(child, content)
		}
	}
	if name == "" {
		return nil
	}
	return &AttributeEntity{
		Name:          name,
		QualifiedName: Qualify(cls.QualifiedName, name),
		TypeHint:      typeHint,
		Line:          int(node.StartPoint().Row + 1),
	}
}

// processMethod extracts a method, its parameters, and any self.attr
// assignments in its body (instance attributes).
func (e *PythonExtractor) processMethod(node *sitter.Node, content []byte, cls *ClassEntity, decorators []string) *MethodEntity {
	var name string
	var paramsNode, bodyNode *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = nodeText(child, content)
		case "parameters":
			paramsNode = child
		case "block":
			bodyNode = child
		}
	}

	if name == "" {
		return nil
	}

	isStatic := false
	isAbstract := false
	for _, dec := range decorators {
		switch trimDecorator(dec) {
		case "staticmethod":
			isStatic = true
		case "abstractmethod":
			isAbstract = true
		}
	}

	m := &MethodEntity{
		Name:          name,
		QualifiedName: Qualify(cls.QualifiedName, name),
		IsStatic:      isStatic,
		IsAbstract:    isAbstract,
		StartLine:     int(node.StartPoint().Row + 1),
		EndLine:       int(node.EndPoint().Row + 1),
	}

	if paramsNode != nil {
		m.Params = extractParams(paramsNode, content, !isStatic)
	}

	// Instance attributes declared as self.x = ... anywhere in the body.
	if bodyNode != nil {
		for _, attrName := range selfAssignments(bodyNode, content, 0) {
			cls.Attributes = appendAttribute(cls.Attributes, &AttributeEntity{
				Name:          attrName,
				QualifiedName: Qualify(cls.QualifiedName, attrName),
				Line:          int(bodyNode.StartPoint().Row + 1),
			})
		}
	}

	return m
}

// processFunction extracts a module-level function.
func (e *PythonExtractor) processFunction(node *sitter.Node, content []byte, moduleQName string, decorators []string) *FunctionEntity {
	var name, docstring string
	var paramsNode *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = nodeText(child, content)
		case "parameters":
			paramsNode = child
		case "block":
			docstring = extractDocstring(child, content)
		}
	}

	if name == "" {
		return nil
	}

	fn := &FunctionEntity{
		Name:          name,
		QualifiedName: Qualify(moduleQName, name),
		DocComment:    docstring,
		StartLine:     int(node.StartPoint().Row + 1),
		EndLine:       int(node.EndPoint().Row + 1),
	}
	if paramsNode != nil {
		fn.Params = extractParams(paramsNode, content, false)
	}
	return fn
}

// extractDecorators returns decorator names from a decorated_definition.
func (e *PythonExtractor) extractDecorators(node *sitter.Node, content []byte) []string {
	var decorators []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			grandchild := child.Child(j)
			switch grandchild.Type() {
			case "identifier", "attribute":
				decorators = append(decorators, nodeText(grandchild, content))
			case "call":
				// @decorator(args): record the callee name only.
				fn := grandchild.ChildByFieldName("function")
				if fn != nil {
					decorators = append(decorators, nodeText(fn, content))
				}
			}
		}
	}
	return decorators
}

// extractParams converts a tree-sitter parameters node into ParamSpecs.
//
// Description:
//
//	Walks the parameter list in declaration order. Parameters before a bare
//	"*" separator are positional; after it, keyword-only. *args and **kwargs
//	become variadic ParamSpecs. For methods (dropReceiver=true), a leading
//	self or cls parameter is dropped and positions renumber from zero.
func extractParams(node *sitter.Node, content []byte, dropReceiver bool) []ParamSpec {
	var params []ParamSpec
	kind := ParamPositional
	position := 0
	first := true

	add := func(name string, k ParamKind, hasDefault bool) {
		if first && dropReceiver && (name == "self" || name == "cls") {
			first = false
			return
		}
		first = false
		params = append(params, ParamSpec{
			Name:       name,
			Position:   position,
			Kind:       k,
			HasDefault: hasDefault,
		})
		position++
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			add(nodeText(child, content), kind, false)
		case "typed_parameter":
			if id := firstChildOfType(child, "identifier"); id != nil {
				add(nodeText(id, content), kind, false)
			}
		case "default_parameter", "typed_default_parameter":
			if id := firstChildOfType(child, "identifier"); id != nil {
				add(nodeText(id, content), kind, true)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if id := firstChildOfType(child, "identifier"); id != nil {
				add(nodeText(id, content), ParamVariadic, false)
			}
			// Everything after *args is keyword-only.
			kind = ParamKeyword
		case "keyword_separator":
			kind = ParamKeyword
		case "positional_separator":
			// "/" marks earlier params positional-only; kind is unchanged.
		}
	}
	return params
}

// selfAssignments finds attribute names assigned on self within a body.
func selfAssignments(node *sitter.Node, content []byte, depth int) []string {
	if node == nil || depth > MaxTraversalDepth {
		return nil
	}
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "assignment" || child.Type() == "augmented_assignment" {
			left := child.ChildByFieldName("left")
			if left != nil && left.Type() == "attribute" {
				obj := left.ChildByFieldName("object")
				attr := left.ChildByFieldName("attribute")
				if obj != nil && attr != nil && nodeText(obj, content) == "self" {
					names = append(names, nodeText(attr, content))
				}
			}
		}
		names = append(names, selfAssignments(child, content, depth+1)...)
	}
	return names
}

// extractDocstring returns the docstring of a block, if present.
func extractDocstring(block *sitter.Node, content []byte) string {
	for i := 0; i < int(block.ChildCount()); i++ {
		child := block.Child(i)
		if child.Type() == "expression_statement" && child.ChildCount() > 0 {
			strNode := child.Child(0)
			if strNode.Type() == "string" {
				return stripStringQuotes(nodeText(strNode, content))
			}
		}
		if child.Type() != "comment" {
			return ""
		}
	}
	return ""
}

// stripStringQuotes removes surrounding quote characters from a string literal.
func stripStringQuotes(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// subscriptBaseName extracts "Generic" from "Generic[T]".
func subscriptBaseName(node *sitter.Node, content []byte) string {
	value := node.ChildByFieldName("value")
	if value == nil {
		if node.ChildCount() > 0 {
			value = node.Child(0)
		} else {
			return ""
		}
	}
	return nodeText(value, content)
}

// isAbstractMetaclass reports whether a keyword argument is metaclass=ABCMeta.
func isAbstractMetaclass(node *sitter.Node, content []byte) bool {
	text := nodeText(node, content)
	if !strings.HasPrefix(text, "metaclass") {
		return false
	}
	return strings.Contains(text, "ABCMeta")
}

// isAbstractBases reports whether the base list names ABC.
func isAbstractBases(bases []string) bool {
	for _, b := range bases {
		if b == "ABC" || b == "abc.ABC" {
			return true
		}
	}
	return false
}

// hasAbstractMethod reports whether any declared method is abstract.
func hasAbstractMethod(cls *ClassEntity) bool {
	for _, m := range cls.Methods {
		if m.IsAbstract {
			return true
		}
	}
	return false
}

// appendAttribute adds an attribute unless one with the same name exists.
func appendAttribute(attrs []*AttributeEntity, attr *AttributeEntity) []*AttributeEntity {
	for _, existing := range attrs {
		if existing.Name == attr.Name {
			return attrs
		}
	}
	return append(attrs, attr)
}

// trimDecorator reduces a possibly-dotted decorator to its final segment.
func trimDecorator(dec string) string {
	if idx := strings.LastIndex(dec, "."); idx >= 0 {
		return dec[idx+1:]
	}
	return dec
}

// firstChildOfType returns the first direct child with the given type.
func firstChildOfType(node *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child != nil && child.Type() == typ {
			return child
		}
	}
	return nil
}

// nodeText returns the source text covered by a node.
func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
