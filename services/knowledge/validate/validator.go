// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/ast"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/script"
)

const (
	// DefaultMaxInheritanceDepth bounds the base-class walk. Real Python
	// hierarchies rarely exceed single digits; the bound exists so a
	// pathological or cyclic graph cannot stall validation.
	DefaultMaxInheritanceDepth = 20

	// DefaultCacheSize is the per-call lookup cache capacity.
	DefaultCacheSize = 2048
)

// Validator classifies usage facts against a graph.Store.
//
// Description:
//
//	Each fact is resolved independently: imports against module symbol
//	tables, instantiations against classes and their constructors, method
//	calls and attribute accesses against a bounded inheritance walk, and
//	function calls against module functions with a class fallback. Facts
//	are validated concurrently but results come back in source order.
//
// Thread Safety: safe for concurrent use. All per-call state lives in a
// private lookup cache created inside ValidateFacts.
type Validator struct {
	store    graph.Store
	logger   *slog.Logger
	workers  int64
	maxDepth int
	cacheLen int
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorWorkers bounds concurrent fact lookups.
func WithValidatorWorkers(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.workers = int64(n)
		}
	}
}

// WithMaxInheritanceDepth overrides the base-class walk bound.
func WithMaxInheritanceDepth(depth int) ValidatorOption {
	return func(v *Validator) {
		if depth > 0 {
			v.maxDepth = depth
		}
	}
}

// WithValidatorLogger overrides the default slog logger.
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a Validator backed by the given store.
func NewValidator(store graph.Store, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:    store,
		logger:   slog.Default(),
		workers:  int64(runtime.NumCPU()),
		maxDepth: DefaultMaxInheritanceDepth,
		cacheLen: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateFacts classifies every fact in the analysis.
//
// Description:
//
//	Facts are fanned out over a bounded worker pool, collected by index,
//	and sorted by source location, so the outcome is deterministic for a
//	given graph state. Store unavailability never fails the call: the
//	affected facts come back UNCERTAIN and Outcome.Degraded is set.
//
// Inputs:
//   - ctx: cancellation. A canceled context aborts and returns its error.
//   - analysis: the script analyzer's fact list.
//
// Outputs:
//   - *Outcome: one result per fact, in source order.
//   - error: context cancellation only.
func (v *Validator) ValidateFacts(ctx context.Context, analysis *script.Analysis) (*Outcome, error) {
	ctx, span := startValidateSpan(ctx, analysis.ScriptPath, len(analysis.Facts))
	defer span.End()
	start := time.Now()

	if analysis.Unparseable {
		return &Outcome{Results: []ValidationResult{{
			Fact:       script.UsageFact{Kind: script.FactImport, SymbolName: analysis.ScriptPath},
			Status:     StatusNotFound,
			Confidence: confNotFound,
			Message:    "script could not be parsed; no usage facts extracted",
		}}}, nil
	}

	cache, err := newLookupCache(v.store, v.cacheLen)
	if err != nil {
		return nil, fmt.Errorf("creating lookup cache: %w", err)
	}

	results := make([]ValidationResult, len(analysis.Facts))
	var degraded atomic.Bool
	sem := semaphore.NewWeighted(v.workers)
	for i := range analysis.Facts {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(idx int) {
			defer sem.Release(1)
			res := v.classify(ctx, cache, analysis.Facts[idx])
			if res.Status == StatusUncertain && strings.Contains(res.Evidence, evidenceDegraded) {
				degraded.Store(true)
			}
			results[idx] = res
		}(i)
	}
	if err := sem.Acquire(ctx, v.workers); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Fact.Location != results[j].Fact.Location {
			return results[i].Fact.Location.Less(results[j].Fact.Location)
		}
		return results[i].Fact.SymbolName < results[j].Fact.SymbolName
	})

	outcome := &Outcome{Results: results, Degraded: degraded.Load()}
	recordValidateMetrics(time.Since(start), results)
	v.logger.InfoContext(ctx, "validation complete",
		"script", analysis.ScriptPath,
		"facts", len(results),
		"degraded", outcome.Degraded,
		"elapsed", time.Since(start))
	return outcome, nil
}

const evidenceDegraded = "graph store unavailable"

// classify routes one fact to its kind-specific resolver.
func (v *Validator) classify(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	switch fact.Kind {
	case script.FactImport:
		return v.classifyImport(ctx, cache, fact)
	case script.FactInstantiation:
		return v.classifyInstantiation(ctx, cache, fact)
	case script.FactMethodCall:
		return v.classifyMethodCall(ctx, cache, fact)
	case script.FactAttributeAccess:
		return v.classifyAttributeAccess(ctx, cache, fact)
	case script.FactFunctionCall:
		return v.classifyFunctionCall(ctx, cache, fact)
	default:
		return result(fact, StatusUncertain, confUncertainBase,
			"unrecognized fact kind", "fact kind not understood by this validator")
	}
}

// classifyImport checks the imported path against the graph. An import of
// a whole module is VALID when the module exists; an import of a symbol is
// VALID when the owning module exports it, INVALID when the module exists
// without it, and UNCERTAIN when the module was never ingested.
func (v *Validator) classifyImport(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	target := fact.SymbolName
	if strings.HasPrefix(target, ".") {
		return result(fact, StatusNotFound, confNotFound,
			"relative import outside a package", "relative imports cannot be resolved for a standalone script")
	}

	if _, err := cache.module(ctx, target); err == nil {
		return result(fact, StatusValid, confValidDirect,
			fmt.Sprintf("module %s present in graph", target), "")
	} else if storeDown(err) {
		return degradedResult(fact)
	}

	owner, symbol := splitQualified(target)
	if owner == "" {
		return result(fact, StatusUncertain, confUncertainModule,
			fmt.Sprintf("module %s not ingested", target),
			fmt.Sprintf("no knowledge of module %q; ingest its repository to validate", target))
	}

	symbols, err := cache.moduleSymbols(ctx, owner)
	switch {
	case err == nil:
		if containsSymbol(symbols, symbol) {
			return result(fact, StatusValid, confValidDirect,
				fmt.Sprintf("module %s exports %s", owner, symbol), "")
		}
		return result(fact, StatusInvalid, confInvalidExport,
			fmt.Sprintf("module %s has no export %s", owner, symbol),
			fmt.Sprintf("%q is not defined in module %q", symbol, owner))
	case storeDown(err):
		return degradedResult(fact)
	default:
		return result(fact, StatusUncertain, confUncertainModule,
			fmt.Sprintf("module %s not ingested", owner),
			fmt.Sprintf("no knowledge of module %q; ingest its repository to validate", owner))
	}
}

// classifyInstantiation validates Ctor(...) against the graph. When the
// target resolves to a class, the arguments are checked against its
// __init__ signature (walking the ancestry when the class does not define
// one). A callable that turns out to be a module function is validated as
// a call instead.
func (v *Validator) classifyInstantiation(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	if fact.Base.Kind != script.OriginImportAlias {
		return result(fact, StatusUncertain, confUncertainBase,
			"constructor origin unknown", "cannot determine which class is being constructed")
	}
	return v.classifyCallable(ctx, cache, fact, fact.Base.QualifiedName)
}

// classifyMethodCall validates obj.method(...) for an instance of a known
// class via the inheritance walk, checking arguments when the method is
// found.
func (v *Validator) classifyMethodCall(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	if fact.Base.Kind != script.OriginInstanceOf {
		return result(fact, StatusUncertain, confUncertainBase,
			"receiver type unknown", "the receiver's type could not be inferred; cannot validate the call")
	}
	cls, err := cache.class(ctx, fact.Base.QualifiedName)
	switch {
	case storeDown(err):
		return degradedResult(fact)
	case err != nil:
		return result(fact, StatusUncertain, confUncertainModule,
			fmt.Sprintf("class %s not in graph", fact.Base.QualifiedName),
			fmt.Sprintf("class %q was never ingested; cannot validate members", fact.Base.QualifiedName))
	}

	found := v.walkMembers(ctx, cache, cls, fact.SymbolName)
	if found.err != nil {
		if storeDown(found.err) {
			return degradedResult(fact)
		}
		return result(fact, StatusUncertain, confUncertainExternal,
			found.evidence, "inheritance chain could not be fully resolved")
	}
	if found.method != nil {
		if ok, reason := checkArgs(fact.Args, found.method.Params); !ok {
			return result(fact, StatusInvalid, confInvalidArgs,
				fmt.Sprintf("method %s found on %s but %s", fact.SymbolName, found.owner, reason),
				fmt.Sprintf("%s.%s exists but the call is incompatible: %s", cls.Name, fact.SymbolName, reason))
		}
		return validMember(fact, found, "method")
	}
	if found.attribute != nil {
		// Calling an attribute is plausible when it holds a callable, which
		// the graph does not track. Existence is the strongest claim here.
		return validMember(fact, found, "attribute")
	}
	if found.external {
		return result(fact, StatusUncertain, confUncertainExternal,
			fmt.Sprintf("member %s not found before ancestry of %s left the graph", fact.SymbolName, cls.QualifiedName),
			fmt.Sprintf("%q may be inherited from an external base class", fact.SymbolName))
	}
	return result(fact, StatusInvalid, confInvalidMember,
		fmt.Sprintf("member %s absent from %s and its full ancestry", fact.SymbolName, cls.QualifiedName),
		fmt.Sprintf("class %q has no method or attribute %q", cls.Name, fact.SymbolName))
}

// classifyAttributeAccess validates obj.attr for instances (inheritance
// walk, methods count as attributes) and module.attr for import aliases.
func (v *Validator) classifyAttributeAccess(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	switch fact.Base.Kind {
	case script.OriginInstanceOf:
		cls, err := cache.class(ctx, fact.Base.QualifiedName)
		switch {
		case storeDown(err):
			return degradedResult(fact)
		case err != nil:
			return result(fact, StatusUncertain, confUncertainModule,
				fmt.Sprintf("class %s not in graph", fact.Base.QualifiedName),
				fmt.Sprintf("class %q was never ingested; cannot validate members", fact.Base.QualifiedName))
		}
		found := v.walkMembers(ctx, cache, cls, fact.SymbolName)
		if found.err != nil {
			if storeDown(found.err) {
				return degradedResult(fact)
			}
			return result(fact, StatusUncertain, confUncertainExternal,
				found.evidence, "inheritance chain could not be fully resolved")
		}
		if found.attribute != nil {
			return validMember(fact, found, "attribute")
		}
		if found.method != nil {
			// Accessing a bound method without calling it.
			return validMember(fact, found, "method")
		}
		if found.external {
			return result(fact, StatusUncertain, confUncertainExternal,
				fmt.Sprintf("member %s not found before ancestry of %s left the graph", fact.SymbolName, cls.QualifiedName),
				fmt.Sprintf("%q may be inherited from an external base class", fact.SymbolName))
		}
		return result(fact, StatusInvalid, confInvalidMember,
			fmt.Sprintf("member %s absent from %s and its full ancestry", fact.SymbolName, cls.QualifiedName),
			fmt.Sprintf("class %q has no attribute %q", cls.Name, fact.SymbolName))

	case script.OriginImportAlias:
		owner := fact.Base.QualifiedName
		symbols, err := cache.moduleSymbols(ctx, owner)
		switch {
		case err == nil:
			if containsSymbol(symbols, fact.SymbolName) {
				return result(fact, StatusValid, confValidDirect,
					fmt.Sprintf("module %s exports %s", owner, fact.SymbolName), "")
			}
			// Module-level variables are not modeled, so absence from the
			// symbol table does not disprove the access.
			return result(fact, StatusUncertain, confUncertainUnmodeled,
				fmt.Sprintf("module %s has no class or function %s", owner, fact.SymbolName),
				fmt.Sprintf("%q is not a known class or function of %q; it may be a module variable", fact.SymbolName, owner))
		case storeDown(err):
			return degradedResult(fact)
		default:
			// The alias may point at a class rather than a module.
			if cls, cerr := cache.class(ctx, owner); cerr == nil {
				instFact := fact
				instFact.Base = script.SymbolOrigin{Kind: script.OriginInstanceOf, QualifiedName: cls.QualifiedName}
				return v.classifyAttributeAccess(ctx, cache, instFact)
			} else if storeDown(cerr) {
				return degradedResult(fact)
			}
			return result(fact, StatusUncertain, confUncertainModule,
				fmt.Sprintf("module %s not ingested", owner),
				fmt.Sprintf("no knowledge of %q; ingest its repository to validate", owner))
		}

	default:
		return result(fact, StatusUncertain, confUncertainBase,
			"receiver type unknown", "the receiver's type could not be inferred; cannot validate the access")
	}
}

// classifyFunctionCall validates a plain or module-qualified call.
func (v *Validator) classifyFunctionCall(ctx context.Context, cache *lookupCache, fact script.UsageFact) ValidationResult {
	if fact.Base.Kind != script.OriginImportAlias {
		return result(fact, StatusUncertain, confUncertainBase,
			"callee origin unknown", "cannot determine which function is being called")
	}
	target := fact.Base.QualifiedName
	if target != fact.SymbolName && !strings.HasSuffix(target, "."+fact.SymbolName) {
		target = target + "." + fact.SymbolName
	}
	return v.classifyCallable(ctx, cache, fact, target)
}

// classifyCallable resolves a fully-qualified callable: module function
// first, then class (validated as a construction), then method on a class
// reached through the qualifier, then missing-export / unknown-module.
func (v *Validator) classifyCallable(ctx context.Context, cache *lookupCache, fact script.UsageFact, target string) ValidationResult {
	fn, err := cache.function(ctx, target)
	switch {
	case err == nil:
		if ok, reason := checkArgs(fact.Args, fn.Params); !ok {
			return result(fact, StatusInvalid, confInvalidArgs,
				fmt.Sprintf("function %s found but %s", target, reason),
				fmt.Sprintf("%q exists but the call is incompatible: %s", target, reason))
		}
		return result(fact, StatusValid, confValidDirect,
			fmt.Sprintf("function %s present in graph", target), "")
	case storeDown(err):
		return degradedResult(fact)
	}

	cls, err := cache.class(ctx, target)
	switch {
	case err == nil:
		return v.checkConstruction(ctx, cache, fact, cls)
	case storeDown(err):
		return degradedResult(fact)
	}

	owner, member := splitQualified(target)
	if owner != "" {
		if ownerCls, cerr := cache.class(ctx, owner); cerr == nil {
			methodFact := fact
			methodFact.SymbolName = member
			methodFact.Base = script.SymbolOrigin{Kind: script.OriginInstanceOf, QualifiedName: ownerCls.QualifiedName}
			return v.classifyMethodCall(ctx, cache, methodFact)
		} else if storeDown(cerr) {
			return degradedResult(fact)
		}

		if _, merr := cache.module(ctx, owner); merr == nil {
			return result(fact, StatusInvalid, confInvalidExport,
				fmt.Sprintf("module %s has no export %s", owner, member),
				fmt.Sprintf("%q is not defined in module %q", member, owner))
		} else if storeDown(merr) {
			return degradedResult(fact)
		}
	}

	return result(fact, StatusUncertain, confUncertainModule,
		fmt.Sprintf("no graph entity matches %s", target),
		fmt.Sprintf("%q resolves to nothing ingested; ingest its repository to validate", target))
}

// checkConstruction validates arguments against a class's __init__,
// walking the ancestry when the class does not define one itself.
func (v *Validator) checkConstruction(ctx context.Context, cache *lookupCache, fact script.UsageFact, cls *graph.Class) ValidationResult {
	found := v.walkMembers(ctx, cache, cls, "__init__")
	if found.err != nil {
		if storeDown(found.err) {
			return degradedResult(fact)
		}
		return result(fact, StatusUncertain, confUncertainExternal,
			found.evidence, "inheritance chain could not be fully resolved")
	}
	if found.method != nil {
		if ok, reason := checkArgs(fact.Args, found.method.Params); !ok {
			return result(fact, StatusInvalid, confInvalidArgs,
				fmt.Sprintf("class %s found but %s", cls.QualifiedName, reason),
				fmt.Sprintf("%q exists but its construction is incompatible: %s", cls.Name, reason))
		}
	}
	// No resolvable __init__ means the default constructor, which takes no
	// arguments, but an unresolved external base could define one. Either
	// way the class itself exists, which is what the fact asserts.
	return result(fact, StatusValid, confValidDirect,
		fmt.Sprintf("class %s present in graph", cls.QualifiedName), "")
}

// memberHit is the outcome of one inheritance walk.
type memberHit struct {
	method    *graph.Method
	attribute *graph.Attribute
	owner     string // qualified name of the defining class
	depth     int
	external  bool // chain left the graph before the member was found
	err       error
	evidence  string
}

// walkMembers searches cls and its ancestry for a member, breadth-first
// in declaration order, bounded by maxDepth and cycle-safe. When a base
// name could not be resolved at ingest time or resolves to a class absent
// from the graph, the hit is marked external: absence beyond that point
// is unprovable.
func (v *Validator) walkMembers(ctx context.Context, cache *lookupCache, cls *graph.Class, member string) memberHit {
	type frame struct {
		qname string
		depth int
	}
	queue := []frame{{qname: cls.QualifiedName, depth: 0}}
	seen := map[string]bool{cls.QualifiedName: true}
	hit := memberHit{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > v.maxDepth {
			hit.external = true
			continue
		}

		members, err := cache.classMembers(ctx, cur.qname)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				hit.external = true
				continue
			}
			hit.err = err
			hit.evidence = fmt.Sprintf("lookup of %s failed mid-walk", cur.qname)
			return hit
		}
		if m, ok := members.methods[member]; ok {
			hit.method = m
			hit.owner = cur.qname
			hit.depth = cur.depth
			return hit
		}
		if a, ok := members.attributes[member]; ok {
			hit.attribute = a
			hit.owner = cur.qname
			hit.depth = cur.depth
			return hit
		}

		node, err := cache.class(ctx, cur.qname)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				hit.external = true
				continue
			}
			hit.err = err
			hit.evidence = fmt.Sprintf("lookup of %s failed mid-walk", cur.qname)
			return hit
		}
		if len(node.ExternalBases) > 0 {
			hit.external = true
		}
		for _, base := range node.BaseClassNames {
			if !seen[base] {
				seen[base] = true
				queue = append(queue, frame{qname: base, depth: cur.depth + 1})
			}
		}
	}
	return hit
}

// checkArgs disproves a call against a signature where it can. Splat
// arguments make the call unprovable, so they disable the check, and any
// variadic parameter absorbs both overflow positionals and unknown
// keywords.
func checkArgs(args []script.ArgSpec, params []ast.ParamSpec) (bool, string) {
	var positional int
	keywords := make([]string, 0, len(args))
	for _, a := range args {
		if a.IsSplat {
			return true, ""
		}
		if a.Keyword == "" {
			positional++
		} else {
			keywords = append(keywords, a.Keyword)
		}
	}

	var capacity int
	variadic := false
	names := make(map[string]bool, len(params))
	for _, p := range params {
		names[p.Name] = true
		switch p.Kind {
		case ast.ParamVariadic:
			variadic = true
		case ast.ParamPositional:
			capacity++
		}
	}

	if !variadic && positional > capacity {
		return false, fmt.Sprintf("it accepts at most %d positional arguments, got %d", capacity, positional)
	}
	for _, kw := range keywords {
		if !names[kw] && !variadic {
			return false, fmt.Sprintf("it has no parameter %q", kw)
		}
	}
	return true, ""
}

func validMember(fact script.UsageFact, hit memberHit, kind string) ValidationResult {
	if hit.depth > 0 {
		return result(fact, StatusValid, confValidInherited,
			fmt.Sprintf("%s %s inherited from %s at depth %d", kind, fact.SymbolName, hit.owner, hit.depth), "")
	}
	return result(fact, StatusValid, confValidDirect,
		fmt.Sprintf("%s %s defined on %s", kind, fact.SymbolName, hit.owner), "")
}

func result(fact script.UsageFact, status Status, confidence float64, evidence, message string) ValidationResult {
	return ValidationResult{Fact: fact, Status: status, Confidence: confidence, Evidence: evidence, Message: message}
}

func degradedResult(fact script.UsageFact) ValidationResult {
	return result(fact, StatusUncertain, confUncertainDegraded,
		evidenceDegraded, "the knowledge graph store could not be reached; result is inconclusive")
}

// storeDown reports whether an error means the store could not answer,
// as opposed to answering "absent".
func storeDown(err error) bool {
	return err != nil && !errors.Is(err, graph.ErrNotFound)
}

// splitQualified splits "a.b.c" into ("a.b", "c"). A bare name yields an
// empty owner.
func splitQualified(qname string) (owner, name string) {
	idx := strings.LastIndex(qname, ".")
	if idx < 0 {
		return "", qname
	}
	return qname[:idx], qname[idx+1:]
}

func containsSymbol(symbols *graph.ModuleSymbols, name string) bool {
	for _, s := range symbols.Classes {
		if s == name {
			return true
		}
	}
	for _, s := range symbols.Functions {
		if s == name {
			return true
		}
	}
	for _, s := range symbols.Imports {
		if s == name {
			return true
		}
	}
	return false
}
