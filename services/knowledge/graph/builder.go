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

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/ast"
)

// Default builder configuration values.
const (
	// DefaultWorkerCount is the default number of parallel extraction
	// workers. Zero means runtime.NumCPU().
	DefaultWorkerCount = 0
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// WorkerCount is the number of parallel extraction workers.
	WorkerCount int

	extractor ast.Extractor
	observer  func(context.Context, *EntitySet)
}

// BuilderOption is a functional option for NewBuilder.
type BuilderOption func(*BuilderOptions)

// WithWorkerCount sets the number of parallel extraction workers.
func WithWorkerCount(n int) BuilderOption {
	return func(o *BuilderOptions) {
		if n > 0 {
			o.WorkerCount = n
		}
	}
}

// WithExtractor overrides the language front end (default: Python).
func WithExtractor(ex ast.Extractor) BuilderOption {
	return func(o *BuilderOptions) {
		o.extractor = ex
	}
}

// WithBuildObserver registers a callback invoked with the committed
// entity set after each successful replace. Used for secondary indexes
// that track the graph but do not participate in its transaction.
func WithBuildObserver(fn func(context.Context, *EntitySet)) BuilderOption {
	return func(o *BuilderOptions) {
		o.observer = fn
	}
}

// Builder turns a repository's source files into one atomic graph build.
//
// Description:
//
//	Ingestion is two-phase. Extraction runs file-parallel with no shared
//	mutable state beyond the entity index; a per-file parse failure becomes
//	a diagnostic, never an aborted batch. Base-class resolution then runs
//	over the unioned index, and the complete entity set is handed to the
//	store for an all-or-nothing replace.
//
// Thread Safety:
//
//	A Builder is safe for concurrent use across distinct repository
//	identities. Concurrent ingestion of the same identity is rejected by
//	the store with ErrTransactionConflict.
type Builder struct {
	store     Store
	extractor ast.Extractor
	options   BuilderOptions
}

// NewBuilder creates a Builder writing to the given store.
func NewBuilder(store Store, opts ...BuilderOption) *Builder {
	options := BuilderOptions{WorkerCount: DefaultWorkerCount}
	for _, opt := range opts {
		opt(&options)
	}
	if options.WorkerCount <= 0 {
		options.WorkerCount = runtime.NumCPU()
	}
	b := &Builder{
		store:   store,
		options: options,
	}
	if options.extractor != nil {
		b.extractor = options.extractor
	} else {
		b.extractor = ast.NewPythonExtractor()
	}
	return b
}

// Ingest builds the graph for one repository and atomically replaces any
// prior build of the same identity.
//
// Description:
//
//	Extracts every source file (parallel, bounded by WorkerCount), unions
//	the bundles, resolves base-class references across files, and writes
//	the entity set in one store transaction. On any store failure the prior
//	graph for this identity is left intact.
//
// Inputs:
//   - ctx: Context for cancellation. Cancellation aborts before the store
//     write; an in-flight store replace is itself atomic.
//   - identity: Stable repository identity. Owns the entity set.
//   - sourceLocator: Where the source came from (path or URL), recorded on
//     the Repository node.
//   - files: Source files with their module qualified names, supplied by
//     the source-tree provider.
//
// Outputs:
//   - *BuildResult: Files processed, entity counts by kind, and per-file
//     diagnostics. Non-nil whenever error is nil.
//   - error: ErrTransactionConflict for a concurrent same-identity build,
//     ErrGraphUnavailable when the store cannot be reached, or a context
//     error. Per-file parse failures are diagnostics, not errors.
func (b *Builder) Ingest(ctx context.Context, identity, sourceLocator string, files []SourceFile) (*BuildResult, error) {
	ctx, span := startIngestSpan(ctx, identity, len(files))
	defer span.End()

	start := time.Now()
	runID := uuid.NewString()

	if identity == "" {
		return nil, fmt.Errorf("repository identity must not be empty")
	}

	slog.Info("ingestion started",
		slog.String("identity", identity),
		slog.String("run_id", runID),
		slog.Int("files", len(files)))

	bundles, diagnostics, err := b.extractAll(ctx, files)
	if err != nil {
		recordIngestMetrics(time.Since(start), nil, false)
		return nil, err
	}

	index := NewEntityIndex()
	set := &EntitySet{
		Repository: Repository{
			Identity:      identity,
			SourceLocator: sourceLocator,
			LastBuiltAt:   time.Now().UTC(),
		},
	}

	// Pass 1: union all bundles into the entity index.
	for _, bundle := range bundles {
		if err := b.unionBundle(index, set, identity, bundle); err != nil {
			diagnostics = append(diagnostics, ast.Diagnostic{
				FilePath: bundle.FilePath,
				Message:  err.Error(),
			})
		}
	}

	// Pass 2: resolve base-class references across files.
	importsByModule := groupImports(bundles)
	for _, cls := range set.Classes {
		b.resolveBases(index, importsByModule, cls)
	}

	if err := ctx.Err(); err != nil {
		recordIngestMetrics(time.Since(start), nil, false)
		return nil, fmt.Errorf("ingestion canceled before store write: %w", err)
	}

	if err := b.store.ReplaceRepository(ctx, set); err != nil {
		recordIngestMetrics(time.Since(start), nil, false)
		return nil, fmt.Errorf("replace repository %s: %w", identity, err)
	}

	if b.options.observer != nil {
		b.options.observer(ctx, set)
	}

	counts := set.Counts()
	recordIngestMetrics(time.Since(start), counts, true)

	slog.Info("ingestion finished",
		slog.String("identity", identity),
		slog.String("run_id", runID),
		slog.Int("files", len(bundles)),
		slog.Int("classes", counts[KindClass]),
		slog.Int("functions", counts[KindFunction]),
		slog.Int("diagnostics", len(diagnostics)),
		slog.Duration("elapsed", time.Since(start)))

	return &BuildResult{
		Identity:       identity,
		RunID:          runID,
		FilesProcessed: len(bundles),
		EntitiesByKind: counts,
		Diagnostics:    diagnostics,
		Elapsed:        time.Since(start),
	}, nil
}

// extractAll runs per-file extraction over a bounded worker pool.
func (b *Builder) extractAll(ctx context.Context, files []SourceFile) ([]*ast.FileBundle, []ast.Diagnostic, error) {
	var mu sync.Mutex
	bundles := make([]*ast.FileBundle, 0, len(files))
	var diagnostics []ast.Diagnostic

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.options.WorkerCount)

	for _, file := range files {
		g.Go(func() error {
			bundle, err := b.extractor.Extract(gctx, file.Content, file.Path, file.ModuleQName)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Per-file failure never aborts the repository, but a
				// canceled context does.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				diagnostics = append(diagnostics, ast.Diagnostic{
					FilePath: file.Path,
					Message:  err.Error(),
				})
				slog.Warn("file extraction failed",
					slog.String("file", file.Path),
					slog.String("error", err.Error()))
				return nil
			}
			bundles = append(bundles, bundle)
			diagnostics = append(diagnostics, bundle.Diagnostics...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("extraction aborted: %w", err)
	}

	// Worker completion order is nondeterministic; restore file order so a
	// rebuild of unchanged sources yields an identical entity set.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].FilePath < bundles[j].FilePath })
	sort.Slice(diagnostics, func(i, j int) bool {
		if diagnostics[i].FilePath != diagnostics[j].FilePath {
			return diagnostics[i].FilePath < diagnostics[j].FilePath
		}
		return diagnostics[i].Line < diagnostics[j].Line
	})

	return bundles, diagnostics, nil
}

// unionBundle folds one file bundle into the index and the entity set.
func (b *Builder) unionBundle(index *EntityIndex, set *EntitySet, identity string, bundle *ast.FileBundle) error {
	module := &Module{
		QualifiedName: bundle.ModuleQName,
		FilePath:      bundle.FilePath,
		Repository:    identity,
	}
	if err := index.AddModule(module); err != nil {
		return err
	}
	set.Modules = append(set.Modules, module)

	for _, ce := range bundle.Classes {
		cls := &Class{
			QualifiedName:  ce.QualifiedName,
			Name:           ce.Name,
			Module:         bundle.ModuleQName,
			Repository:     identity,
			BaseClassNames: append([]string(nil), ce.BaseNames...),
			IsAbstract:     ce.IsAbstract,
		}
		if err := index.AddClass(cls); err != nil {
			return err
		}
		set.Classes = append(set.Classes, cls)

		for _, me := range ce.Methods {
			set.Methods = append(set.Methods, &Method{
				QualifiedName: me.QualifiedName,
				Name:          me.Name,
				Class:         cls.QualifiedName,
				Repository:    identity,
				Params:        me.Params,
				IsAbstract:    me.IsAbstract,
				IsStatic:      me.IsStatic,
			})
		}
		for _, ae := range ce.Attributes {
			set.Attributes = append(set.Attributes, &Attribute{
				QualifiedName: ae.QualifiedName,
				Name:          ae.Name,
				Class:         cls.QualifiedName,
				Repository:    identity,
			})
		}
	}

	for _, fe := range bundle.Functions {
		fn := &Function{
			QualifiedName: fe.QualifiedName,
			Name:          fe.Name,
			Module:        bundle.ModuleQName,
			Repository:    identity,
			Params:        fe.Params,
		}
		if err := index.AddFunction(fn); err != nil {
			return err
		}
		set.Functions = append(set.Functions, fn)
	}

	for _, imp := range bundle.Imports {
		target := imp.ModulePath
		if imp.IsRelative {
			target = resolveRelativeImport(bundle.ModuleQName, imp.ModulePath)
		}
		if len(imp.Names) == 0 {
			set.Imports = append(set.Imports, &ImportEdge{
				Module:     bundle.ModuleQName,
				Repository: identity,
				Target:     target,
				Alias:      imp.Alias,
			})
			continue
		}
		for _, name := range imp.Names {
			set.Imports = append(set.Imports, &ImportEdge{
				Module:     bundle.ModuleQName,
				Repository: identity,
				Target:     ast.Qualify(target, name),
				Alias:      imp.Alias,
			})
		}
	}

	return nil
}

// resolveBases rewrites a class's raw base names to qualified names where a
// match exists in this build. Unresolvable bases move to ExternalBases.
func (b *Builder) resolveBases(index *EntityIndex, importsByModule map[string][]ast.ImportDecl, cls *Class) {
	var resolved, external []string

	for _, raw := range cls.BaseClassNames {
		if qname, ok := b.resolveOneBase(index, importsByModule, cls, raw); ok {
			resolved = append(resolved, qname)
		} else {
			external = append(external, raw)
		}
	}

	cls.BaseClassNames = resolved
	cls.ExternalBases = external
}

// resolveOneBase tries, in order: exact qualified name, same-module sibling,
// imported name, and unique bare-name match anywhere in the build.
func (b *Builder) resolveOneBase(index *EntityIndex, importsByModule map[string][]ast.ImportDecl, cls *Class, raw string) (string, bool) {
	if _, ok := index.ClassByQualified(raw); ok {
		return raw, true
	}

	bare := raw
	if idx := strings.LastIndex(raw, "."); idx >= 0 {
		bare = raw[idx+1:]
	}

	// Sibling class in the same module.
	if sibling := ast.Qualify(cls.Module, bare); sibling != cls.QualifiedName {
		if _, ok := index.ClassByQualified(sibling); ok {
			return sibling, true
		}
	}

	// Name brought in by an import of this module.
	for _, imp := range importsByModule[cls.Module] {
		target := imp.ModulePath
		if imp.IsRelative {
			target = resolveRelativeImport(cls.Module, imp.ModulePath)
		}
		if imp.Alias == bare && len(imp.Names) == 1 {
			if _, ok := index.ClassByQualified(ast.Qualify(target, imp.Names[0])); ok {
				return ast.Qualify(target, imp.Names[0]), true
			}
		}
		for _, name := range imp.Names {
			if name != bare {
				continue
			}
			if _, ok := index.ClassByQualified(ast.Qualify(target, bare)); ok {
				return ast.Qualify(target, bare), true
			}
		}
	}

	// Unique bare-name match across the whole build.
	if matches := index.ClassesByName(bare); len(matches) == 1 {
		return matches[0].QualifiedName, true
	}

	return "", false
}

// groupImports maps module qualified name to its import declarations.
func groupImports(bundles []*ast.FileBundle) map[string][]ast.ImportDecl {
	out := make(map[string][]ast.ImportDecl, len(bundles))
	for _, bundle := range bundles {
		out[bundle.ModuleQName] = append(out[bundle.ModuleQName], bundle.Imports...)
	}
	return out
}

// resolveRelativeImport maps "from .sibling import X" dots onto the dotted
// module namespace: one leading dot is the importing module's package, each
// further dot climbs one package.
func resolveRelativeImport(moduleQName, relPath string) string {
	dots := 0
	for dots < len(relPath) && relPath[dots] == '.' {
		dots++
	}
	rest := relPath[dots:]

	parts := strings.Split(moduleQName, ".")
	// Drop the module's own segment, then one more per extra dot.
	drop := dots
	if drop > len(parts) {
		drop = len(parts)
	}
	base := parts[:len(parts)-drop]

	return ast.Qualify(append(base, rest)...)
}
