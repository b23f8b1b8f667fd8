// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the graph.Store port on badger/v4.
//
// Layout: every entity key is namespaced by repository identity and a build
// generation. A replace writes the whole new build under a fresh generation,
// then flips the repository marker to it in one small transaction. Readers
// resolve the marker first, so they observe either the old build or the new
// one, never a mix; a failed build never flips the marker and the orphaned
// generation is swept on the next successful replace.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

// Key prefixes. Entity keys are "ent:<identity>:<gen>:<kind>:<rest>".
const (
	repoPrefix   = "repo:"
	entityPrefix = "ent:"

	kindModule    = "mod"
	kindClass     = "cls"
	kindFunction  = "fn"
	kindMethod    = "mth"
	kindAttribute = "att"
	kindImport    = "imp"
)

// repoRecord is the stored repository marker: the repository metadata plus
// the generation readers must resolve entity keys through.
type repoRecord struct {
	Repository graph.Repository `json:"repository"`
	Generation string           `json:"generation"`
}

// Option configures a Store.
type Option func(*options)

type options struct {
	inMemory bool
}

// WithInMemory opens badger without a backing directory. Used in tests.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// Store is a graph.Store backed by a local badger database.
//
// Thread Safety: safe for concurrent use. Writers for the same repository
// identity are serialized: the second concurrent writer fails fast with
// graph.ErrTransactionConflict rather than interleaving.
type Store struct {
	db *badger.DB

	mu   sync.Mutex
	busy map[string]bool
}

// Open opens (or creates) a store at dir.
//
// Outputs:
//   - *Store: Ready store.
//   - error: Wraps graph.ErrGraphUnavailable when badger cannot open.
func Open(dir string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var badgerOpts badger.Options
	if o.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dir)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", graph.ErrGraphUnavailable, dir, err)
	}

	return &Store{
		db:   db,
		busy: make(map[string]bool),
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// acquire marks an identity as being written, failing fast when a writer is
// already active for it.
func (s *Store) acquire(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[identity] {
		return fmt.Errorf("%w: %s", graph.ErrTransactionConflict, identity)
	}
	s.busy[identity] = true
	return nil
}

func (s *Store) release(identity string) {
	s.mu.Lock()
	delete(s.busy, identity)
	s.mu.Unlock()
}

// ReplaceRepository atomically replaces all entities for the set's identity.
//
// Description:
//
//	Writes the new build under a fresh generation with a write batch, flips
//	the repository marker to the new generation in one transaction, then
//	sweeps superseded generations. Any failure before the flip leaves the
//	prior build fully intact; the marker flip itself is a single badger
//	transaction and therefore atomic.
func (s *Store) ReplaceRepository(ctx context.Context, set *graph.EntitySet) error {
	identity := set.Repository.Identity
	if identity == "" {
		return fmt.Errorf("entity set has empty repository identity")
	}
	if strings.Contains(identity, ":") {
		return fmt.Errorf("repository identity %q must not contain ':'", identity)
	}

	if err := s.acquire(identity); err != nil {
		return err
	}
	defer s.release(identity)

	gen := uuid.NewString()

	if err := s.writeGeneration(ctx, identity, gen, set); err != nil {
		// Best-effort cleanup of the half-written generation; the marker
		// was never flipped, so readers still see the old build.
		s.dropGeneration(identity, gen)
		return err
	}

	prevGen := ""
	err := s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get([]byte(repoPrefix + identity)); err == nil {
			var prev repoRecord
			if derr := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); derr == nil {
				prevGen = prev.Generation
			}
		}
		rec := repoRecord{Repository: set.Repository, Generation: gen}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(repoPrefix+identity), payload)
	})
	if err != nil {
		s.dropGeneration(identity, gen)
		return fmt.Errorf("%w: commit repository marker: %v", graph.ErrGraphUnavailable, err)
	}

	if prevGen != "" && prevGen != gen {
		s.dropGeneration(identity, prevGen)
	}

	return nil
}

// writeGeneration bulk-writes one build under its generation namespace,
// honoring the dependency order methods/attributes, classes/functions,
// modules/imports.
func (s *Store) writeGeneration(ctx context.Context, identity, gen string, set *graph.EntitySet) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	put := func(key string, v any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return wb.Set([]byte(key), payload)
	}

	base := entityPrefix + identity + ":" + gen + ":"

	for _, m := range set.Methods {
		if err := put(base+kindMethod+":"+m.Class+":"+m.Name, m); err != nil {
			return fmt.Errorf("%w: write method: %v", graph.ErrGraphUnavailable, err)
		}
	}
	for _, a := range set.Attributes {
		if err := put(base+kindAttribute+":"+a.Class+":"+a.Name, a); err != nil {
			return fmt.Errorf("%w: write attribute: %v", graph.ErrGraphUnavailable, err)
		}
	}
	for _, c := range set.Classes {
		if err := put(base+kindClass+":"+c.QualifiedName, c); err != nil {
			return fmt.Errorf("%w: write class: %v", graph.ErrGraphUnavailable, err)
		}
	}
	for _, f := range set.Functions {
		if err := put(base+kindFunction+":"+f.QualifiedName, f); err != nil {
			return fmt.Errorf("%w: write function: %v", graph.ErrGraphUnavailable, err)
		}
	}
	for _, m := range set.Modules {
		if err := put(base+kindModule+":"+m.QualifiedName, m); err != nil {
			return fmt.Errorf("%w: write module: %v", graph.ErrGraphUnavailable, err)
		}
	}
	for i, imp := range set.Imports {
		if err := put(fmt.Sprintf("%s%s:%s:%06d", base, kindImport, imp.Module, i), imp); err != nil {
			return fmt.Errorf("%w: write import: %v", graph.ErrGraphUnavailable, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: flush batch: %v", graph.ErrGraphUnavailable, err)
	}
	return nil
}

// dropGeneration deletes every entity key under one generation. Best effort:
// a failure leaves garbage that the next replace sweeps again.
func (s *Store) dropGeneration(identity, gen string) {
	prefix := []byte(entityPrefix + identity + ":" + gen + ":")
	keys := make([][]byte, 0, 256)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		slog.Warn("generation sweep scan failed",
			slog.String("identity", identity),
			slog.String("generation", gen),
			slog.String("error", err.Error()))
		return
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			slog.Warn("generation sweep delete failed",
				slog.String("identity", identity),
				slog.String("error", err.Error()))
			return
		}
	}
	if err := wb.Flush(); err != nil {
		slog.Warn("generation sweep flush failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()))
	}
}

// DeleteRepository removes a repository marker and all its entities.
func (s *Store) DeleteRepository(ctx context.Context, identity string) error {
	if err := s.acquire(identity); err != nil {
		return err
	}
	defer s.release(identity)

	rec, err := s.getRepoRecord(identity)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(repoPrefix + identity))
	})
	if err != nil {
		return fmt.Errorf("%w: delete repository marker: %v", graph.ErrGraphUnavailable, err)
	}

	s.dropGeneration(identity, rec.Generation)
	return nil
}

// getRepoRecord reads one repository marker.
func (s *Store) getRepoRecord(identity string) (*repoRecord, error) {
	var rec repoRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(repoPrefix + identity))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: repository %s", graph.ErrNotFound, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read repository %s: %v", graph.ErrGraphUnavailable, identity, err)
	}
	return &rec, nil
}

// GetRepository returns the repository record for an identity.
func (s *Store) GetRepository(_ context.Context, identity string) (*graph.Repository, error) {
	rec, err := s.getRepoRecord(identity)
	if err != nil {
		return nil, err
	}
	repo := rec.Repository
	return &repo, nil
}

// ListRepositories returns all repository records.
func (s *Store) ListRepositories(ctx context.Context) ([]*graph.Repository, error) {
	var repos []*graph.Repository
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(repoPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec repoRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			repo := rec.Repository
			repos = append(repos, &repo)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list repositories: %v", graph.ErrGraphUnavailable, err)
	}
	return repos, nil
}

// listRecords returns all repo markers, for cross-repository lookups.
func (s *Store) listRecords(ctx context.Context) ([]repoRecord, error) {
	var recs []repoRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(repoPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec repoRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan repositories: %v", graph.ErrGraphUnavailable, err)
	}
	return recs, nil
}

// getJSON reads one key into v, translating badger.ErrKeyNotFound.
func (s *Store) getJSON(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrGraphUnavailable, err)
	}
	return nil
}

// lookup probes every repository's current generation for one entity key.
func (s *Store) lookup(ctx context.Context, kind, rest string, v any) error {
	recs, err := s.listRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		key := entityPrefix + rec.Repository.Identity + ":" + rec.Generation + ":" + kind + ":" + rest
		err := s.getJSON(key, v)
		if err == nil {
			return nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return err
		}
	}
	return fmt.Errorf("%w: %s %s", graph.ErrNotFound, kind, rest)
}

// GetModule looks up a module by qualified name across repositories.
func (s *Store) GetModule(ctx context.Context, qualifiedName string) (*graph.Module, error) {
	var m graph.Module
	if err := s.lookup(ctx, kindModule, qualifiedName, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetClass looks up a class by qualified name across repositories.
func (s *Store) GetClass(ctx context.Context, qualifiedName string) (*graph.Class, error) {
	var c graph.Class
	if err := s.lookup(ctx, kindClass, qualifiedName, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetFunction looks up a module function by qualified name.
func (s *Store) GetFunction(ctx context.Context, qualifiedName string) (*graph.Function, error) {
	var f graph.Function
	if err := s.lookup(ctx, kindFunction, qualifiedName, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindClassByName scans all repositories for classes with a bare name.
func (s *Store) FindClassByName(ctx context.Context, name string) ([]*graph.Class, error) {
	recs, err := s.listRecords(ctx)
	if err != nil {
		return nil, err
	}

	var out []*graph.Class
	for _, rec := range recs {
		prefix := []byte(entityPrefix + rec.Repository.Identity + ":" + rec.Generation + ":" + kindClass + ":")
		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var c graph.Class
				if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
					continue
				}
				if c.Name == name {
					cls := c
					out = append(out, &cls)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan classes: %v", graph.ErrGraphUnavailable, err)
		}
	}
	return out, nil
}

// ClassMembers returns a class's own methods and attributes.
func (s *Store) ClassMembers(ctx context.Context, classQName string) ([]*graph.Method, []*graph.Attribute, error) {
	recs, err := s.listRecords(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, rec := range recs {
		base := entityPrefix + rec.Repository.Identity + ":" + rec.Generation + ":"

		// The class must exist in this repository for its members to count.
		var cls graph.Class
		if err := s.getJSON(base+kindClass+":"+classQName, &cls); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}

		var methods []*graph.Method
		var attrs []*graph.Attribute
		err := s.db.View(func(txn *badger.Txn) error {
			mp := []byte(base + kindMethod + ":" + classQName + ":")
			it := txn.NewIterator(badger.IteratorOptions{Prefix: mp})
			for it.Rewind(); it.Valid(); it.Next() {
				var m graph.Method
				if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err == nil {
					mm := m
					methods = append(methods, &mm)
				}
			}
			it.Close()

			ap := []byte(base + kindAttribute + ":" + classQName + ":")
			it = txn.NewIterator(badger.IteratorOptions{Prefix: ap})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				var a graph.Attribute
				if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err == nil {
					aa := a
					attrs = append(attrs, &aa)
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: scan members: %v", graph.ErrGraphUnavailable, err)
		}
		return methods, attrs, nil
	}

	return nil, nil, fmt.Errorf("%w: class %s", graph.ErrNotFound, classQName)
}

// GetModuleSymbols returns the exported surface of one module: its directly
// owned classes and functions plus import-edge aliases.
func (s *Store) GetModuleSymbols(ctx context.Context, moduleQName string) (*graph.ModuleSymbols, error) {
	recs, err := s.listRecords(ctx)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		base := entityPrefix + rec.Repository.Identity + ":" + rec.Generation + ":"

		var mod graph.Module
		if err := s.getJSON(base+kindModule+":"+moduleQName, &mod); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			return nil, err
		}

		symbols := &graph.ModuleSymbols{Module: &mod}

		collect := func(kind string, into *[]string) error {
			prefix := base + kind + ":" + moduleQName + "."
			return s.db.View(func(txn *badger.Txn) error {
				it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
				defer it.Close()
				for it.Rewind(); it.Valid(); it.Next() {
					rest := strings.TrimPrefix(string(it.Item().Key()), prefix)
					// Only direct children of this module.
					if !strings.Contains(rest, ".") {
						*into = append(*into, rest)
					}
				}
				return nil
			})
		}

		if err := collect(kindClass, &symbols.Classes); err != nil {
			return nil, fmt.Errorf("%w: scan module classes: %v", graph.ErrGraphUnavailable, err)
		}
		if err := collect(kindFunction, &symbols.Functions); err != nil {
			return nil, fmt.Errorf("%w: scan module functions: %v", graph.ErrGraphUnavailable, err)
		}

		// Import-edge aliases re-exported by this module.
		impPrefix := base + kindImport + ":" + moduleQName + ":"
		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(impPrefix)})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				var edge graph.ImportEdge
				if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &edge) }); err != nil {
					continue
				}
				name := edge.Alias
				if name == "" {
					if idx := strings.LastIndex(edge.Target, "."); idx >= 0 {
						name = edge.Target[idx+1:]
					} else {
						name = edge.Target
					}
				}
				symbols.Imports = append(symbols.Imports, name)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan module imports: %v", graph.ErrGraphUnavailable, err)
		}

		return symbols, nil
	}

	return nil, fmt.Errorf("%w: module %s", graph.ErrNotFound, moduleQName)
}

var _ graph.Store = (*Store)(nil)
