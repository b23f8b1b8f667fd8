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

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

// cached wraps a lookup result so negative answers are memoized too.
// notFound records graph.ErrNotFound; real failures are never cached.
type cached[T any] struct {
	val      T
	notFound bool
}

// memberSet is a class's own members, keyed for O(1) probes during the
// inheritance walk.
type memberSet struct {
	methods    map[string]*graph.Method
	attributes map[string]*graph.Attribute
}

// lookupCache memoizes graph lookups for the duration of a single
// validation call. A script that touches the same class fifty times
// hits the store once. The cache is per-call, never shared, so a
// concurrent re-ingest can only make one validation internally stale,
// never leak between scripts.
type lookupCache struct {
	store   graph.Store
	classes *lru.Cache[string, cached[*graph.Class]]
	funcs   *lru.Cache[string, cached[*graph.Function]]
	modules *lru.Cache[string, cached[*graph.Module]]
	members *lru.Cache[string, cached[*memberSet]]
	symbols *lru.Cache[string, cached[*graph.ModuleSymbols]]
}

func newLookupCache(store graph.Store, size int) (*lookupCache, error) {
	c := &lookupCache{store: store}
	var err error
	if c.classes, err = lru.New[string, cached[*graph.Class]](size); err != nil {
		return nil, err
	}
	if c.funcs, err = lru.New[string, cached[*graph.Function]](size); err != nil {
		return nil, err
	}
	if c.modules, err = lru.New[string, cached[*graph.Module]](size); err != nil {
		return nil, err
	}
	if c.members, err = lru.New[string, cached[*memberSet]](size); err != nil {
		return nil, err
	}
	if c.symbols, err = lru.New[string, cached[*graph.ModuleSymbols]](size); err != nil {
		return nil, err
	}
	return c, nil
}

func lookupVia[T any](ctx context.Context, c *lru.Cache[string, cached[T]], key string,
	fetch func(context.Context, string) (T, error)) (T, error) {
	if hit, ok := c.Get(key); ok {
		if hit.notFound {
			return hit.val, graph.ErrNotFound
		}
		return hit.val, nil
	}
	val, err := fetch(ctx, key)
	switch {
	case err == nil:
		c.Add(key, cached[T]{val: val})
	case errors.Is(err, graph.ErrNotFound):
		c.Add(key, cached[T]{val: val, notFound: true})
	}
	return val, err
}

func (c *lookupCache) class(ctx context.Context, qname string) (*graph.Class, error) {
	return lookupVia(ctx, c.classes, qname, c.store.GetClass)
}

func (c *lookupCache) function(ctx context.Context, qname string) (*graph.Function, error) {
	return lookupVia(ctx, c.funcs, qname, c.store.GetFunction)
}

func (c *lookupCache) module(ctx context.Context, qname string) (*graph.Module, error) {
	return lookupVia(ctx, c.modules, qname, c.store.GetModule)
}

func (c *lookupCache) classMembers(ctx context.Context, qname string) (*memberSet, error) {
	return lookupVia(ctx, c.members, qname, func(ctx context.Context, key string) (*memberSet, error) {
		methods, attrs, err := c.store.ClassMembers(ctx, key)
		if err != nil {
			return nil, err
		}
		set := &memberSet{
			methods:    make(map[string]*graph.Method, len(methods)),
			attributes: make(map[string]*graph.Attribute, len(attrs)),
		}
		for _, m := range methods {
			set.methods[m.Name] = m
		}
		for _, a := range attrs {
			set.attributes[a.Name] = a
		}
		return set, nil
	})
}

func (c *lookupCache) moduleSymbols(ctx context.Context, qname string) (*graph.ModuleSymbols, error) {
	return lookupVia(ctx, c.symbols, qname, c.store.GetModuleSymbols)
}
