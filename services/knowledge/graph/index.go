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
	"fmt"
	"sync"
)

// EntityIndex is the builder's in-memory union of all per-file bundles.
//
// Description:
//
//	Pass 1 of a build inserts every entity keyed by qualified name; pass 2
//	resolves raw base-class references through the byName secondary index.
//	The index lives only for the duration of one build.
//
// Thread Safety:
//
//	Safe for concurrent use. File-parallel extraction inserts from multiple
//	goroutines.
type EntityIndex struct {
	mu sync.RWMutex

	modules   map[string]*Module
	classes   map[string]*Class
	functions map[string]*Function

	// byName maps bare class names to classes sharing that name.
	byName map[string][]*Class
}

// NewEntityIndex creates an empty index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		modules:   make(map[string]*Module),
		classes:   make(map[string]*Class),
		functions: make(map[string]*Function),
		byName:    make(map[string][]*Class),
	}
}

// AddModule inserts a module, rejecting duplicate qualified names.
func (idx *EntityIndex) AddModule(m *Module) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.modules[m.QualifiedName]; exists {
		return fmt.Errorf("%w: module %s", ErrDuplicateEntity, m.QualifiedName)
	}
	idx.modules[m.QualifiedName] = m
	return nil
}

// AddClass inserts a class, rejecting duplicate qualified names.
func (idx *EntityIndex) AddClass(c *Class) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.classes[c.QualifiedName]; exists {
		return fmt.Errorf("%w: class %s", ErrDuplicateEntity, c.QualifiedName)
	}
	idx.classes[c.QualifiedName] = c
	idx.byName[c.Name] = append(idx.byName[c.Name], c)
	return nil
}

// AddFunction inserts a function, rejecting duplicate qualified names.
func (idx *EntityIndex) AddFunction(f *Function) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.functions[f.QualifiedName]; exists {
		return fmt.Errorf("%w: function %s", ErrDuplicateEntity, f.QualifiedName)
	}
	idx.functions[f.QualifiedName] = f
	return nil
}

// ClassByQualified returns the class with the exact qualified name.
func (idx *EntityIndex) ClassByQualified(qname string) (*Class, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.classes[qname]
	return c, ok
}

// ClassesByName returns all classes with the given bare name.
func (idx *EntityIndex) ClassesByName(name string) []*Class {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	src := idx.byName[name]
	out := make([]*Class, len(src))
	copy(out, src)
	return out
}

// ModuleByQualified returns the module with the exact qualified name.
func (idx *EntityIndex) ModuleByQualified(qname string) (*Module, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.modules[qname]
	return m, ok
}

// Stats returns entity counts currently in the index.
func (idx *EntityIndex) Stats() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return map[string]int{
		KindModule:   len(idx.modules),
		KindClass:    len(idx.classes),
		KindFunction: len(idx.functions),
	}
}
