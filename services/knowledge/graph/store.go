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

import "context"

// ModuleSymbols lists what a module exports: its classes, functions, and
// import-edge aliases, by bare name.
type ModuleSymbols struct {
	Module    *Module
	Classes   []string
	Functions []string
	Imports   []string
}

// Store is the graph persistence port.
//
// Description:
//
//	The validation engine depends only on these operations: a transactional
//	replace of one repository's entity batch, delete-by-identity, and
//	read lookups by qualified name. The store's internal format is the
//	implementation's business.
//
// Contract:
//
//	ReplaceRepository is all-or-nothing: any failure leaves the prior graph
//	byte-for-byte intact, and a concurrent replace of the same identity
//	fails fast with ErrTransactionConflict. Lookups return ErrNotFound when
//	the store answered and the entity is absent, and an error wrapping
//	ErrGraphUnavailable when the store could not answer. Reads never block
//	behind a writer: they observe either the old build or the new one.
type Store interface {
	// ReplaceRepository atomically replaces all entities for the set's
	// repository identity with the new entity set.
	ReplaceRepository(ctx context.Context, set *EntitySet) error

	// DeleteRepository removes a repository and everything it owns.
	DeleteRepository(ctx context.Context, identity string) error

	// GetRepository returns the repository record for an identity.
	GetRepository(ctx context.Context, identity string) (*Repository, error)

	// ListRepositories returns all repository records.
	ListRepositories(ctx context.Context) ([]*Repository, error)

	// GetModule looks up a module by qualified name across repositories.
	GetModule(ctx context.Context, qualifiedName string) (*Module, error)

	// GetClass looks up a class by qualified name across repositories.
	GetClass(ctx context.Context, qualifiedName string) (*Class, error)

	// GetFunction looks up a module function by qualified name.
	GetFunction(ctx context.Context, qualifiedName string) (*Function, error)

	// FindClassByName returns classes whose bare name matches, across all
	// repositories. Used for suffix resolution of imported names.
	FindClassByName(ctx context.Context, name string) ([]*Class, error)

	// ClassMembers returns a class's own (non-inherited) methods and
	// attributes. Inherited lookup is the validator's walk.
	ClassMembers(ctx context.Context, classQName string) ([]*Method, []*Attribute, error)

	// GetModuleSymbols returns the exported surface of a module.
	GetModuleSymbols(ctx context.Context, moduleQName string) (*ModuleSymbols, error)

	// Close releases the store.
	Close() error
}
