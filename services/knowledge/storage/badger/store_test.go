// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("", WithInMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fixtureSet builds a small repository: module demo.api with class Client
// (two methods, one attribute), class Admin, and function fetch.
func fixtureSet(identity string) *graph.EntitySet {
	return &graph.EntitySet{
		Repository: graph.Repository{
			Identity:      identity,
			SourceLocator: "/src/" + identity,
			LastBuiltAt:   time.Now().UTC(),
		},
		Modules: []*graph.Module{
			{QualifiedName: "demo.api", FilePath: "demo/api.py", Repository: identity},
		},
		Classes: []*graph.Class{
			{QualifiedName: "demo.api.Client", Name: "Client", Module: "demo.api", Repository: identity},
			{QualifiedName: "demo.api.Admin", Name: "Admin", Module: "demo.api", Repository: identity},
		},
		Methods: []*graph.Method{
			{QualifiedName: "demo.api.Client.connect", Name: "connect", Class: "demo.api.Client", Repository: identity},
			{QualifiedName: "demo.api.Client.close", Name: "close", Class: "demo.api.Client", Repository: identity},
			{QualifiedName: "demo.api.Admin.reset", Name: "reset", Class: "demo.api.Admin", Repository: identity},
		},
		Attributes: []*graph.Attribute{
			{QualifiedName: "demo.api.Client.timeout", Name: "timeout", Class: "demo.api.Client", Repository: identity},
		},
		Functions: []*graph.Function{
			{QualifiedName: "demo.api.fetch", Name: "fetch", Module: "demo.api", Repository: identity},
		},
		Imports: []*graph.ImportEdge{
			{Module: "demo.api", Repository: identity, Target: "json"},
			{Module: "demo.api", Repository: identity, Target: "collections.abc", Alias: "abc_types"},
		},
	}
}

// countEntityKeys counts raw entity keys for one identity across all
// generations, proving replaced builds are actually swept.
func countEntityKeys(t *testing.T, s *Store, identity string) int {
	t.Helper()
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(entityPrefix + identity + ":")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scan entity keys: %v", err)
	}
	return count
}

func TestStore_ReplaceAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("ReplaceRepository: %v", err)
	}

	t.Run("repository", func(t *testing.T) {
		repo, err := store.GetRepository(ctx, "repo-a")
		if err != nil {
			t.Fatalf("GetRepository: %v", err)
		}
		if repo.SourceLocator != "/src/repo-a" {
			t.Errorf("SourceLocator = %q", repo.SourceLocator)
		}
	})

	t.Run("module", func(t *testing.T) {
		mod, err := store.GetModule(ctx, "demo.api")
		if err != nil {
			t.Fatalf("GetModule: %v", err)
		}
		if mod.FilePath != "demo/api.py" {
			t.Errorf("FilePath = %q", mod.FilePath)
		}
	})

	t.Run("class", func(t *testing.T) {
		cls, err := store.GetClass(ctx, "demo.api.Client")
		if err != nil {
			t.Fatalf("GetClass: %v", err)
		}
		if cls.Name != "Client" {
			t.Errorf("Name = %q", cls.Name)
		}
	})

	t.Run("function", func(t *testing.T) {
		if _, err := store.GetFunction(ctx, "demo.api.fetch"); err != nil {
			t.Fatalf("GetFunction: %v", err)
		}
	})

	t.Run("absent entity is ErrNotFound", func(t *testing.T) {
		if _, err := store.GetClass(ctx, "demo.api.Ghost"); !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if _, err := store.GetRepository(ctx, "no-such-repo"); !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ReplaceSweepsOldGeneration(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	firstCount := countEntityKeys(t, store, "repo-a")
	if firstCount == 0 {
		t.Fatal("first build wrote no entity keys")
	}

	// The second build drops the Admin class entirely.
	smaller := &graph.EntitySet{
		Repository: graph.Repository{Identity: "repo-a", LastBuiltAt: time.Now().UTC()},
		Modules: []*graph.Module{
			{QualifiedName: "demo.api", FilePath: "demo/api.py", Repository: "repo-a"},
		},
		Classes: []*graph.Class{
			{QualifiedName: "demo.api.Client", Name: "Client", Module: "demo.api", Repository: "repo-a"},
		},
	}
	if err := store.ReplaceRepository(ctx, smaller); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	if _, err := store.GetClass(ctx, "demo.api.Admin"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("Admin should be gone after replace, got %v", err)
	}
	if _, err := store.GetClass(ctx, "demo.api.Client"); err != nil {
		t.Errorf("Client should survive the replace: %v", err)
	}

	if got := countEntityKeys(t, store, "repo-a"); got != 2 {
		t.Errorf("entity keys after replace = %d, want 2 (old generation not swept?)", got)
	}
}

func TestStore_ReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 0; i < 3; i++ {
		if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
			t.Fatalf("replace %d: %v", i+1, err)
		}
	}

	repos, err := store.ListRepositories(ctx)
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(repos) != 1 {
		t.Errorf("repository count = %d, want 1", len(repos))
	}

	want := countEntityKeys(t, store, "repo-a")
	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("final replace: %v", err)
	}
	if got := countEntityKeys(t, store, "repo-a"); got != want {
		t.Errorf("entity keys grew across identical replaces: %d -> %d", want, got)
	}
}

func TestStore_FailedReplaceLeavesPriorBuildIntact(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	before := countEntityKeys(t, store, "repo-a")

	// A canceled context aborts the generation write before the marker
	// flip; readers must still see the first build, fully.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	replacement := fixtureSet("repo-a")
	replacement.Classes[0].Name = "Mutated"
	if err := store.ReplaceRepository(canceled, replacement); err == nil {
		t.Fatal("replace with canceled context should fail")
	}

	cls, err := store.GetClass(ctx, "demo.api.Client")
	if err != nil {
		t.Fatalf("prior build unreadable after failed replace: %v", err)
	}
	if cls.Name != "Client" {
		t.Errorf("prior build mutated by failed replace: Name = %q", cls.Name)
	}
	if got := countEntityKeys(t, store, "repo-a"); got != before {
		t.Errorf("entity keys = %d, want %d (failed generation not cleaned)", got, before)
	}
}

func TestStore_ConcurrentSameIdentityConflicts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// Simulate an in-flight build for the identity.
	if err := store.acquire("repo-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer store.release("repo-a")

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); !errors.Is(err, graph.ErrTransactionConflict) {
		t.Errorf("err = %v, want ErrTransactionConflict", err)
	}

	// A different identity is unaffected.
	if err := store.ReplaceRepository(ctx, fixtureSet("repo-b")); err != nil {
		t.Errorf("other identity should not conflict: %v", err)
	}
}

func TestStore_IdentityValidation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("")); err == nil {
		t.Error("empty identity should be rejected")
	}
	if err := store.ReplaceRepository(ctx, fixtureSet("bad:identity")); err == nil {
		t.Error("identity containing ':' should be rejected")
	}
}

func TestStore_DeleteRepository(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("ReplaceRepository: %v", err)
	}
	if err := store.DeleteRepository(ctx, "repo-a"); err != nil {
		t.Fatalf("DeleteRepository: %v", err)
	}

	if _, err := store.GetRepository(ctx, "repo-a"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("marker should be gone, got %v", err)
	}
	if got := countEntityKeys(t, store, "repo-a"); got != 0 {
		t.Errorf("entity keys after delete = %d, want 0", got)
	}
	if err := store.DeleteRepository(ctx, "repo-a"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestStore_ClassMembers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("ReplaceRepository: %v", err)
	}

	methods, attrs, err := store.ClassMembers(ctx, "demo.api.Client")
	if err != nil {
		t.Fatalf("ClassMembers: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("method count = %d, want 2 (Admin members must not leak in)", len(methods))
	}
	if len(attrs) != 1 || attrs[0].Name != "timeout" {
		t.Errorf("attributes = %v, want [timeout]", attrs)
	}

	if _, _, err := store.ClassMembers(ctx, "demo.api.Ghost"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_GetModuleSymbols(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	set := fixtureSet("repo-a")
	// A submodule entity must not appear as a direct child of demo.api.
	set.Modules = append(set.Modules, &graph.Module{
		QualifiedName: "demo.api.internal", FilePath: "demo/api/internal.py", Repository: "repo-a",
	})
	set.Classes = append(set.Classes, &graph.Class{
		QualifiedName: "demo.api.internal.Pool", Name: "Pool", Module: "demo.api.internal", Repository: "repo-a",
	})
	if err := store.ReplaceRepository(ctx, set); err != nil {
		t.Fatalf("ReplaceRepository: %v", err)
	}

	symbols, err := store.GetModuleSymbols(ctx, "demo.api")
	if err != nil {
		t.Fatalf("GetModuleSymbols: %v", err)
	}

	wantClasses := map[string]bool{"Client": true, "Admin": true}
	if len(symbols.Classes) != 2 {
		t.Errorf("classes = %v, want Client and Admin only", symbols.Classes)
	}
	for _, name := range symbols.Classes {
		if !wantClasses[name] {
			t.Errorf("unexpected exported class %q", name)
		}
	}
	if len(symbols.Functions) != 1 || symbols.Functions[0] != "fetch" {
		t.Errorf("functions = %v, want [fetch]", symbols.Functions)
	}

	// Import aliases: plain import exports the last segment, aliased import
	// exports the alias.
	imports := map[string]bool{}
	for _, name := range symbols.Imports {
		imports[name] = true
	}
	if !imports["json"] || !imports["abc_types"] {
		t.Errorf("imports = %v, want json and abc_types", symbols.Imports)
	}

	if _, err := store.GetModuleSymbols(ctx, "demo.missing"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_FindClassByName(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.ReplaceRepository(ctx, fixtureSet("repo-a")); err != nil {
		t.Fatalf("replace repo-a: %v", err)
	}
	other := fixtureSet("repo-b")
	other.Modules[0].QualifiedName = "alt.api"
	other.Classes = []*graph.Class{
		{QualifiedName: "alt.api.Client", Name: "Client", Module: "alt.api", Repository: "repo-b"},
	}
	other.Methods = nil
	other.Attributes = nil
	other.Functions = nil
	other.Imports = nil
	if err := store.ReplaceRepository(ctx, other); err != nil {
		t.Fatalf("replace repo-b: %v", err)
	}

	matches, err := store.FindClassByName(ctx, "Client")
	if err != nil {
		t.Fatalf("FindClassByName: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("match count = %d, want 2 (one per repository)", len(matches))
	}

	none, err := store.FindClassByName(ctx, "Nobody")
	if err != nil {
		t.Fatalf("FindClassByName: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("matches for unknown name = %v, want none", none)
	}
}
