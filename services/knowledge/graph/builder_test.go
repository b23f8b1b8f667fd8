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
	"errors"
	"reflect"
	"sync"
	"testing"
)

// recordingStore captures replaced entity sets and answers lookups with
// ErrNotFound. It stands in for the real store in builder tests.
type recordingStore struct {
	mu         sync.Mutex
	sets       []*EntitySet
	replaceErr error
}

func (s *recordingStore) ReplaceRepository(_ context.Context, set *EntitySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.sets = append(s.sets, set)
	return nil
}

func (s *recordingStore) DeleteRepository(context.Context, string) error { return nil }
func (s *recordingStore) GetRepository(context.Context, string) (*Repository, error) {
	return nil, ErrNotFound
}
func (s *recordingStore) ListRepositories(context.Context) ([]*Repository, error) {
	return nil, nil
}
func (s *recordingStore) GetModule(context.Context, string) (*Module, error) {
	return nil, ErrNotFound
}
func (s *recordingStore) GetClass(context.Context, string) (*Class, error) {
	return nil, ErrNotFound
}
func (s *recordingStore) GetFunction(context.Context, string) (*Function, error) {
	return nil, ErrNotFound
}
func (s *recordingStore) FindClassByName(context.Context, string) ([]*Class, error) {
	return nil, nil
}
func (s *recordingStore) ClassMembers(context.Context, string) ([]*Method, []*Attribute, error) {
	return nil, nil, ErrNotFound
}
func (s *recordingStore) GetModuleSymbols(context.Context, string) (*ModuleSymbols, error) {
	return nil, ErrNotFound
}
func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) lastSet(t *testing.T) *EntitySet {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sets) == 0 {
		t.Fatal("no entity set was committed")
	}
	return s.sets[len(s.sets)-1]
}

var builderFixture = []SourceFile{
	{
		Path:        "pkg/base.py",
		ModuleQName: "pkg.base",
		Content: []byte(`class Base:
    def __init__(self):
        self.name = ""

    def ping(self):
        return "pong"


def helper(value):
    return value
`),
	},
	{
		Path:        "pkg/child.py",
		ModuleQName: "pkg.child",
		Content: []byte(`from .base import Base


class Child(Base):
    def extra(self):
        return 1


class Standalone(remotelib.Thing):
    pass
`),
	},
}

func findClass(set *EntitySet, qname string) *Class {
	for _, c := range set.Classes {
		if c.QualifiedName == qname {
			return c
		}
	}
	return nil
}

func TestBuilder_Ingest(t *testing.T) {
	store := &recordingStore{}
	builder := NewBuilder(store, WithWorkerCount(4))

	result, err := builder.Ingest(context.Background(), "repo-a", "/src/pkg", builderFixture)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", result.FilesProcessed)
	}
	if result.RunID == "" {
		t.Error("RunID should be set")
	}
	if got := result.EntitiesByKind[KindModule]; got != 2 {
		t.Errorf("module count = %d, want 2", got)
	}
	if got := result.EntitiesByKind[KindClass]; got != 3 {
		t.Errorf("class count = %d, want 3", got)
	}
	if got := result.EntitiesByKind[KindFunction]; got != 1 {
		t.Errorf("function count = %d, want 1", got)
	}
	if got := result.EntitiesByKind[KindMethod]; got != 3 {
		t.Errorf("method count = %d, want 3", got)
	}

	set := store.lastSet(t)
	if set.Repository.Identity != "repo-a" {
		t.Errorf("committed identity = %q, want repo-a", set.Repository.Identity)
	}
	if set.Repository.SourceLocator != "/src/pkg" {
		t.Errorf("source locator = %q", set.Repository.SourceLocator)
	}
	if set.Repository.LastBuiltAt.IsZero() {
		t.Error("LastBuiltAt should be set")
	}
}

func TestBuilder_BaseResolution(t *testing.T) {
	store := &recordingStore{}
	builder := NewBuilder(store)

	if _, err := builder.Ingest(context.Background(), "repo-a", "", builderFixture); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	set := store.lastSet(t)

	t.Run("relative import resolves in-repo base", func(t *testing.T) {
		child := findClass(set, "pkg.child.Child")
		if child == nil {
			t.Fatal("pkg.child.Child not committed")
		}
		if !reflect.DeepEqual(child.BaseClassNames, []string{"pkg.base.Base"}) {
			t.Errorf("BaseClassNames = %v, want [pkg.base.Base]", child.BaseClassNames)
		}
		if len(child.ExternalBases) != 0 {
			t.Errorf("ExternalBases = %v, want none", child.ExternalBases)
		}
	})

	t.Run("unknown base becomes external", func(t *testing.T) {
		standalone := findClass(set, "pkg.child.Standalone")
		if standalone == nil {
			t.Fatal("pkg.child.Standalone not committed")
		}
		if len(standalone.BaseClassNames) != 0 {
			t.Errorf("BaseClassNames = %v, want none", standalone.BaseClassNames)
		}
		if !reflect.DeepEqual(standalone.ExternalBases, []string{"remotelib.Thing"}) {
			t.Errorf("ExternalBases = %v, want [remotelib.Thing]", standalone.ExternalBases)
		}
	})
}

func TestBuilder_UniqueBareNameResolution(t *testing.T) {
	files := []SourceFile{
		{
			Path:        "lib/core.py",
			ModuleQName: "lib.core",
			Content:     []byte("class Engine:\n    pass\n"),
		},
		{
			// No import declaration: Engine resolves only because the
			// bare name is unique across the build.
			Path:        "lib/turbo.py",
			ModuleQName: "lib.turbo",
			Content:     []byte("class Turbo(Engine):\n    pass\n"),
		},
	}

	store := &recordingStore{}
	builder := NewBuilder(store)
	if _, err := builder.Ingest(context.Background(), "repo-b", "", files); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	turbo := findClass(store.lastSet(t), "lib.turbo.Turbo")
	if turbo == nil {
		t.Fatal("lib.turbo.Turbo not committed")
	}
	if !reflect.DeepEqual(turbo.BaseClassNames, []string{"lib.core.Engine"}) {
		t.Errorf("BaseClassNames = %v, want [lib.core.Engine]", turbo.BaseClassNames)
	}
}

func TestBuilder_FileFailureIsDiagnostic(t *testing.T) {
	files := []SourceFile{
		{
			Path:        "app/ok.py",
			ModuleQName: "app.ok",
			Content:     []byte("class Fine:\n    pass\n"),
		},
		{
			Path:        "app/binary.py",
			ModuleQName: "app.binary",
			Content:     []byte{0xff, 0xfe, 0x00, 0x01},
		},
	}

	store := &recordingStore{}
	builder := NewBuilder(store)
	result, err := builder.Ingest(context.Background(), "repo-c", "", files)
	if err != nil {
		t.Fatalf("Ingest should survive a per-file failure, got %v", err)
	}
	if result.FilesProcessed != 1 {
		t.Errorf("FilesProcessed = %d, want 1", result.FilesProcessed)
	}
	if len(result.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic for the unreadable file")
	}
	if result.Diagnostics[0].FilePath != "app/binary.py" {
		t.Errorf("diagnostic file = %q, want app/binary.py", result.Diagnostics[0].FilePath)
	}
	if findClass(store.lastSet(t), "app.ok.Fine") == nil {
		t.Error("entities from the healthy file should still be committed")
	}
}

func TestBuilder_EmptyIdentity(t *testing.T) {
	builder := NewBuilder(&recordingStore{})
	if _, err := builder.Ingest(context.Background(), "", "", builderFixture); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

func TestBuilder_StoreFailurePropagates(t *testing.T) {
	store := &recordingStore{replaceErr: ErrTransactionConflict}
	observed := false
	builder := NewBuilder(store, WithBuildObserver(func(context.Context, *EntitySet) {
		observed = true
	}))

	_, err := builder.Ingest(context.Background(), "repo-d", "", builderFixture)
	if !errors.Is(err, ErrTransactionConflict) {
		t.Fatalf("err = %v, want ErrTransactionConflict", err)
	}
	if observed {
		t.Error("observer must not fire when the replace fails")
	}
}

func TestBuilder_ObserverSeesCommittedSet(t *testing.T) {
	store := &recordingStore{}
	var got *EntitySet
	builder := NewBuilder(store, WithBuildObserver(func(_ context.Context, set *EntitySet) {
		got = set
	}))

	if _, err := builder.Ingest(context.Background(), "repo-e", "", builderFixture); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got == nil {
		t.Fatal("observer did not fire")
	}
	if got != store.lastSet(t) {
		t.Error("observer should receive the committed entity set")
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	qnames := func() []string {
		store := &recordingStore{}
		builder := NewBuilder(store, WithWorkerCount(4))
		if _, err := builder.Ingest(context.Background(), "repo-f", "", builderFixture); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		set := store.lastSet(t)
		var out []string
		for _, m := range set.Modules {
			out = append(out, m.QualifiedName)
		}
		for _, c := range set.Classes {
			out = append(out, c.QualifiedName)
		}
		for _, m := range set.Methods {
			out = append(out, m.QualifiedName)
		}
		for _, f := range set.Functions {
			out = append(out, f.QualifiedName)
		}
		return out
	}

	first := qnames()
	for i := 0; i < 4; i++ {
		if next := qnames(); !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d produced a different entity order:\n%v\nvs\n%v", i+2, first, next)
		}
	}
}

func TestResolveRelativeImport(t *testing.T) {
	cases := []struct {
		module  string
		relPath string
		want    string
	}{
		{"pkg.child", ".base", "pkg.base"},
		{"pkg.sub.mod", "..other", "pkg.other"},
		{"pkg.mod", ".", "pkg"},
		{"top", ".", ""},
		{"a.b.c", "...deep", "deep"},
	}
	for _, tc := range cases {
		if got := resolveRelativeImport(tc.module, tc.relPath); got != tc.want {
			t.Errorf("resolveRelativeImport(%q, %q) = %q, want %q", tc.module, tc.relPath, got, tc.want)
		}
	}
}
