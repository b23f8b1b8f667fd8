// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func TestLoadPythonTree(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pkg/__init__.py":        "",
		"pkg/client.py":          "class Client:\n    pass\n",
		"pkg/sub/helpers.py":     "def helper():\n    pass\n",
		"tool.py":                "x = 1\n",
		"README.md":              "not python",
		".git/config":            "ignored",
		"venv/lib/ignored.py":    "ignored",
		"__pycache__/cached.py":  "ignored",
		".hidden/also_hidden.py": "ignored",
	})

	files, err := LoadPythonTree(root)
	if err != nil {
		t.Fatalf("LoadPythonTree: %v", err)
	}

	got := make(map[string]string, len(files))
	for _, f := range files {
		got[f.Path] = f.ModuleQName
	}
	want := map[string]string{
		"pkg/__init__.py":    "pkg",
		"pkg/client.py":      "pkg.client",
		"pkg/sub/helpers.py": "pkg.sub.helpers",
		"tool.py":            "tool",
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %v, want %v", got, want)
	}
	for path, module := range want {
		if got[path] != module {
			t.Errorf("module for %s = %q, want %q", path, got[path], module)
		}
	}

	// Deterministic ordering.
	for i := 1; i < len(files); i++ {
		if files[i-1].Path >= files[i].Path {
			t.Fatal("files are not sorted by path")
		}
	}
}

func TestLoadPythonTree_Errors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		if _, err := LoadPythonTree(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		root := writeTree(t, map[string]string{"f.py": ""})
		if _, err := LoadPythonTree(filepath.Join(root, "f.py")); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestModuleName(t *testing.T) {
	cases := map[string]string{
		"a.py":               "a",
		"a/b.py":             "a.b",
		"a/b/__init__.py":    "a.b",
		"deep/x/y/z/mod.py":  "deep.x.y.z.mod",
	}
	for rel, want := range cases {
		if got := moduleName(rel); got != want {
			t.Errorf("moduleName(%q) = %q, want %q", rel, got, want)
		}
	}
}
