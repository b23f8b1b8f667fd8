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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

// Directories never worth scanning for Python sources.
var skippedDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"node_modules": true,
	".tox":         true,
	".mypy_cache":  true,
}

// LoadPythonTree reads every Python file under root into source files
// with derived module qualified names.
//
// Description:
//
//	Walks root recursively, skipping VCS metadata, virtualenvs, and
//	caches. A file's module name is its path relative to root with
//	separators as dots and the .py suffix dropped; __init__.py maps to
//	its package. Results are sorted by path so repeated loads of the
//	same tree are identical.
//
// Outputs:
//   - []graph.SourceFile: ready for Builder.Ingest.
//   - error: root unreadable or a file read failure.
func LoadPythonTree(root string) ([]graph.SourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source tree %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source tree %s is not a directory", root)
	}

	var files []graph.SourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skippedDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".py") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, graph.SourceFile{
			Path:        filepath.ToSlash(rel),
			ModuleQName: moduleName(rel),
			Content:     content,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// moduleName derives the dotted module name from a path relative to the
// tree root.
func moduleName(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, ".py")
	if base := "__init__"; strings.HasSuffix(rel, base) {
		rel = strings.TrimSuffix(rel, base)
		rel = strings.TrimSuffix(rel, "/")
	}
	return strings.ReplaceAll(rel, "/", ".")
}
