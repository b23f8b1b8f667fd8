// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	ingestIdentity string
	ingestPath     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the knowledge graph for one repository",
	Long: `Parses every Python file under --path and atomically replaces the
graph build for --identity. Per-file parse failures are reported as
diagnostics and do not abort the build.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestIdentity, "identity", "", "Repository identity (required)")
	ingestCmd.Flags().StringVar(&ingestPath, "path", "", "Source tree root (required)")
	_ = ingestCmd.MarkFlagRequired("identity")
	_ = ingestCmd.MarkFlagRequired("path")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := buildEngine(cmd.Context(), store)
	if err != nil {
		return err
	}

	result, err := engine.Ingest(cmd.Context(), ingestIdentity, ingestPath)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %s (%d files, %s)\n", result.Identity, result.FilesProcessed, result.Elapsed.Round(time.Millisecond))
	kinds := make([]string, 0, len(result.EntitiesByKind))
	for kind := range result.EntitiesByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-10s %d\n", kind, result.EntitiesByKind[kind])
	}
	if len(result.Diagnostics) > 0 {
		fmt.Printf("Diagnostics (%d):\n", len(result.Diagnostics))
		for _, d := range result.Diagnostics {
			fmt.Printf("  %s:%d: %s\n", d.FilePath, d.Line, d.Message)
		}
	}
	return nil
}
