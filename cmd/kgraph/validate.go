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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	validateScript string
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a Python script against the knowledge graph",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateScript, "script", "", "Path to the script to validate (required)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the full report as JSON")
	_ = validateCmd.MarkFlagRequired("script")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	content, err := os.ReadFile(validateScript)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := buildEngine(cmd.Context(), store)
	if err != nil {
		return err
	}

	rep, err := engine.Validate(cmd.Context(), validateScript, content)
	if err != nil {
		return err
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Printf("Script:  %s\n", rep.ScriptPath)
	fmt.Printf("Overall: %.2f  Risk: %s\n", rep.OverallConfidence, rep.Risk)
	for status, count := range rep.Counts {
		fmt.Printf("  %-10s %d\n", status, count)
	}
	for kind, findings := range rep.Findings {
		for _, f := range findings {
			if f.Result.Message == "" {
				continue
			}
			fmt.Printf("%s:%d [%s/%s] %s: %s\n",
				rep.ScriptPath, f.Result.Fact.Location.Line,
				kind, f.Result.Status,
				f.Result.Fact.SymbolName, f.Result.Message)
			for _, s := range f.Suggestions {
				fmt.Printf("    suggestion: %s\n", s)
			}
		}
	}
	return nil
}
