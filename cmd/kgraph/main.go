// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kgraph runs the code knowledge graph service.
//
// The service ingests Python repositories into a structural graph and
// validates scripts against it, reporting probable API hallucinations
// with confidence scores.
//
// Usage:
//
//	kgraph serve --config config.yaml
//	kgraph ingest --identity requests --path /src/requests
//	kgraph validate --script generated.py
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kgraph",
	Short: "Code knowledge graph and hallucination validation service",
	Long: `kgraph builds structural knowledge graphs from Python repositories
and validates scripts against them, flagging API usages the graph
disproves and scoring every reference with a confidence value.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		setupLogging(cfg.Logging)
		return nil
	},
}

// setupLogging installs the global slog handler from config.
func setupLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (optional)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
