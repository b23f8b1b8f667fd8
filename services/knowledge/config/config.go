// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the service configuration from a
// YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Validate  ValidateConfig  `yaml:"validate"`
	Suggest   SuggestConfig   `yaml:"suggest"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures the badger-backed graph store.
type StorageConfig struct {
	Dir      string `yaml:"dir" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory"`
}

// IngestConfig configures repository ingestion.
type IngestConfig struct {
	Workers     int   `yaml:"workers" validate:"gte=0"`
	MaxFileSize int64 `yaml:"max_file_size" validate:"gte=0"`
}

// ValidateConfig configures script validation.
type ValidateConfig struct {
	Workers             int `yaml:"workers" validate:"gte=0"`
	MaxInheritanceDepth int `yaml:"max_inheritance_depth" validate:"gte=0"`
}

// SuggestConfig configures the optional similarity index.
type SuggestConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" validate:"required_if=Enabled true"`
	Scheme       string        `yaml:"scheme" validate:"omitempty,oneof=http https"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	QueryRate    float64       `yaml:"query_rate" validate:"gte=0"`
	MaxResults   int           `yaml:"max_results" validate:"gte=0"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8181,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Dir: "data/kgraph"},
		Suggest: SuggestConfig{
			Scheme:       "http",
			QueryTimeout: 2 * time.Second,
			QueryRate:    20,
			MaxResults:   5,
		},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{ServiceName: "kgraph"},
	}
}

// Load reads configuration from an optional YAML file, applies
// environment overrides, and validates the result.
//
// Description:
//
//	A .env file in the working directory is loaded first (missing is
//	fine), then the YAML file when path is non-empty, then KGRAPH_*
//	environment variables override individual fields. Validation failures
//	name the offending field.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from the process environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("KGRAPH_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KGRAPH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KGRAPH_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("KGRAPH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		cfg.Suggest.Host = v
		cfg.Suggest.Enabled = true
	}
	if v := os.Getenv("WEAVIATE_SCHEME"); v != "" {
		cfg.Suggest.Scheme = v
	}
}
