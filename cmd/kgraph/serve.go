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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
	badgerstore "github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/storage/badger"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/suggest"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/telemetry"
	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/validate"
)

var debugMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knowledge graph HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Telemetry.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("trace flush failed", "error", err)
			}
		}()
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := buildEngine(ctx, store)
	if err != nil {
		return err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if debugMode {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	knowledge.RegisterRoutes(v1, knowledge.NewHandlers(engine))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore opens the badger-backed graph store from config.
func openStore() (graph.Store, error) {
	if cfg.Storage.InMemory {
		return badgerstore.Open("", badgerstore.WithInMemory())
	}
	return badgerstore.Open(cfg.Storage.Dir)
}

// buildEngine wires the engine, including the optional suggestion index.
func buildEngine(ctx context.Context, store graph.Store) (*knowledge.Engine, error) {
	builderOpts := []graph.BuilderOption{}
	if cfg.Ingest.Workers > 0 {
		builderOpts = append(builderOpts, graph.WithWorkerCount(cfg.Ingest.Workers))
	}

	engineOpts := []knowledge.EngineOption{}

	if cfg.Suggest.Enabled {
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.Suggest.Host,
			Scheme: cfg.Suggest.Scheme,
		})
		if err != nil {
			return nil, fmt.Errorf("create weaviate client: %w", err)
		}
		retriever, err := suggest.NewWeaviateRetriever(client,
			suggest.WithQueryTimeout(cfg.Suggest.QueryTimeout),
			suggest.WithQueryRate(cfg.Suggest.QueryRate))
		if err != nil {
			return nil, err
		}
		if err := retriever.EnsureSchema(ctx); err != nil {
			// The index is advisory; run without it rather than refuse to start.
			slog.Warn("suggestion index unavailable", "error", err)
		} else {
			engineOpts = append(engineOpts,
				knowledge.WithRetriever(retriever),
				knowledge.WithSuggestLimit(cfg.Suggest.MaxResults))
			builderOpts = append(builderOpts,
				graph.WithBuildObserver(func(ctx context.Context, set *graph.EntitySet) {
					if _, err := retriever.IndexEntities(ctx, set); err != nil {
						slog.Warn("symbol indexing failed",
							"repository", set.Repository.Identity,
							"error", err)
					}
				}))
		}
	}

	validatorOpts := []validate.ValidatorOption{}
	if cfg.Validate.Workers > 0 {
		validatorOpts = append(validatorOpts, validate.WithValidatorWorkers(cfg.Validate.Workers))
	}
	if cfg.Validate.MaxInheritanceDepth > 0 {
		validatorOpts = append(validatorOpts, validate.WithMaxInheritanceDepth(cfg.Validate.MaxInheritanceDepth))
	}

	engineOpts = append(engineOpts,
		knowledge.WithBuilder(graph.NewBuilder(store, builderOpts...)),
		knowledge.WithValidator(validate.NewValidator(store, validatorOpts...)))

	return knowledge.NewEngine(store, engineOpts...), nil
}
