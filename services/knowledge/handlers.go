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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ToKiDoO/crawl4ai-rag-mcp-sub001/services/knowledge/graph"
)

// ErrorResponse is the JSON error body for every knowledge endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// IngestRequest is the body for POST /v1/knowledge/ingest.
//
// Exactly one of SourcePath or Files must be set: SourcePath ingests a
// tree readable from the server's filesystem, Files carries the sources
// inline.
type IngestRequest struct {
	Identity   string `json:"identity" binding:"required"`
	SourcePath string `json:"source_path,omitempty"`
	Files      []struct {
		Path    string `json:"path" binding:"required"`
		Content string `json:"content"`
	} `json:"files,omitempty"`
}

// ValidateRequest is the body for POST /v1/knowledge/validate.
type ValidateRequest struct {
	ScriptPath string `json:"script_path" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// Handlers adapts the Engine to HTTP.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates the HTTP adapter for an engine.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// getOrCreateRequestID returns the X-Request-ID header or a fresh UUID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleIngest handles POST /v1/knowledge/ingest.
//
// Description:
//
//	Replaces the named repository's graph build atomically. Per-file parse
//	failures come back as diagnostics in a 200 response; only transport,
//	conflict, and storage failures are errors.
//
// Response:
//
//	200 OK: graph.BuildResult
//	400 Bad Request: malformed body or unreadable source
//	409 Conflict: a build for the same identity is in flight
//	503 Service Unavailable: graph store unreachable
func (h *Handlers) HandleIngest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngest")

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if (req.SourcePath == "") == (len(req.Files) == 0) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "exactly one of source_path or files must be provided",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var (
		result *graph.BuildResult
		err    error
	)
	if req.SourcePath != "" {
		result, err = h.engine.Ingest(c.Request.Context(), req.Identity, req.SourcePath)
	} else {
		files := make([]graph.SourceFile, 0, len(req.Files))
		for _, f := range req.Files {
			files = append(files, graph.SourceFile{
				Path:        f.Path,
				ModuleQName: moduleName(f.Path),
				Content:     []byte(f.Content),
			})
		}
		result, err = h.engine.IngestFiles(c.Request.Context(), req.Identity, "inline", files)
	}

	if err != nil {
		logger.Error("ingestion failed", "identity", req.Identity, "error", err)
		switch {
		case errors.Is(err, graph.ErrTransactionConflict):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "BUILD_IN_PROGRESS"})
		case errors.Is(err, graph.ErrGraphUnavailable):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "STORE_UNAVAILABLE"})
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INGEST_FAILED"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleValidate handles POST /v1/knowledge/validate.
//
// Response:
//
//	200 OK: report.Report (degraded flag set when the store was down)
//	400 Bad Request: malformed body
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidate")

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	rep, err := h.engine.Validate(c.Request.Context(), req.ScriptPath, []byte(req.Content))
	if err != nil {
		logger.Error("validation failed", "script", req.ScriptPath, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "VALIDATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleListRepositories handles GET /v1/knowledge/repositories.
func (h *Handlers) HandleListRepositories(c *gin.Context) {
	repos, err := h.engine.Repositories(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "STORE_UNAVAILABLE"})
		return
	}
	if repos == nil {
		repos = []*graph.Repository{}
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// HandleDeleteRepository handles DELETE /v1/knowledge/repositories/:identity.
func (h *Handlers) HandleDeleteRepository(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.engine.DeleteRepository(c.Request.Context(), identity); err != nil {
		switch {
		case errors.Is(err, graph.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		default:
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "STORE_UNAVAILABLE"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": identity})
}

// HandleHealth handles GET /v1/knowledge/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	if !h.engine.Healthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
