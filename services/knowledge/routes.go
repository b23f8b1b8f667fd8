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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all knowledge routes with the router group.
//
// Description:
//
//	Registers the /v1/knowledge/* endpoints. The group should already
//	carry any required middleware.
//
// Endpoints:
//
//	POST   /v1/knowledge/ingest - Ingest a repository into the graph
//	POST   /v1/knowledge/validate - Validate a script against the graph
//	GET    /v1/knowledge/repositories - List ingested repositories
//	DELETE /v1/knowledge/repositories/:identity - Remove a repository
//	GET    /v1/knowledge/health - Health check
//
// Example:
//
//	engine := knowledge.NewEngine(store)
//	handlers := knowledge.NewHandlers(engine)
//
//	v1 := router.Group("/v1")
//	knowledge.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	kg := rg.Group("/knowledge")
	{
		kg.POST("/ingest", handlers.HandleIngest)
		kg.POST("/validate", handlers.HandleValidate)

		kg.GET("/repositories", handlers.HandleListRepositories)
		kg.DELETE("/repositories/:identity", handlers.HandleDeleteRepository)

		kg.GET("/health", handlers.HandleHealth)
	}
}
