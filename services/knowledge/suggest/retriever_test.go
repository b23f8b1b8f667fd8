// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestParseSuggestions(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				ApiSymbolClassName: []interface{}{
					map[string]interface{}{
						"symbol":        "post",
						"qualifiedName": "requests.Session.post",
						"kind":          "method",
						"repository":    "requests",
						"_additional":   map[string]interface{}{"certainty": 0.91},
					},
					map[string]interface{}{
						"symbol":        "put",
						"qualifiedName": "requests.Session.put",
						"kind":          "method",
						"repository":    "requests",
					},
				},
			},
		},
	}

	suggestions := parseSuggestions(resp)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "requests.Session.post", suggestions[0].QualifiedName)
	assert.Equal(t, 0.91, suggestions[0].Score)
	assert.Equal(t, "method", suggestions[1].Kind)
	assert.Zero(t, suggestions[1].Score)
}

func TestParseSuggestions_SkipsMalformed(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				ApiSymbolClassName: []interface{}{
					"not an object",
					map[string]interface{}{"symbol": "orphan"}, // no qualified name
					map[string]interface{}{
						"symbol":        "get",
						"qualifiedName": "requests.get",
						"kind":          "function",
					},
				},
			},
		},
	}

	suggestions := parseSuggestions(resp)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "requests.get", suggestions[0].QualifiedName)
}

func TestParseSuggestions_EmptyResponse(t *testing.T) {
	assert.Empty(t, parseSuggestions(&models.GraphQLResponse{}))
	assert.Empty(t, parseSuggestions(&models.GraphQLResponse{
		Data: map[string]models.JSONObject{"Get": map[string]interface{}{}},
	}))
}

func TestApiSymbolSchema(t *testing.T) {
	schema := apiSymbolSchema()
	require.Equal(t, ApiSymbolClassName, schema.Class)

	names := make([]string, 0, len(schema.Properties))
	for _, p := range schema.Properties {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"symbol", "qualifiedName", "kind", "repository"}, names)
}
