// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/cortex/pkg/tools"
)

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		query  string
		intent Intent
	}{
		{"who calls ParseFile", IntentCallGraph},
		{"internal/parser/go.go", IntentFilePath},
		{"something that handles user authentication flows", IntentSemantic},
		{`foo.*bar\d+`, IntentRegex},
		{"ParseFile", IntentLookup},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.intent, ClassifyIntent(tc.query), "query: %s", tc.query)
	}
}

func TestFuse_WeightsAndDedup(t *testing.T) {
	bySource := map[Source][]Hit{
		SourceLexical: {{EntityID: "f1", FilePath: "a.go", Score: 1.0}},
		SourceVector:  {{EntityID: "f1", FilePath: "a.go", Score: 0.5}, {EntityID: "f2", FilePath: "b.go", Score: 1.0}},
	}
	weights := map[Source]float64{SourceLexical: 0.6, SourceVector: 0.4}

	hits := fuse(bySource, weights, 10)
	assert.Len(t, hits, 2)
	assert.Equal(t, "f1", hits[0].EntityID)
	assert.InDelta(t, 0.6+0.2, hits[0].Score, 1e-9)
	assert.ElementsMatch(t, []Source{SourceLexical, SourceVector}, hits[0].Sources)
}

func TestFuse_RespectsLimit(t *testing.T) {
	bySource := map[Source][]Hit{
		SourceLexical: {
			{EntityID: "f1", FilePath: "a.go", Score: 1.0},
			{EntityID: "f2", FilePath: "b.go", Score: 0.9},
			{EntityID: "f3", FilePath: "c.go", Score: 0.8},
		},
	}
	hits := fuse(bySource, map[Source]float64{SourceLexical: 1.0}, 2)
	assert.Len(t, hits, 2)
	assert.Equal(t, "f1", hits[0].EntityID)
	assert.Equal(t, "f2", hits[1].EntityID)
}

func TestRetriever_QueryFusesLexicalAndVectorLegs(t *testing.T) {
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			return tools.NewMockQueryResult(
				[]string{"id", "name", "signature", "file_path", "start_line"},
				[][]any{{"fn1", "ParseFile", "func ParseFile()", "parser.go", float64(10)}},
			), nil
		},
	}
	r := New(mock, nil)
	result, err := r.Query(context.Background(), "ParseFile", 5)
	assert.NoError(t, err)
	assert.Equal(t, IntentLookup, result.Intent)
	assert.False(t, result.Partial)
}

// TestRetriever_VectorLegUsesRealEmbeddingWhenConfigured asserts that once
// an embedding server is configured, the vector leg issues a real HNSW
// query carrying the embedded query vector, not the literal-name-regex
// fallback used when no embedding server is available.
func TestRetriever_VectorLegUsesRealEmbeddingWhenConfigured(t *testing.T) {
	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer embedServer.Close()

	var scripts []string
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			scripts = append(scripts, script)
			if strings.Contains(script, "~ent_function_embedding") {
				return tools.NewMockQueryResult(
					[]string{"name", "file_path", "signature", "start_line", "distance"},
					[][]any{{"Handle", "handler.go", "func Handle()", float64(5), 0.2}},
				), nil
			}
			return tools.NewMockQueryResult(nil, nil), nil
		},
	}
	r := New(mock, nil)
	r.SetEmbeddingConfig(embedServer.URL, "nomic-embed-text")

	hits := r.runVector(context.Background(), "something that handles uploads", 5)
	assert.NotEmpty(t, hits, "vector leg should return the HNSW hit once an embedding server is configured")
	assert.Equal(t, "Handle", hits[0].Signature[5:11])

	foundHNSW := false
	for _, s := range scripts {
		if strings.Contains(s, "~ent_function_embedding:embedding_idx") || strings.Contains(s, "~ent_type_embedding:embedding_idx") {
			foundHNSW = true
		}
		assert.NotContains(t, s, `regex_matches(name,`, "a configured embedding server must never fall back to the name-regex leg")
	}
	assert.True(t, foundHNSW, "expected at least one real HNSW query against an embedding index")
}

// TestRetriever_VectorLegFallsBackWithoutEmbeddingServer confirms the
// documented fallback: no embedding server configured means the vector
// leg degrades to a literal name match instead of erroring.
func TestRetriever_VectorLegFallsBackWithoutEmbeddingServer(t *testing.T) {
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			assert.Contains(t, script, "regex_matches(name,")
			return tools.NewMockQueryResult(
				[]string{"id", "name", "signature", "file_path", "start_line"},
				[][]any{{"fn1", "ParseFile", "func ParseFile()", "parser.go", float64(10)}},
			), nil
		},
	}
	r := New(mock, nil)
	hits := r.runVector(context.Background(), "ParseFile", 5)
	assert.NotEmpty(t, hits)
}

func TestExtractIdentifier(t *testing.T) {
	assert.Equal(t, "ParseFile", extractIdentifier("who calls ParseFile"))
	assert.Equal(t, "", extractIdentifier("   "))
}

func TestRetriever_QueryRecordsHeatForHits(t *testing.T) {
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			return tools.NewMockQueryResult(
				[]string{"id", "name", "signature", "file_path", "start_line"},
				[][]any{{"fn1", "ParseFile", "func ParseFile()", "parser.go", float64(10)}},
			), nil
		},
	}
	r := New(mock, nil)
	_, err := r.Query(context.Background(), "ParseFile", 5)
	assert.NoError(t, err)

	hot := r.HotEntities(5)
	assert.NotEmpty(t, hot, "a query that fused a hit should register heat for that entity")
	assert.Equal(t, "fn1", hot[0].ID)
	assert.Greater(t, hot[0].Score, 0.0)
}
