// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SemanticSearchArgs holds arguments for HNSW-backed similarity search over
// function embeddings, with a literal-search fallback when no embedding
// server is reachable or the index is empty.
type SemanticSearchArgs struct {
	Query            string
	Limit            int
	Role             string // "source" (functions) vs future roles
	PathPattern      string
	ExcludePaths     string
	ExcludeAnonymous bool
	MinSimilarity    float64 // 0.0-1.0, rows below this are dropped
	EmbeddingURL     string
	EmbeddingModel   string
}

// normalizeSemanticArgs clamps Limit to [1, 50] and defaults Role to "source".
func normalizeSemanticArgs(args SemanticSearchArgs) SemanticSearchArgs {
	if args.Limit <= 0 {
		args.Limit = 10
	}
	if args.Limit > 50 {
		args.Limit = 50
	}
	if args.Role == "" {
		args.Role = "source"
	}
	return args
}

// isQodoModel reports whether modelName is a Qodo code-embedding model,
// which expects an instruct-style prompt rather than a bare search_query prefix.
func isQodoModel(modelName string) bool {
	return strings.Contains(strings.ToLower(modelName), "qodo")
}

// preprocessQueryForCode adapts a natural-language query to the prefix
// convention the target embedding model expects.
func preprocessQueryForCode(query, embeddingModel string) string {
	if embeddingModel == "" || isQodoModel(embeddingModel) {
		return fmt.Sprintf("Instruct: Given a code search query, retrieve relevant source code\nQuery: %s", query)
	}
	return fmt.Sprintf("search_query: %s", query)
}

// getConfidenceIcon maps a similarity score to a traffic-light indicator.
func getConfidenceIcon(similarity float64) string {
	switch {
	case similarity >= 0.75:
		return "🟢"
	case similarity >= 0.50:
		return "🟡"
	default:
		return "🔴"
	}
}

// extractCodeSnippet returns up to maxLines non-empty lines of code, with
// any single line over 75 characters truncated with an ellipsis.
func extractCodeSnippet(code string, maxLines int) string {
	if code == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > 66 {
			line = line[:63] + "..."
		}
		kept = append(kept, line)
		if len(kept) >= maxLines {
			break
		}
	}
	return strings.Join(kept, "\n")
}

// filterByMinSimilarity drops HNSW rows whose cosine distance (assumed to
// be the 5th column, index 4) implies similarity below minSimilarity.
// similarity = 1.0 - distance/2.0, since CozoDB's HNSW cosine distance
// ranges 0 (identical) to 2 (opposite).
func filterByMinSimilarity(rows [][]any, minSimilarity float64) [][]any {
	if minSimilarity <= 0 {
		return rows
	}
	var kept [][]any
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		dist, ok := row[4].(float64)
		if !ok {
			continue
		}
		similarity := 1.0 - dist/2.0
		if similarity >= minSimilarity {
			kept = append(kept, row)
		}
	}
	return kept
}

// executeHNSWQuery runs a nearest-neighbor search against the function
// embedding index for the given query vector.
func executeHNSWQuery(ctx context.Context, client Querier, embedding []float64, args SemanticSearchArgs) (*QueryResult, error) {
	vecParts := make([]string, len(embedding))
	for i, v := range embedding {
		vecParts[i] = fmt.Sprintf("%g", v)
	}
	conditions := []string{}
	if args.PathPattern != "" {
		conditions = append(conditions, fmt.Sprintf(", regex_matches(file_path, %q)", args.PathPattern))
	}
	if args.ExcludePaths != "" {
		conditions = append(conditions, fmt.Sprintf(", negate(regex_matches(file_path, %q))", args.ExcludePaths))
	}
	script := fmt.Sprintf(
		"?[name, file_path, signature, start_line, distance, code_text] := "+
			"~ent_function_embedding:embedding_idx{ function_id | query: vec([%s]), k: %d, ef: 50, bind_distance: distance }, "+
			"*ent_function { id: function_id, name, file_path, signature, start_line }, "+
			"*ent_function_code { function_id, code_text }%s :limit %d",
		strings.Join(vecParts, ","), args.Limit*3, strings.Join(conditions, ""), args.Limit,
	)
	return client.Query(ctx, script)
}

// SemanticSearch embeds the query and runs a vector similarity search over
// indexed function bodies, falling back to literal text search when
// embedding generation fails or the HNSW index has no vectors yet.
func SemanticSearch(ctx context.Context, client Querier, args SemanticSearchArgs) (*ToolResult, error) {
	if args.Query == "" {
		return NewError("Error: 'query' is required"), nil
	}
	args = normalizeSemanticArgs(args)

	if args.EmbeddingURL == "" {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			"no embedding server configured")
	}

	processedQuery := preprocessQueryForCode(args.Query, args.EmbeddingModel)
	embedding, err := generateEmbedding(ctx, args.EmbeddingURL, args.EmbeddingModel, processedQuery)
	if err != nil {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			fmt.Sprintf("embedding generation failed: %v", err))
	}

	result, err := executeHNSWQuery(ctx, client, embedding, args)
	if err != nil || result == nil || len(result.Rows) == 0 {
		return semanticSearchFallback(ctx, client, args.Query, args.Limit, args.Role, args.PathPattern, args.ExcludePaths,
			"no vectors found in HNSW index")
	}

	rows := filterByMinSimilarity(result.Rows, args.MinSimilarity)
	if len(rows) == 0 && args.MinSimilarity > 0 {
		return NewResult(fmt.Sprintf("🔍 **Semantic search** for '%s'\n\nNo results meet the %.0f%% similarity threshold.", args.Query, args.MinSimilarity*100)), nil
	}
	if len(rows) > args.Limit {
		rows = rows[:args.Limit]
	}

	return NewResult(formatSemanticResults(rows, args)), nil
}

// formatSemanticResults renders HNSW rows as a ranked Markdown list.
func formatSemanticResults(rows [][]any, args SemanticSearchArgs) string {
	var sb strings.Builder
	if args.PathPattern != "" {
		fmt.Fprintf(&sb, "🔍 **Semantic search** for '%s' in '%s'\n\n", args.Query, args.PathPattern)
	} else {
		fmt.Fprintf(&sb, "🔍 **Semantic search** for '%s'\n\n", args.Query)
	}
	if len(rows) == 0 {
		sb.WriteString("No results found.\n")
		return sb.String()
	}
	for i, row := range rows {
		formatSemanticResultRow(&sb, i+1, row)
	}
	return sb.String()
}

// formatSemanticResultRow writes one ranked result: name, confidence,
// location, signature, and (if present) a short code snippet.
func formatSemanticResultRow(sb *strings.Builder, rank int, row []any) {
	name := AnyToString(row[0])
	filePath := AnyToString(row[1])
	signature := AnyToString(row[2])
	line := AnyToString(row[3])
	dist, _ := row[4].(float64)
	similarity := 1.0 - dist/2.0

	fmt.Fprintf(sb, "%d. %s **%s** (%.1f%% match)\n", rank, getConfidenceIcon(similarity), name, similarity*100)
	fmt.Fprintf(sb, "   📍 %s:%s\n", filePath, line)
	fmt.Fprintf(sb, "   📝 `%s`\n", signature)
	if len(row) > 5 {
		if code := extractCodeSnippet(AnyToString(row[5]), 5); code != "" {
			fmt.Fprintf(sb, "   ```\n%s\n   ```\n", code)
		}
	}
	sb.WriteString("\n")
}

// semanticSearchFallback runs a literal text search over function
// name/signature/code and annotates the result with why vector search
// was skipped.
func semanticSearchFallback(ctx context.Context, client Querier, query string, limit int, role, pathPattern, excludePaths, reason string) (*ToolResult, error) {
	result, err := SearchText(ctx, client, SearchTextArgs{
		Pattern:        query,
		SearchIn:       "all",
		FilePattern:    pathPattern,
		ExcludePattern: excludePaths,
		Literal:        true,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ **Text search fallback** (%s)\n\n", reason)
	fmt.Fprintf(&sb, "Falling back to literal search for '%s':\n\n", query)
	sb.WriteString(result.Text)
	if !strings.Contains(result.Text, "Found") {
		sb.WriteString("\n**Tips to improve results:**\n")
		sb.WriteString("- Try `ent_grep` with a simpler literal pattern\n")
		sb.WriteString("- Configure an embedding server for true semantic search\n")
	}
	sb.WriteString("\n💡 **To enable true semantic search:** configure `embedding.base_url` and `embedding.model` in your project config, then re-run `cortex index` so embeddings are generated.\n")
	return NewResult(sb.String()), nil
}

// GenerateEmbedding is the exported form of generateEmbedding, for callers
// outside this package (pkg/retrieval's vector fanout leg) that need the
// same baseURL/model dispatch without going through SemanticSearch's
// Markdown-formatting path.
func GenerateEmbedding(ctx context.Context, baseURL, model, query string) ([]float64, error) {
	return generateEmbedding(ctx, baseURL, model, query)
}

// generateEmbedding calls an OpenAI-compatible, Ollama-native, or llama.cpp
// embedding endpoint, picked by baseURL/model convention: a "/v1" suffix
// means OpenAI-compatible, an empty model means llama.cpp's bare /embedding
// route, otherwise Ollama's /api/embeddings.
func generateEmbedding(ctx context.Context, baseURL, model, query string) ([]float64, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	base := strings.TrimRight(baseURL, "/")

	switch {
	case strings.Contains(baseURL, "/v1"):
		body, err := postJSON(ctx, httpClient, base+"/embeddings", map[string]any{
			"model": model, "input": query,
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		return resp.Data[0].Embedding, nil

	case model == "":
		body, err := postJSON(ctx, httpClient, base+"/embedding", map[string]any{
			"content": query,
		})
		if err != nil {
			return nil, err
		}
		var resp []struct {
			Embedding [][]float64 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		if len(resp) == 0 || len(resp[0].Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		return resp[0].Embedding[0], nil

	default:
		body, err := postJSON(ctx, httpClient, base+"/api/embeddings", map[string]any{
			"model": model, "prompt": query,
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		return resp.Embedding, nil
	}
}

func postJSON(ctx context.Context, httpClient *http.Client, url string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error: %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}
