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
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kraklabs/cortex/pkg/storage"
)

// QueryResult is the row/header shape every tool formats. Aliased from
// pkg/storage so call sites across the two packages share one type without
// an import of storage leaking into every tool file's call signature.
type QueryResult = storage.QueryResult

// Querier is the minimal surface every search/trace/audit tool needs: run
// a read-only Datalog script, get rows back. EmbeddedQuerier and
// CortexClient are its two implementations (local CozoDB, remote Edge
// Cache over HTTP); tests substitute MockCortexClient.
type Querier interface {
	Query(ctx context.Context, script string) (*QueryResult, error)
}

// ToolResult is the MCP-facing result of running a tool: either
// human-readable Markdown in Text, or an error rendered the same way with
// IsError set so the MCP transport can flag it without a second channel.
type ToolResult struct {
	Text    string
	IsError bool
}

// NewResult wraps a successful tool body.
func NewResult(text string) *ToolResult {
	return &ToolResult{Text: text}
}

// NewError wraps a tool failure. Errors are still plain text (not a
// transport-level failure) so agents can read and react to them.
func NewError(text string) *ToolResult {
	return &ToolResult{Text: text, IsError: true}
}

// EmbeddedQuerier adapts a storage.Backend (typically *storage.EmbeddedBackend)
// to the Querier interface used throughout pkg/tools.
type EmbeddedQuerier struct {
	backend storage.Backend
}

// NewEmbeddedQuerier wraps a backend for local, in-process querying.
func NewEmbeddedQuerier(backend storage.Backend) *EmbeddedQuerier {
	return &EmbeddedQuerier{backend: backend}
}

func (q *EmbeddedQuerier) Query(ctx context.Context, script string) (*QueryResult, error) {
	return q.backend.Query(ctx, script)
}

// CortexClient queries a remote Edge Cache over HTTP, for MCP deployments
// that front a shared, centrally-indexed project instead of opening a
// local CozoDB file per client.
type CortexClient struct {
	baseURL        string
	projectID      string
	httpClient     *http.Client
	embeddingURL   string
	embeddingModel string
}

// SetEmbeddingConfig records the embedding server to use for semantic
// search when this client is handed to tools.SemanticSearch.
func (c *CortexClient) SetEmbeddingConfig(baseURL, model string) {
	c.embeddingURL = baseURL
	c.embeddingModel = model
}

// NewCortexClient creates a remote querier against the given Edge Cache
// base URL and project ID.
func NewCortexClient(baseURL, projectID string) *CortexClient {
	return &CortexClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: projectID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type cortexQueryRequest struct {
	ProjectID string `json:"project_id"`
	Script    string `json:"script"`
}

func (c *CortexClient) Query(ctx context.Context, script string) (*QueryResult, error) {
	body, err := json.Marshal(cortexQueryRequest{ProjectID: c.projectID, Script: script})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge cache returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result QueryResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// StoreFact writes a justification row against the given subject entity.
// Remote-mode indexing pushes derived facts (classifications, pattern
// matches) back through the same HTTP surface Query uses.
func (c *CortexClient) StoreFact(ctx context.Context, subjectID, claim, evidence string) error {
	body, err := json.Marshal(map[string]string{
		"project_id": c.projectID,
		"subject_id": subjectID,
		"claim":      claim,
		"evidence":   evidence,
	})
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/facts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("edge cache returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var regexSpecialChars = regexp.MustCompile(`([.+*?()\[\]{}|^$\\])`)

// EscapeRegex escapes characters with CozoScript's regex_matches() in mind:
// literal-mode search should match these characters verbatim rather than
// as regex metacharacters.
func EscapeRegex(s string) string {
	return regexSpecialChars.ReplaceAllString(s, `\$1`)
}

// ContainsStr reports whether s contains substr. Thin wrapper kept as its
// own name so call sites read as domain vocabulary (error classification,
// test assertions) rather than a raw strings import everywhere.
func ContainsStr(s, substr string) bool {
	return strings.Contains(s, substr)
}

// AnyToString renders a Datalog row value (string, float64, int64, bool,
// nil) as display text. CozoDB's JSON decoding surfaces integers as
// float64, so numeric formatting strips the trailing ".0" for whole values.
func AnyToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case int:
		return fmt.Sprintf("%d", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// FormatQueryResult renders a QueryResult as a Markdown table, falling
// back to a "no results" message with the generated query attached so
// agents can see exactly what was asked.
func FormatQueryResult(result *QueryResult, script string) string {
	if result == nil || len(result.Rows) == 0 {
		return fmt.Sprintf("No results found.\n\nQuery:\n```\n%s\n```", script)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d result(s):\n\n", len(result.Rows))
	sb.WriteString("| " + strings.Join(result.Headers, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(result.Headers)) + "\n")
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = AnyToString(v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return sb.String()
}
