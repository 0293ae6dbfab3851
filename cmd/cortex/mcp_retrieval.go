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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kraklabs/cortex/pkg/ledger"
	"github.com/kraklabs/cortex/pkg/patterns"
	"github.com/kraklabs/cortex/pkg/tools"
)

func handleHybridSearch(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return tools.NewError("Error: 'query' is required"), nil
	}
	limit, _ := getIntArg(args, "limit", 20)

	result, err := s.retriever.Query(ctx, query, limit)
	if err != nil {
		return tools.NewError(fmt.Sprintf("hybrid search failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Hybrid search (intent: %s)\n\n", result.Intent)
	if result.Partial {
		sb.WriteString("_Query was cancelled before every source finished; results below are partial._\n\n")
	}
	if len(result.Hits) == 0 {
		sb.WriteString("No results found.")
		return tools.NewResult(sb.String()), nil
	}
	for i, hit := range result.Hits {
		fmt.Fprintf(&sb, "%d. **%s** (%s:%d) — score %.2f via %v\n", i+1, hit.EntityID, hit.FilePath, hit.StartLine, hit.Score, hit.Sources)
		if hit.Signature != "" {
			fmt.Fprintf(&sb, "   `%s`\n", hit.Signature)
		}
		if hit.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", hit.Snippet)
		}
		if hit.Justification != "" {
			fmt.Fprintf(&sb, "   _%s_\n", hit.Justification)
		}
	}
	return tools.NewResult(sb.String()), nil
}

func handleFindPatterns(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	patternTypes := extractStringArray(args, "pattern_types")
	minConfidence, _ := getFloatArg(args, "min_confidence", 0.5)

	found := s.patternRegistry.Detect(ctx, s.client, patterns.Options{
		PatternTypes:  patternTypes,
		MinConfidence: minConfidence,
	})
	if len(found) == 0 {
		return tools.NewResult("No design patterns found at or above the requested confidence."), nil
	}

	if s.patternBackend != nil {
		if err := s.patternRegistry.Persist(ctx, s.patternBackend, found); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: pattern persistence failed: %v\n", err)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d pattern instance(s):\n\n", len(found))
	for _, p := range found {
		fmt.Fprintf(&sb, "- **%s** (confidence %.2f): %s\n", p.PatternType, p.Confidence, p.Description)
		for _, participant := range p.Participants {
			fmt.Fprintf(&sb, "  - %s (%s)\n", participant.EntityID, participant.Role)
		}
	}
	return tools.NewResult(sb.String()), nil
}

func handleHotEntities(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	limit, _ := getIntArg(args, "limit", 10)

	entries := s.retriever.HotEntities(limit)
	if len(entries) == 0 {
		return tools.NewResult("No query activity recorded yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %d hottest entities (by recent query access)\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. **%s** — heat %.2f\n", i+1, e.ID, e.Score)
	}
	return tools.NewResult(sb.String()), nil
}

func handleLedgerSince(ctx context.Context, s *mcpServer, args map[string]any) (*tools.ToolResult, error) {
	if s.changeLedger == nil {
		return tools.NewError("Change ledger is not available in this mode (remote Edge Cache clients don't expose it)."), nil
	}
	afterSeq, _ := getIntArg(args, "after_seq", -1)
	filePath, _ := args["file_path"].(string)

	entries, err := s.changeLedger.Since(ctx, int64(afterSeq), ledger.Filter{FilePath: filePath})
	if err != nil {
		return tools.NewError(fmt.Sprintf("ledger query failed: %v", err)), nil
	}
	if len(entries) == 0 {
		return tools.NewResult("No ledger entries since the given sequence number."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d ledger entr(ies):\n\n", len(entries))
	for _, e := range entries {
		detail := e.Detail
		if detail == "" {
			detail = e.Summary
		}
		fmt.Fprintf(&sb, "- [%d] %s %s %s — %s", e.Seq, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Kind, e.FilePath, detail)
		if e.Source != "" {
			fmt.Fprintf(&sb, " (source: %s)", e.Source)
		}
		if e.SessionID != "" {
			fmt.Fprintf(&sb, " (session: %s)", e.SessionID)
		}
		if e.Error != "" {
			fmt.Fprintf(&sb, " [error: %s]", e.Error)
		}
		sb.WriteByte('\n')
	}
	return tools.NewResult(sb.String()), nil
}
