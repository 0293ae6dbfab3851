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
	"context"
	"fmt"
	"strings"
)

// GrepArgs holds arguments for fast literal/multi-pattern search over
// indexed code, the cheap alternative to SearchText's regex mode.
type GrepArgs struct {
	Text           string
	Texts          []string // batch mode: one count per pattern
	Path           string
	ExcludePattern string
	CaseSensitive  bool
	ContextLines   int
	Limit          int
}

// Grep searches function code for one or more literal substrings. In batch
// mode (Texts set) it reports a match count per pattern instead of rows,
// so an agent can scan many candidates in one call.
func Grep(ctx context.Context, client Querier, args GrepArgs) (*ToolResult, error) {
	patterns := args.Texts
	if args.Text != "" {
		patterns = append([]string{args.Text}, patterns...)
	}
	if len(patterns) == 0 {
		return NewError("Error: 'text' or 'texts' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 30
	}

	if len(patterns) > 1 {
		var sb strings.Builder
		sb.WriteString("### Batch grep results\n\n")
		for _, p := range patterns {
			count, err := grepCount(ctx, client, p, args)
			if err != nil {
				fmt.Fprintf(&sb, "- `%s`: error: %v\n", p, err)
				continue
			}
			fmt.Fprintf(&sb, "- `%s`: %d match(es)\n", p, count)
		}
		return NewResult(sb.String()), nil
	}

	pattern := EscapeRegex(patterns[0])
	if !args.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	conditions := []string{fmt.Sprintf("regex_matches(code_text, %q)", pattern)}
	if args.Path != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", args.Path))
	}
	if args.ExcludePattern != "" {
		conditions = append(conditions, fmt.Sprintf("negate(regex_matches(file_path, %q))", args.ExcludePattern))
	}

	query := fmt.Sprintf(
		"?[name, file_path, start_line, code_text] := "+
			"*ent_function { id, name, file_path, start_line }, "+
			"*ent_function_code { function_id: id, code_text }, %s :limit %d",
		strings.Join(conditions, ", "), args.Limit,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult(fmt.Sprintf("No matches for '%s'.", patterns[0])), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Matches for '%s' (%d found)\n\n", patterns[0], len(result.Rows))
	for _, row := range result.Rows {
		fmt.Fprintf(&sb, "- **%s** %s:%s\n", AnyToString(row[0]), AnyToString(row[1]), AnyToString(row[2]))
		if args.ContextLines > 0 {
			snippet := extractCodeSnippet(AnyToString(row[3]), args.ContextLines)
			fmt.Fprintf(&sb, "  ```\n  %s\n  ```\n", strings.ReplaceAll(snippet, "\n", "\n  "))
		}
	}
	return NewResult(sb.String()), nil
}

func grepCount(ctx context.Context, client Querier, pattern string, args GrepArgs) (int, error) {
	escaped := EscapeRegex(pattern)
	if !args.CaseSensitive {
		escaped = "(?i)" + escaped
	}
	conditions := []string{fmt.Sprintf("regex_matches(code_text, %q)", escaped)}
	if args.Path != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", args.Path))
	}
	query := fmt.Sprintf(
		"?[name] := *ent_function { id, name, file_path }, *ent_function_code { function_id: id, code_text }, %s",
		strings.Join(conditions, ", "),
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return len(result.Rows), nil
}

// VerifyAbsenceArgs holds arguments for confirming banned patterns do NOT
// appear in the indexed code (secret scanning, deprecated-API audits).
type VerifyAbsenceArgs struct {
	Patterns       []string
	Path           string
	ExcludePattern string
	CaseSensitive  bool
	Severity       string // "error" (default) or "warning" in the report header
}

// VerifyAbsence reports, for each pattern, whether it was found anywhere in
// the indexed code — the inverse of Grep, for audits that want a clean
// pass/fail rather than a list of matches.
func VerifyAbsence(ctx context.Context, client Querier, args VerifyAbsenceArgs) (*ToolResult, error) {
	if len(args.Patterns) == 0 {
		return NewError("Error: 'patterns' is required"), nil
	}
	severity := args.Severity
	if severity == "" {
		severity = "error"
	}

	var sb strings.Builder
	clean := true
	for _, p := range args.Patterns {
		count, err := grepCount(ctx, client, p, GrepArgs{Path: args.Path, ExcludePattern: args.ExcludePattern, CaseSensitive: args.CaseSensitive})
		if err != nil {
			fmt.Fprintf(&sb, "- `%s`: query error: %v\n", p, err)
			continue
		}
		if count > 0 {
			clean = false
			fmt.Fprintf(&sb, "❌ [%s] `%s` found in %d function(s)\n", strings.ToUpper(severity), p, count)
		} else {
			fmt.Fprintf(&sb, "✅ `%s` not found\n", p)
		}
	}

	header := "### Absence check: PASS\n\n"
	if !clean {
		header = "### Absence check: FAIL\n\n"
	}
	return NewResult(header + sb.String()), nil
}
