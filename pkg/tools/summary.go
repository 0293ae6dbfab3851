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
	"sort"
	"strings"
)

// GetFunctionCodeArgs holds arguments for fetching a function's source.
type GetFunctionCodeArgs struct {
	FunctionName string
	FullCode     bool // if false, only the first few lines are returned
}

// GetFunctionCode fetches the source text of a named function.
func GetFunctionCode(ctx context.Context, client Querier, args GetFunctionCodeArgs) (*ToolResult, error) {
	if args.FunctionName == "" {
		return NewError("Error: 'function_name' is required"), nil
	}

	query := fmt.Sprintf(
		"?[name, file_path, signature, start_line, end_line, code_text] := "+
			"*ent_function { id, name, file_path, signature, start_line, end_line }, "+
			"*ent_function_code { function_id: id, code_text }, "+
			"name == %q :limit 5",
		args.FunctionName,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult(fmt.Sprintf("Function '%s' not found", args.FunctionName)), nil
	}

	var sb strings.Builder
	for _, row := range result.Rows {
		name := AnyToString(row[0])
		filePath := AnyToString(row[1])
		signature := AnyToString(row[2])
		startLine := AnyToString(row[3])
		endLine := AnyToString(row[4])
		code := AnyToString(row[5])
		if !args.FullCode {
			code = extractCodeSnippet(code, 15)
		}
		lang := detectLanguage(filePath)
		fmt.Fprintf(&sb, "### %s\n\n", name)
		fmt.Fprintf(&sb, "**File:** %s:%s-%s\n\n", filePath, startLine, endLine)
		fmt.Fprintf(&sb, "**Signature:** `%s`\n\n", signature)
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", lang, code)
	}
	return NewResult(sb.String()), nil
}

// ListFunctionsInFileArgs holds arguments for listing a file's functions.
type ListFunctionsInFileArgs struct {
	FilePath string
}

// ListFunctionsInFile lists every function defined in a file, ordered by
// start line.
func ListFunctionsInFile(ctx context.Context, client Querier, args ListFunctionsInFileArgs) (*ToolResult, error) {
	if args.FilePath == "" {
		return NewError("Error: 'file_path' is required"), nil
	}

	query := fmt.Sprintf(
		"?[name, signature, start_line, end_line] := "+
			"*ent_function { name, file_path, signature, start_line, end_line }, "+
			"file_path == %q :sort start_line",
		args.FilePath,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult(fmt.Sprintf("No functions found in '%s'", args.FilePath)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Functions in %s\n\n", args.FilePath)
	for _, row := range result.Rows {
		fmt.Fprintf(&sb, "- **%s** (line %s-%s): `%s`\n", AnyToString(row[0]), AnyToString(row[2]), AnyToString(row[3]), AnyToString(row[1]))
	}
	return NewResult(sb.String()), nil
}

// GetCallGraphArgs holds arguments for a one-hop call graph around a function.
type GetCallGraphArgs struct {
	FunctionName string
}

// GetCallGraph shows the direct callers and callees of a function.
func GetCallGraph(ctx context.Context, client Querier, args GetCallGraphArgs) (*ToolResult, error) {
	if args.FunctionName == "" {
		return NewError("Error: 'function_name' is required"), nil
	}

	calleesQuery := fmt.Sprintf(
		"?[callee_name] := *ent_function { id, name: %q }, *ent_calls { caller_id: id, callee_id }, *ent_function { id: callee_id, name: callee_name }",
		args.FunctionName,
	)
	callersQuery := fmt.Sprintf(
		"?[caller_name] := *ent_function { id, name: %q }, *ent_calls { caller_id, callee_id: id }, *ent_function { id: caller_id, name: caller_name }",
		args.FunctionName,
	)

	callees, err := client.Query(ctx, calleesQuery)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	callers, err := client.Query(ctx, callersQuery)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Call graph for %s\n\n", args.FunctionName)
	sb.WriteString("**Callers:**\n")
	if len(callers.Rows) == 0 {
		sb.WriteString("- (none found)\n")
	}
	for _, row := range callers.Rows {
		fmt.Fprintf(&sb, "- %s\n", AnyToString(row[0]))
	}
	sb.WriteString("\n**Callees:**\n")
	if len(callees.Rows) == 0 {
		sb.WriteString("- (none found)\n")
	}
	for _, row := range callees.Rows {
		fmt.Fprintf(&sb, "- %s\n", AnyToString(row[0]))
	}
	return NewResult(sb.String()), nil
}

// FindSimilarFunctionsArgs holds arguments for name/signature-pattern search.
type FindSimilarFunctionsArgs struct {
	Pattern string
	Limit   int
}

// FindSimilarFunctions looks for functions whose name matches pattern as a
// regex, a cheaper cousin of SemanticSearch when no embedding server is
// configured.
func FindSimilarFunctions(ctx context.Context, client Querier, args FindSimilarFunctionsArgs) (*ToolResult, error) {
	if args.Pattern == "" {
		return NewError("Error: 'pattern' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	query := fmt.Sprintf(
		"?[name, file_path, signature, start_line] := "+
			"*ent_function { name, file_path, signature, start_line }, "+
			"regex_matches(name, %q) :limit %d",
		args.Pattern, args.Limit,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	return NewResult(FormatQueryResult(result, query)), nil
}

// GetFileSummaryArgs holds arguments for a single-file overview.
type GetFileSummaryArgs struct {
	FilePath string
}

// GetFileSummary reports a file's functions and types.
func GetFileSummary(ctx context.Context, client Querier, args GetFileSummaryArgs) (*ToolResult, error) {
	if args.FilePath == "" {
		return NewError("Error: 'file_path' is required"), nil
	}

	funcQuery := fmt.Sprintf(
		"?[name, signature, start_line] := *ent_function { name, file_path, signature, start_line }, file_path == %q :sort start_line",
		args.FilePath,
	)
	typeQuery := fmt.Sprintf(
		"?[name, kind, start_line] := *ent_type { name, kind, file_path, start_line }, file_path == %q :sort start_line",
		args.FilePath,
	)

	funcs, err := client.Query(ctx, funcQuery)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	types, err := client.Query(ctx, typeQuery)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", args.FilePath)
	fmt.Fprintf(&sb, "**Types (%d):**\n", len(types.Rows))
	for _, row := range types.Rows {
		fmt.Fprintf(&sb, "- %s (%s) line %s\n", AnyToString(row[0]), AnyToString(row[1]), AnyToString(row[2]))
	}
	fmt.Fprintf(&sb, "\n**Functions (%d):**\n", len(funcs.Rows))
	for _, row := range funcs.Rows {
		fmt.Fprintf(&sb, "- %s line %s: `%s`\n", AnyToString(row[0]), AnyToString(row[2]), AnyToString(row[1]))
	}
	return NewResult(sb.String()), nil
}

// AnalyzeArgs holds arguments for a natural-language architecture question.
// Analyze is intentionally heuristic: it routes the question to the text
// search / directory summary tools that best match its keywords rather than
// calling out to an LLM, since pkg/tools has no model client of its own.
type AnalyzeArgs struct {
	Question    string
	PathPattern string
	Role        string
}

// Analyze answers broad architecture questions by keyword-routing to the
// more specific tools (endpoints, services, directory summary, text search).
func Analyze(ctx context.Context, client Querier, args AnalyzeArgs) (*ToolResult, error) {
	if args.Question == "" {
		return NewError("Error: 'question' is required"), nil
	}
	q := strings.ToLower(args.Question)

	switch {
	case strings.Contains(q, "endpoint") || strings.Contains(q, "route") || strings.Contains(q, "api"):
		return ListEndpoints(ctx, client, ListEndpointsArgs{PathPattern: args.PathPattern, Limit: 100})
	case strings.Contains(q, "service"):
		return ListServices(ctx, client, args.PathPattern, "")
	case args.PathPattern != "":
		return DirectorySummary(ctx, client, args.PathPattern, 5)
	default:
		return SearchText(ctx, client, SearchTextArgs{Pattern: args.Question, SearchIn: "all", Limit: 20})
	}
}

// ListServices reports directories that look like independent services
// (contain a main entrypoint or match serviceName), grouped by top-level path.
func ListServices(ctx context.Context, client Querier, pathPattern, serviceName string) (*ToolResult, error) {
	conditions := []string{`regex_matches(name, "^(?i)main$")`}
	if pathPattern != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", pathPattern))
	}
	if serviceName != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", serviceName))
	}
	query := fmt.Sprintf(
		"?[file_path] := *ent_function { name, file_path }, %s",
		strings.Join(conditions, ", "),
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}

	seen := make(map[string]bool)
	var services []string
	for _, row := range result.Rows {
		dir := strings.TrimSuffix(AnyToString(row[0]), "/main.go")
		dir = dirOf(dir)
		if !seen[dir] {
			seen[dir] = true
			services = append(services, dir)
		}
	}
	sort.Strings(services)

	if len(services) == 0 {
		return NewResult("No services found."), nil
	}
	var sb strings.Builder
	sb.WriteString("### Services\n\n")
	for _, s := range services {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	return NewResult(sb.String()), nil
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// ListEndpointsArgs holds arguments for HTTP route discovery.
type ListEndpointsArgs struct {
	PathPattern string
	PathFilter  string
	Method      string
	Limit       int
}

// endpointPattern matches common router-registration call shapes across
// frameworks: router.GET("/path", ...), app.get('/path', ...), @app.route.
var endpointPattern = `(?i)\.(get|post|put|delete|patch|head|options)\(\s*['"]`

// ListEndpoints finds HTTP route registrations by scanning function code
// for router method-call patterns.
func ListEndpoints(ctx context.Context, client Querier, args ListEndpointsArgs) (*ToolResult, error) {
	if args.Limit <= 0 {
		args.Limit = 100
	}
	pattern := endpointPattern
	if args.Method != "" {
		pattern = fmt.Sprintf(`(?i)\.%s\(\s*['"]`, args.Method)
	}

	conditions := []string{fmt.Sprintf("regex_matches(code_text, %q)", pattern)}
	if args.PathPattern != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", args.PathPattern))
	}
	if args.PathFilter != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(code_text, %q)", args.PathFilter))
	}

	query := fmt.Sprintf(
		"?[name, file_path, start_line] := *ent_function { id, name, file_path, start_line }, "+
			"*ent_function_code { function_id: id, code_text }, %s :limit %d",
		strings.Join(conditions, ", "), args.Limit,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult("No endpoint registrations found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Endpoints (%d found)\n\n", len(result.Rows))
	for _, row := range result.Rows {
		fmt.Fprintf(&sb, "- **%s** %s:%s\n", AnyToString(row[0]), AnyToString(row[1]), AnyToString(row[2]))
	}
	return NewResult(sb.String()), nil
}

// DirectorySummary summarizes the files and top functions under path, up to
// maxFuncsPerFile functions per file with exported functions listed first.
func DirectorySummary(ctx context.Context, client Querier, path string, maxFuncsPerFile int) (*ToolResult, error) {
	if maxFuncsPerFile <= 0 {
		maxFuncsPerFile = 5
	}
	prefix := strings.TrimSuffix(path, "/")

	fileQuery := fmt.Sprintf(
		`?[id, path] := *ent_file { id, path }, starts_with(path, %q)`,
		prefix+"/",
	)
	result, err := client.Query(ctx, fileQuery)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult(fmt.Sprintf("No files found under '%s'.", path)), nil
	}

	filePaths := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		filePaths = append(filePaths, AnyToString(row[1]))
	}
	sort.Strings(filePaths)

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Directory summary: %s\n\n", path)
	for _, fp := range filePaths {
		funcQuery := fmt.Sprintf(
			"?[name, is_exported, start_line] := *ent_function { name, file_path, is_exported, start_line }, file_path == %q",
			fp,
		)
		fres, err := client.Query(ctx, funcQuery)
		if err != nil {
			continue
		}
		rows := fres.Rows
		sort.Slice(rows, func(i, j int) bool {
			ei, _ := rows[i][1].(bool)
			ej, _ := rows[j][1].(bool)
			if ei != ej {
				return ei
			}
			return AnyToString(rows[i][2]) < AnyToString(rows[j][2])
		})

		fmt.Fprintf(&sb, "**%s** (%d functions)\n", fp, len(rows))
		shown := rows
		if len(shown) > maxFuncsPerFile {
			shown = shown[:maxFuncsPerFile]
		}
		for _, row := range shown {
			fmt.Fprintf(&sb, "- %s (line %s)\n", AnyToString(row[0]), AnyToString(row[2]))
		}
		sb.WriteString("\n")
	}
	return NewResult(sb.String()), nil
}
