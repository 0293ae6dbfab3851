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

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// =============================================================================
// GO PARSER - Primary focus (90% of codebase)
// =============================================================================

// goFunctionContext holds context during Go AST walking.
type goFunctionContext struct {
	functions    []goFunctionWithNode
	funcNameToID map[string]string // Simple name -> ID for call resolution
	content      []byte
	filePath     string
	anonCounter  int // Counter for anonymous functions
}

// goFunctionWithNode pairs a function entity with its AST node for call extraction.
type goFunctionWithNode struct {
	entity FunctionEntity
	node   *sitter.Node
}

// goParseResult contains all extracted data from Go parsing.
type goParseResult struct {
	Functions       []FunctionEntity
	Types           []TypeEntity
	Fields          []FieldEntity
	Variables       []VariableEntity
	Calls           []CallsEdge
	Imports         []ImportEntity
	UnresolvedCalls []UnresolvedCall
	PackageName     string
}

// parseGoAST extracts functions, types, and call relationships from Go source using Tree-sitter.
//
// Extracts:
//   - Functions (func declarations)
//   - Methods (func with receivers)
//   - Function literals / closures
//   - Types (structs, interfaces)
//   - Function calls within the file
//   - Unresolved calls (for cross-package resolution)
//   - Package name
//
// This is the primary parser for Go code, providing the most accurate results.
func (p *TreeSitterParser) parseGoAST(parser *sitter.Parser, content []byte, filePath string) (*goParseResult, error) {
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	rootNode := tree.RootNode()
	if rootNode.HasError() {
		if errorCount := countErrors(rootNode); errorCount > 0 {
			p.logger.Warn("parser.treesitter.go.syntax_errors",
				"path", filePath,
				"error_count", errorCount,
			)
		}
		// Continue parsing - Tree-sitter is error-tolerant
	}

	// Extract package name
	packageName := p.extractGoPackageName(rootNode, content)

	// Extract imports (before function extraction)
	imports := p.extractGoImports(rootNode, content, filePath)

	// Initialize context
	ctx := &goFunctionContext{
		functions:    make([]goFunctionWithNode, 0),
		funcNameToID: make(map[string]string),
		content:      content,
		filePath:     filePath,
		anonCounter:  0,
	}

	// First pass: extract all functions with their AST nodes
	p.walkGoAST(rootNode, ctx)

	// Second pass: extract calls within each function using V2 (returns unresolved calls)
	var calls []CallsEdge
	var unresolvedCalls []UnresolvedCall
	for _, fnWithNode := range ctx.functions {
		localCalls, unresolved := p.extractGoCallsFromNodeV2(
			fnWithNode.node, content, fnWithNode.entity.ID,
			ctx.funcNameToID, filePath)
		calls = append(calls, localCalls...)
		unresolvedCalls = append(unresolvedCalls, unresolved...)
	}

	// Extract just the entities
	functions := make([]FunctionEntity, len(ctx.functions))
	for i, fn := range ctx.functions {
		functions[i] = fn.entity
	}

	// Extract types (structs, interfaces, type aliases) and struct fields
	types, fields := p.extractGoTypesAndFields(rootNode, content, filePath)

	// Extract package-level var/const declarations (function-local variables are not indexed)
	variables := p.extractGoVariables(rootNode, content, filePath)

	return &goParseResult{
		Functions:       functions,
		Types:           types,
		Fields:          fields,
		Variables:       variables,
		Calls:           calls,
		Imports:         imports,
		UnresolvedCalls: unresolvedCalls,
		PackageName:     packageName,
	}, nil
}

// extractGoVariables walks the top-level declarations of a Go file looking
// for var_declaration and const_declaration nodes. Only package-level
// declarations are collected; declarations nested inside function bodies are
// skipped by not recursing into function/method bodies.
func (p *TreeSitterParser) extractGoVariables(rootNode *sitter.Node, content []byte, filePath string) []VariableEntity {
	var variables []VariableEntity
	if rootNode == nil {
		return variables
	}
	for i := 0; i < int(rootNode.ChildCount()); i++ {
		child := rootNode.Child(i)
		switch child.Type() {
		case "var_declaration":
			variables = append(variables, p.extractGoVarOrConstSpecs(child, content, filePath, false)...)
		case "const_declaration":
			variables = append(variables, p.extractGoVarOrConstSpecs(child, content, filePath, true)...)
		}
	}
	return variables
}

// extractGoVarOrConstSpecs extracts variable entities from a var/const
// declaration, handling both a single spec ("var x int") and a spec block
// ("var ( x int; y string )"). A spec declaring multiple names on one line
// ("var x, y int") is represented by its first name only.
func (p *TreeSitterParser) extractGoVarOrConstSpecs(node *sitter.Node, content []byte, filePath string, isConst bool) []VariableEntity {
	var out []VariableEntity
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "var_spec", "const_spec":
			if v := p.extractGoVarSpec(child, content, filePath, isConst); v != nil {
				out = append(out, *v)
			}
		case "var_spec_list", "const_spec_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() == "var_spec" || spec.Type() == "const_spec" {
					if v := p.extractGoVarSpec(spec, content, filePath, isConst); v != nil {
						out = append(out, *v)
					}
				}
			}
		}
	}
	return out
}

// extractGoVarSpec extracts a single variable entity from a var_spec/const_spec node.
func (p *TreeSitterParser) extractGoVarSpec(node *sitter.Node, content []byte, filePath string, isConst bool) *VariableEntity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])

	varType := ""
	if typeNode := node.ChildByFieldName("type"); typeNode != nil {
		varType = string(content[typeNode.StartByte():typeNode.EndByte()])
	}

	startLine := int(node.StartPoint().Row) + 1
	id := GenerateVariableID(filePath, name, startLine)

	return &VariableEntity{
		ID:         id,
		Name:       name,
		VarType:    varType,
		FilePath:   filePath,
		StartLine:  startLine,
		IsConst:    isConst,
		IsExported: isExportedName(name),
	}
}

// walkGoAST recursively walks the Go AST to find all function declarations.
func (p *TreeSitterParser) walkGoAST(node *sitter.Node, ctx *goFunctionContext) {
	if node == nil {
		return
	}

	nodeType := node.Type()

	switch nodeType {
	case "function_declaration":
		fn := p.extractGoFunctionDeclaration(node, ctx)
		if fn != nil {
			ctx.functions = append(ctx.functions, goFunctionWithNode{entity: *fn, node: node})
			// Store by simple name for call resolution
			ctx.funcNameToID[fn.Name] = fn.ID
		}

	case "method_declaration":
		fn := p.extractGoMethodDeclaration(node, ctx)
		if fn != nil {
			ctx.functions = append(ctx.functions, goFunctionWithNode{entity: *fn, node: node})
			// Store by simple name (without receiver) for call resolution
			// e.g., for "(s *Server) Start()", store "Start" -> ID
			simpleName := extractSimpleName(fn.Name)
			ctx.funcNameToID[simpleName] = fn.ID
		}

	case "func_literal":
		fn := p.extractGoFuncLiteral(node, ctx)
		if fn != nil {
			ctx.functions = append(ctx.functions, goFunctionWithNode{entity: *fn, node: node})
			// Anonymous functions aren't called by name, so don't add to funcNameToID
		}
	}

	// Recurse into children
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		p.walkGoAST(child, ctx)
	}
}

// extractGoFunctionDeclaration extracts a Go function declaration.
// Handles: func foo(), func foo[T any](), func init()
func (p *TreeSitterParser) extractGoFunctionDeclaration(node *sitter.Node, ctx *goFunctionContext) *FunctionEntity {
	// Get function name
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := string(ctx.content[nameNode.StartByte():nameNode.EndByte()])

	// Get type parameters (generics)
	typeParamsNode := node.ChildByFieldName("type_parameters")
	var typeParams string
	if typeParamsNode != nil {
		typeParams = string(ctx.content[typeParamsNode.StartByte():typeParamsNode.EndByte()])
	}

	// Get parameters
	paramsNode := node.ChildByFieldName("parameters")
	var params string
	if paramsNode != nil {
		params = string(ctx.content[paramsNode.StartByte():paramsNode.EndByte()])
	}

	// Get return type (result)
	resultNode := node.ChildByFieldName("result")
	var result string
	if resultNode != nil {
		result = string(ctx.content[resultNode.StartByte():resultNode.EndByte()])
	}

	// Build signature: func Name[T](...) result
	var sigBuilder strings.Builder
	sigBuilder.WriteString("func ")
	sigBuilder.WriteString(name)
	if typeParams != "" {
		sigBuilder.WriteString(typeParams)
	}
	sigBuilder.WriteString(params)
	if result != "" {
		sigBuilder.WriteString(" ")
		sigBuilder.WriteString(result)
	}
	signature := sigBuilder.String()

	return p.createGoFunctionEntity(node, ctx, name, signature)
}

// extractGoMethodDeclaration extracts a Go method declaration.
// Handles: func (r *Receiver) Method(), func (r Receiver) Method[T any]()
func (p *TreeSitterParser) extractGoMethodDeclaration(node *sitter.Node, ctx *goFunctionContext) *FunctionEntity {
	// Get method name
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	methodName := string(ctx.content[nameNode.StartByte():nameNode.EndByte()])

	// Get receiver
	receiverNode := node.ChildByFieldName("receiver")
	var receiver string
	var receiverType string
	if receiverNode != nil {
		receiver = string(ctx.content[receiverNode.StartByte():receiverNode.EndByte()])
		receiverType = extractReceiverType(receiverNode, ctx.content)
	}

	// Get type parameters (generics)
	typeParamsNode := node.ChildByFieldName("type_parameters")
	var typeParams string
	if typeParamsNode != nil {
		typeParams = string(ctx.content[typeParamsNode.StartByte():typeParamsNode.EndByte()])
	}

	// Get parameters
	paramsNode := node.ChildByFieldName("parameters")
	var params string
	if paramsNode != nil {
		params = string(ctx.content[paramsNode.StartByte():paramsNode.EndByte()])
	}

	// Get return type
	resultNode := node.ChildByFieldName("result")
	var result string
	if resultNode != nil {
		result = string(ctx.content[resultNode.StartByte():resultNode.EndByte()])
	}

	// Build full name: ReceiverType.MethodName
	var fullName string
	if receiverType != "" {
		fullName = receiverType + "." + methodName
	} else {
		fullName = methodName
	}

	// Build signature: func (r *Type) Method[T](...) result
	var sigBuilder strings.Builder
	sigBuilder.WriteString("func ")
	sigBuilder.WriteString(receiver)
	sigBuilder.WriteString(" ")
	sigBuilder.WriteString(methodName)
	if typeParams != "" {
		sigBuilder.WriteString(typeParams)
	}
	sigBuilder.WriteString(params)
	if result != "" {
		sigBuilder.WriteString(" ")
		sigBuilder.WriteString(result)
	}
	signature := sigBuilder.String()

	return p.createGoFunctionEntity(node, ctx, fullName, signature)
}

// extractGoFuncLiteral extracts an anonymous function/closure.
// Handles: func() {}, func(x int) int {}
func (p *TreeSitterParser) extractGoFuncLiteral(node *sitter.Node, ctx *goFunctionContext) *FunctionEntity {
	// Anonymous functions use position-based naming
	ctx.anonCounter++
	name := fmt.Sprintf("$anon_%d", ctx.anonCounter)

	// Get parameters
	paramsNode := node.ChildByFieldName("parameters")
	var params string
	if paramsNode != nil {
		params = string(ctx.content[paramsNode.StartByte():paramsNode.EndByte()])
	}

	// Get return type
	resultNode := node.ChildByFieldName("result")
	var result string
	if resultNode != nil {
		result = string(ctx.content[resultNode.StartByte():resultNode.EndByte()])
	}

	// Build signature
	var sigBuilder strings.Builder
	sigBuilder.WriteString("func")
	sigBuilder.WriteString(params)
	if result != "" {
		sigBuilder.WriteString(" ")
		sigBuilder.WriteString(result)
	}
	signature := sigBuilder.String()

	return p.createGoFunctionEntity(node, ctx, name, signature)
}

// createGoFunctionEntity creates a FunctionEntity from parsed data.
func (p *TreeSitterParser) createGoFunctionEntity(node *sitter.Node, ctx *goFunctionContext, name, signature string) *FunctionEntity {
	// Get positions (1-indexed)
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1
	startCol := int(node.StartPoint().Column) + 1
	endCol := int(node.EndPoint().Column) + 1

	// Get code text
	codeText := string(ctx.content[node.StartByte():node.EndByte()])
	codeText = p.truncateCodeText(codeText)

	// Generate deterministic ID
	id := GenerateFunctionID(ctx.filePath, name, signature, startLine, endLine, startCol, endCol)

	return &FunctionEntity{
		ID:         id,
		Name:       name,
		Signature:  signature,
		FilePath:   ctx.filePath,
		CodeText:   codeText,
		DocComment: extractGoLeadingDocComment(node, ctx.content),
		StartLine:  startLine,
		EndLine:    endLine,
		StartCol:   startCol,
		EndCol:     endCol,
		IsExported: isGoNameExported(name),
		IsAsync:    isGoAsyncSignature(signature),
	}
}

// extractGoLeadingDocComment walks backward over the declaration's preceding
// siblings and collects a contiguous run of `//` or `/* */` comments with no
// blank-line gap, mirroring Go's own doc-comment convention (godoc requires
// the comment to sit directly above the declaration).
func extractGoLeadingDocComment(node *sitter.Node, content []byte) string {
	sib := node.PrevSibling()
	if sib == nil || sib.Type() != "comment" || node.StartPoint().Row-sib.EndPoint().Row > 1 {
		return ""
	}

	var comments []*sitter.Node
	for sib != nil && sib.Type() == "comment" {
		comments = append(comments, sib)
		prev := sib.PrevSibling()
		if prev == nil || prev.Type() != "comment" || sib.StartPoint().Row-prev.EndPoint().Row > 1 {
			break
		}
		sib = prev
	}

	lines := make([]string, len(comments))
	for i, c := range comments {
		text := string(content[c.StartByte():c.EndByte()])
		text = strings.TrimPrefix(text, "//")
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		lines[len(comments)-1-i] = strings.TrimSpace(text)
	}
	return strings.Join(lines, " ")
}

// isGoNameExported applies Go's capitalization export rule, accounting for
// method full names of the form "Receiver.Method".
func isGoNameExported(name string) bool {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	r, _ := utf8.DecodeRuneInString(name)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

// isGoAsyncSignature flags functions whose signature traffics in channels,
// the idiomatic Go stand-in for "async" since the language has no async
// keyword of its own.
func isGoAsyncSignature(signature string) bool {
	return strings.Contains(signature, "chan ") ||
		strings.Contains(signature, "chan<-") ||
		strings.Contains(signature, "<-chan")
}

// extractReceiverType extracts the type name from a receiver parameter.
// e.g., from "(s *Server)" extracts "Server", from "(s Server[T])" extracts "Server"
func extractReceiverType(receiverNode *sitter.Node, content []byte) string {
	if receiverNode == nil {
		return ""
	}

	// Walk through receiver to find the type
	// Structure: parameter_list > parameter_declaration > type
	for i := 0; i < int(receiverNode.ChildCount()); i++ {
		child := receiverNode.Child(i)
		if child.Type() == "parameter_declaration" {
			typeNode := child.ChildByFieldName("type")
			if typeNode != nil {
				return extractBaseTypeName(typeNode, content)
			}
		}
	}
	return ""
}

// extractBaseTypeName extracts the base type name, handling pointers and generics.
// e.g., *Server -> Server, Server[T] -> Server, *Server[T] -> Server
func extractBaseTypeName(typeNode *sitter.Node, content []byte) string {
	if typeNode == nil {
		return ""
	}

	nodeType := typeNode.Type()

	// Pointer type: *T
	if nodeType == "pointer_type" {
		// Get the underlying type
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			child := typeNode.Child(i)
			if child.Type() != "*" {
				return extractBaseTypeName(child, content)
			}
		}
	}

	// Generic type: T[U]
	if nodeType == "generic_type" {
		typeNameNode := typeNode.ChildByFieldName("type")
		if typeNameNode != nil {
			return string(content[typeNameNode.StartByte():typeNameNode.EndByte()])
		}
	}

	// Qualified type: pkg.Type (e.g., tools.Querier → Querier)
	// Strip the package qualifier to match how ent_implements stores interface names.
	if nodeType == "qualified_type" {
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			child := typeNode.Child(i)
			if child.Type() == "type_identifier" {
				return string(content[child.StartByte():child.EndByte()])
			}
		}
	}

	// Simple type identifier
	if nodeType == "type_identifier" {
		return string(content[typeNode.StartByte():typeNode.EndByte()])
	}

	// Fallback: return the whole thing
	typeName := string(content[typeNode.StartByte():typeNode.EndByte()])
	// Strip pointer prefix if present
	typeName = strings.TrimPrefix(typeName, "*")
	// Strip generic suffix if present
	if idx := strings.Index(typeName, "["); idx > 0 {
		typeName = typeName[:idx]
	}
	return typeName
}

// extractSimpleName extracts the simple method name from a full name.
// e.g., "Server.Start" -> "Start"
func extractSimpleName(fullName string) string {
	if idx := strings.LastIndex(fullName, "."); idx >= 0 {
		return fullName[idx+1:]
	}
	return fullName
}

// extractGoCalleeName extracts the function name from a Go call expression.
func (p *TreeSitterParser) extractGoCalleeName(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}

	nodeType := node.Type()

	// Simple identifier: foo()
	if nodeType == "identifier" {
		return string(content[node.StartByte():node.EndByte()])
	}

	// Selector expression: pkg.Foo() or obj.Method()
	if nodeType == "selector_expression" {
		fieldNode := node.ChildByFieldName("field")
		if fieldNode != nil {
			return string(content[fieldNode.StartByte():fieldNode.EndByte()])
		}
	}

	// Generic function call: foo[T]()
	if nodeType == "type_arguments" {
		// This is the type args, we need the parent's function
		return ""
	}

	// Index expression with type args: foo[int]()
	if nodeType == "index_expression" {
		operandNode := node.ChildByFieldName("operand")
		if operandNode != nil {
			return p.extractGoCalleeName(operandNode, content)
		}
	}

	return ""
}

// extractGoCalleeNameFull extracts the full call expression (e.g., "pkg.Foo" or "foo").
// Used for cross-package call resolution.
func (p *TreeSitterParser) extractGoCalleeNameFull(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}

	nodeType := node.Type()

	// Simple identifier: foo()
	if nodeType == "identifier" {
		return string(content[node.StartByte():node.EndByte()])
	}

	// Selector expression: pkg.Foo() or obj.Method()
	if nodeType == "selector_expression" {
		// Return the full expression: "pkg.Foo"
		return string(content[node.StartByte():node.EndByte()])
	}

	// Index expression with type args: foo[int]()
	if nodeType == "index_expression" {
		operandNode := node.ChildByFieldName("operand")
		if operandNode != nil {
			return p.extractGoCalleeNameFull(operandNode, content)
		}
	}

	return ""
}

// extractGoPackageName extracts the package name from a Go source file.
func (p *TreeSitterParser) extractGoPackageName(rootNode *sitter.Node, content []byte) string {
	if rootNode == nil {
		return ""
	}

	// Find package_clause node at the top level
	for i := 0; i < int(rootNode.ChildCount()); i++ {
		child := rootNode.Child(i)
		if child.Type() == "package_clause" {
			// Package clause structure: package <name>
			nameNode := child.ChildByFieldName("name")
			if nameNode != nil {
				return string(content[nameNode.StartByte():nameNode.EndByte()])
			}
			// Fallback: look for identifier child
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				if grandchild.Type() == "package_identifier" {
					return string(content[grandchild.StartByte():grandchild.EndByte()])
				}
			}
		}
	}
	return ""
}

// extractGoImports extracts all import declarations from a Go source file.
func (p *TreeSitterParser) extractGoImports(rootNode *sitter.Node, content []byte, filePath string) []ImportEntity {
	var imports []ImportEntity

	if rootNode == nil {
		return imports
	}

	// Find import_declaration nodes at the top level
	for i := 0; i < int(rootNode.ChildCount()); i++ {
		child := rootNode.Child(i)
		if child.Type() == "import_declaration" {
			imports = append(imports, p.extractGoImportDeclaration(child, content, filePath)...)
		}
	}

	return imports
}

// extractGoImportDeclaration extracts imports from a single import declaration.
// Handles both single imports and import blocks.
func (p *TreeSitterParser) extractGoImportDeclaration(node *sitter.Node, content []byte, filePath string) []ImportEntity {
	var imports []ImportEntity

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import_spec":
			// Single import: import "fmt" or import alias "pkg/path"
			imp := p.extractGoImportSpec(child, content, filePath)
			if imp != nil {
				imports = append(imports, *imp)
			}
		case "import_spec_list":
			// Import block: import ( ... )
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() == "import_spec" {
					imp := p.extractGoImportSpec(spec, content, filePath)
					if imp != nil {
						imports = append(imports, *imp)
					}
				}
			}
		}
	}

	return imports
}

// extractGoImportSpec extracts a single import spec.
func (p *TreeSitterParser) extractGoImportSpec(node *sitter.Node, content []byte, filePath string) *ImportEntity {
	// Get the import path (required)
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		// Fallback: look for interpreted_string_literal child
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "interpreted_string_literal" {
				pathNode = child
				break
			}
		}
	}
	if pathNode == nil {
		return nil
	}

	// Remove quotes from path
	importPath := string(content[pathNode.StartByte():pathNode.EndByte()])
	importPath = strings.Trim(importPath, `"`)

	// Get optional alias (name field)
	alias := ""
	nameNode := node.ChildByFieldName("name")
	if nameNode != nil {
		alias = string(content[nameNode.StartByte():nameNode.EndByte()])
	} else {
		// Check for dot import or blank import
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "dot" || child.Type() == "." {
				alias = "."
				break
			}
			if child.Type() == "blank_identifier" {
				alias = "_"
				break
			}
			if child.Type() == "package_identifier" {
				alias = string(content[child.StartByte():child.EndByte()])
				break
			}
		}
	}

	return &ImportEntity{
		ID:         GenerateImportID(filePath, importPath),
		FilePath:   filePath,
		ImportPath: importPath,
		Alias:      alias,
		StartLine:  int(node.StartPoint().Row) + 1,
	}
}

// extractGoCallsFromNodeV2 extracts calls from a function, returning both
// resolved (same-file) calls and unresolved (cross-package) calls.
func (p *TreeSitterParser) extractGoCallsFromNodeV2(
	fnNode *sitter.Node, content []byte, callerID string,
	funcNameToID map[string]string, filePath string,
) ([]CallsEdge, []UnresolvedCall) {
	var localCalls []CallsEdge
	var unresolvedCalls []UnresolvedCall

	if fnNode == nil {
		return localCalls, unresolvedCalls
	}

	// Find the body of the function
	bodyNode := fnNode.ChildByFieldName("body")
	if bodyNode == nil {
		// For func_literal, look for block child
		for i := 0; i < int(fnNode.ChildCount()); i++ {
			child := fnNode.Child(i)
			if child.Type() == "block" {
				bodyNode = child
				break
			}
		}
	}
	if bodyNode == nil {
		return localCalls, unresolvedCalls
	}

	// Track seen edges to avoid duplicates
	seenLocal := make(map[string]bool)
	seenUnresolved := make(map[string]bool)

	// Walk to find call expressions
	p.walkGoCallExpressionsV2(bodyNode, content, callerID, funcNameToID, filePath,
		&localCalls, &unresolvedCalls, seenLocal, seenUnresolved)

	return localCalls, unresolvedCalls
}

// walkGoCallExpressionsV2 finds call expressions and categorizes them as local or unresolved.
func (p *TreeSitterParser) walkGoCallExpressionsV2(
	node *sitter.Node, content []byte, callerID string,
	funcNameToID map[string]string, filePath string,
	localCalls *[]CallsEdge, unresolvedCalls *[]UnresolvedCall,
	seenLocal, seenUnresolved map[string]bool,
) {
	if node == nil {
		return
	}

	if node.Type() == "call_expression" {
		p.processGoCallExpression(node, content, callerID, funcNameToID, filePath,
			localCalls, unresolvedCalls, seenLocal, seenUnresolved)
	}

	// Recurse into children
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		p.walkGoCallExpressionsV2(child, content, callerID, funcNameToID, filePath,
			localCalls, unresolvedCalls, seenLocal, seenUnresolved)
	}
}

// processGoCallExpression processes a single call expression node, categorizing
// it as a local call, an unresolved cross-package call, or a self-name field call.
func (p *TreeSitterParser) processGoCallExpression(
	node *sitter.Node, content []byte, callerID string,
	funcNameToID map[string]string, filePath string,
	localCalls *[]CallsEdge, unresolvedCalls *[]UnresolvedCall,
	seenLocal, seenUnresolved map[string]bool,
) {
	funcNode := node.ChildByFieldName("function")
	if funcNode == nil {
		return
	}

	simpleName := p.extractGoCalleeName(funcNode, content)
	fullName := p.extractGoCalleeNameFull(funcNode, content)

	if simpleName == "" {
		return
	}

	calleeID, exists := funcNameToID[simpleName]
	if exists {
		if calleeID != callerID {
			// Local call to a different function in the same file
			edgeKey := callerID + "->" + calleeID
			if !seenLocal[edgeKey] {
				seenLocal[edgeKey] = true
				*localCalls = append(*localCalls, CallsEdge{CallerID: callerID, CalleeID: calleeID})
			}
		} else if fullName != "" && fullName != simpleName {
			// Self-name match but different full name: e.g., Query() calling
			// b.db.Query() — simpleName "Query" matches self, but fullName
			// "b.db.Query" is a field method call through a different target.
			p.addUnresolvedCall(node, callerID, fullName, filePath, unresolvedCalls, seenUnresolved)
		}
		return
	}

	if fullName != "" {
		p.addUnresolvedCall(node, callerID, fullName, filePath, unresolvedCalls, seenUnresolved)
	}
}

// addUnresolvedCall stores an unresolved call if not already seen.
func (p *TreeSitterParser) addUnresolvedCall(
	node *sitter.Node, callerID, calleeName, filePath string,
	unresolvedCalls *[]UnresolvedCall, seenUnresolved map[string]bool,
) {
	callLine := int(node.StartPoint().Row) + 1
	key := callerID + "->" + calleeName
	if !seenUnresolved[key] {
		seenUnresolved[key] = true
		*unresolvedCalls = append(*unresolvedCalls, UnresolvedCall{
			CallerID:   callerID,
			CalleeName: calleeName,
			FilePath:   filePath,
			Line:       callLine,
		})
	}
}

// parseGoFile extracts functions from Go source code.
// Uses simplified brace counting and pattern matching.
// Limitations:
//   - May not correctly handle functions nested in structs/interfaces
//   - Complex generic signatures may be incomplete
//   - Call graph extraction is same-file only using regex matching
//
// For more accurate parsing, use Tree-sitter parser (ParserModeTreeSitter).
func (p *Parser) parseGoFile(content, filePath string) ([]FunctionEntity, []CallsEdge) {
	var functions []FunctionEntity

	lines := strings.Split(content, "\n")

	// Simple pattern matching for function declarations
	// Pattern: func [Receiver] Name([params]) [return_type] {
	inFunction := false
	var currentFn *FunctionEntity
	var fnStartLine int
	var fnLines []string

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		// Detect function start
		if strings.HasPrefix(trimmed, "func ") {
			// Save previous function if any
			if currentFn != nil {
				currentFn.EndLine = fnStartLine + len(fnLines) - 1
				codeText := strings.Join(fnLines, "\n")
				currentFn.CodeText = p.truncateCodeText(codeText)
				functions = append(functions, *currentFn)
			}

			// Parse new function
			fnName, signature := p.extractGoFunctionSignature(trimmed)
			if fnName != "" {
				currentFn = &FunctionEntity{
					ID:        GenerateFunctionID(filePath, fnName, signature, lineNum, lineNum, 1, len(line)),
					Name:      fnName,
					Signature: signature,
					FilePath:  filePath,
					StartLine: lineNum,
					EndLine:   lineNum,
					StartCol:  1,
					EndCol:    len(line),
				}
				fnStartLine = lineNum
				fnLines = []string{line}
				inFunction = true
			}
		} else if inFunction {
			fnLines = append(fnLines, line)
			// Detect function end (simple heuristic: closing brace at start of line)
			if trimmed == "}" && len(fnLines) > 1 {
				// Check if this is the function's closing brace
				braceCount := 0
				for _, l := range fnLines {
					braceCount += strings.Count(l, "{") - strings.Count(l, "}")
				}
				if braceCount == 0 {
					inFunction = false
					if currentFn != nil {
						currentFn.EndLine = lineNum
						codeText := strings.Join(fnLines, "\n")
						currentFn.CodeText = p.truncateCodeText(codeText)
						functions = append(functions, *currentFn)
						currentFn = nil
					}
				}
			}
		}
	}

	// Save last function if any
	if currentFn != nil {
		currentFn.EndLine = len(lines)
		codeText := strings.Join(fnLines, "\n")
		currentFn.CodeText = p.truncateCodeText(codeText)
		functions = append(functions, *currentFn)
	}

	// Extract calls (same-file function calls only)
	calls := p.extractGoCallsSimplified(functions, content)

	return functions, calls
}

// extractGoCallsSimplified extracts same-file function calls using pattern matching.
// This is a simplified implementation that detects identifier() patterns and matches
// them against known function names in the file.
func (p *Parser) extractGoCallsSimplified(functions []FunctionEntity, content string) []CallsEdge {
	var calls []CallsEdge

	// Build map of function names to IDs
	funcNameToID := make(map[string]string)
	for _, fn := range functions {
		// Extract simple name (without receiver prefix)
		simpleName := fn.Name
		if idx := strings.LastIndex(fn.Name, "."); idx >= 0 {
			simpleName = fn.Name[idx+1:]
		}
		funcNameToID[simpleName] = fn.ID
	}

	// For each function, find calls to other functions in the file
	for _, caller := range functions {
		callerBody := caller.CodeText

		// Skip the function signature line
		if idx := strings.Index(callerBody, "{"); idx >= 0 {
			callerBody = callerBody[idx+1:]
		}

		// Find all potential function calls using pattern matching
		calledFuncs := p.findGoCalls(callerBody)

		// Match against known functions
		seenCalls := make(map[string]bool)
		for _, calledName := range calledFuncs {
			if calleeID, exists := funcNameToID[calledName]; exists {
				// Skip self-calls and duplicates
				if calleeID == caller.ID {
					continue
				}
				edgeKey := caller.ID + "->" + calleeID
				if seenCalls[edgeKey] {
					continue
				}
				seenCalls[edgeKey] = true
				calls = append(calls, CallsEdge{
					CallerID: caller.ID,
					CalleeID: calleeID,
				})
			}
		}
	}

	return calls
}

// goParseState tracks state during Go code parsing.
type goParseState struct {
	code          string
	pos           int
	inString      bool
	inComment     bool
	inLineComment bool
}

// findGoCalls extracts potential function call names from Go code.
// Looks for patterns like: identifier(, obj.method(, etc.
func (p *Parser) findGoCalls(code string) []string {
	var calls []string
	state := &goParseState{code: code}

	for state.pos < len(code) {
		if state.handleGoComment() {
			continue
		}
		if state.inComment || state.inLineComment {
			state.pos++
			continue
		}
		if state.handleGoString() {
			continue
		}
		if state.inString {
			state.pos++
			continue
		}
		if call := state.extractGoCall(); call != "" {
			calls = append(calls, call)
			continue
		}
		state.pos++
	}
	return calls
}

// handleGoComment handles Go comments.
func (s *goParseState) handleGoComment() bool {
	if s.inString {
		return false
	}
	if s.pos+1 < len(s.code) {
		if s.code[s.pos] == '/' && s.code[s.pos+1] == '/' {
			s.inLineComment = true
			s.pos += 2
			return true
		}
		if s.code[s.pos] == '/' && s.code[s.pos+1] == '*' {
			s.inComment = true
			s.pos += 2
			return true
		}
	}
	if s.inLineComment && s.pos < len(s.code) && s.code[s.pos] == '\n' {
		s.inLineComment = false
		s.pos++
		return true
	}
	if s.inComment && s.pos+1 < len(s.code) && s.code[s.pos] == '*' && s.code[s.pos+1] == '/' {
		s.inComment = false
		s.pos += 2
		return true
	}
	return false
}

// handleGoString handles Go strings including raw strings.
func (s *goParseState) handleGoString() bool {
	if s.pos >= len(s.code) {
		return false
	}
	c := s.code[s.pos]
	// Regular string toggle
	if c == '"' && (s.pos == 0 || s.code[s.pos-1] != '\\') {
		s.inString = !s.inString
		s.pos++
		return true
	}
	// Raw string - skip entirely
	if c == '`' {
		s.pos++
		for s.pos < len(s.code) && s.code[s.pos] != '`' {
			s.pos++
		}
		if s.pos < len(s.code) {
			s.pos++
		}
		return true
	}
	return false
}

// extractGoCall extracts a function call if present.
func (s *goParseState) extractGoCall() string {
	if s.pos >= len(s.code) || !isGoIdentStart(s.code[s.pos]) {
		return ""
	}
	start := s.pos
	for s.pos < len(s.code) && isGoIdentChar(s.code[s.pos]) {
		s.pos++
	}
	name := s.code[start:s.pos]

	// Skip whitespace
	for s.pos < len(s.code) && (s.code[s.pos] == ' ' || s.code[s.pos] == '\t' || s.code[s.pos] == '\n') {
		s.pos++
	}

	if s.pos < len(s.code) && s.code[s.pos] == '(' && !isGoKeyword(name) {
		return name
	}
	return ""
}

// isGoIdentStart checks if c can start a Go identifier.
func isGoIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// isGoIdentChar checks if c can be part of a Go identifier.
func isGoIdentChar(c byte) bool {
	return isGoIdentStart(c) || (c >= '0' && c <= '9')
}

// isGoKeyword checks if name is a Go keyword.
func isGoKeyword(name string) bool {
	keywords := map[string]bool{
		"break": true, "case": true, "chan": true, "const": true,
		"continue": true, "default": true, "defer": true, "else": true,
		"fallthrough": true, "for": true, "func": true, "go": true,
		"goto": true, "if": true, "import": true, "interface": true,
		"map": true, "package": true, "range": true, "return": true,
		"select": true, "struct": true, "switch": true, "type": true,
		"var": true, "make": true, "new": true, "append": true,
		"copy": true, "delete": true, "len": true, "cap": true,
		"close": true, "panic": true, "recover": true, "print": true,
		"println": true, "complex": true, "real": true, "imag": true,
	}
	return keywords[name]
}

// extractGoFunctionSignature extracts function name and signature from a Go function declaration line.
func (p *Parser) extractGoFunctionSignature(line string) (name, signature string) {
	// Remove "func " prefix
	rest := strings.TrimPrefix(line, "func ")
	if rest == line {
		return "", ""
	}

	// Handle receiver: (r *Receiver) or (r Receiver)
	if strings.HasPrefix(rest, "(") {
		// Find closing paren
		idx := strings.Index(rest, ")")
		if idx == -1 {
			return "", ""
		}
		rest = strings.TrimSpace(rest[idx+1:])
	}

	// Extract function name (up to opening paren)
	parenIdx := strings.Index(rest, "(")
	if parenIdx == -1 {
		return "", ""
	}

	name = strings.TrimSpace(rest[:parenIdx])
	braceIdx := strings.Index(rest, "{")
	if braceIdx == -1 {
		// No opening brace found, use the whole rest as signature
		signature = strings.TrimSpace(rest)
	} else {
		signature = strings.TrimSpace(rest[:braceIdx])
	}

	return name, signature
}

// =============================================================================
// GO TYPE EXTRACTION
// =============================================================================

// extractGoTypesAndFields extracts all type declarations and struct fields from Go source.
// Fields are extracted from struct types to support interface dispatch resolution.
func (p *TreeSitterParser) extractGoTypesAndFields(rootNode *sitter.Node, content []byte, filePath string) ([]TypeEntity, []FieldEntity) {
	var types []TypeEntity
	var fields []FieldEntity

	if rootNode == nil {
		return types, fields
	}

	// Walk all top-level declarations looking for type declarations
	p.walkGoTypesAST(rootNode, content, filePath, &types, &fields)

	return types, fields
}

// walkGoTypesAST recursively walks the Go AST to find type declarations.
func (p *TreeSitterParser) walkGoTypesAST(node *sitter.Node, content []byte, filePath string, types *[]TypeEntity, fields *[]FieldEntity) {
	if node == nil {
		return
	}

	nodeType := node.Type()

	// Only process type_declaration at top level and inside type blocks
	if nodeType == "type_declaration" {
		p.extractGoTypeDeclaration(node, content, filePath, types, fields)
	}

	// Recurse into children
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		p.walkGoTypesAST(child, content, filePath, types, fields)
	}
}

// extractGoTypeDeclaration extracts types from a type declaration node.
// Handles both single type declarations and type blocks.
func (p *TreeSitterParser) extractGoTypeDeclaration(node *sitter.Node, content []byte, filePath string, types *[]TypeEntity, fields *[]FieldEntity) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)

		switch child.Type() {
		case "type_spec":
			// Single type: type Foo struct { ... }
			te, specFields := p.extractGoTypeSpecWithFields(child, content, filePath)
			if te != nil {
				*types = append(*types, *te)
			}
			if fields != nil {
				*fields = append(*fields, specFields...)
			}
		case "type_spec_list":
			// Type block: type ( Foo struct { ... }; Bar interface { ... } )
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() == "type_spec" {
					te, specFields := p.extractGoTypeSpecWithFields(spec, content, filePath)
					if te != nil {
						*types = append(*types, *te)
					}
					if fields != nil {
						*fields = append(*fields, specFields...)
					}
				}
			}
		}
	}
}

// extractGoTypeSpecWithFields extracts a single type specification along with struct fields.
func (p *TreeSitterParser) extractGoTypeSpecWithFields(node *sitter.Node, content []byte, filePath string) (*TypeEntity, []FieldEntity) {
	te := p.extractGoTypeSpec(node, content, filePath)

	// Extract struct fields if this is a struct type
	var fields []FieldEntity
	if te != nil && te.Kind == "struct" {
		// Find the struct_type node
		typeNode := node.ChildByFieldName("type")
		if typeNode == nil {
			for i := 0; i < int(node.ChildCount()); i++ {
				child := node.Child(i)
				if child.Type() == "struct_type" {
					typeNode = child
					break
				}
			}
		}
		if typeNode != nil && typeNode.Type() == "struct_type" {
			fields = p.extractGoStructFields(typeNode, te.Name, content, filePath)
		}
	}

	return te, fields
}

// extractGoTypeSpec extracts a single type specification.
func (p *TreeSitterParser) extractGoTypeSpec(node *sitter.Node, content []byte, filePath string) *TypeEntity {
	// Get type name
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		// Fallback: first identifier child
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "type_identifier" {
				nameNode = child
				break
			}
		}
	}
	if nameNode == nil {
		return nil
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])

	// Get type definition to determine kind
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		// Fallback: look for struct_type, interface_type, or other type nodes
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			childType := child.Type()
			if childType == "struct_type" || childType == "interface_type" ||
				childType == "type_identifier" || childType == "pointer_type" ||
				childType == "array_type" || childType == "slice_type" ||
				childType == "map_type" || childType == "channel_type" ||
				childType == "function_type" || childType == "generic_type" {
				typeNode = child
				break
			}
		}
	}

	// Determine kind based on type definition
	kind := p.determineGoTypeKind(typeNode, content)
	if kind == "" {
		return nil // Skip if we can't determine the kind
	}

	// Get positions (1-indexed)
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1
	startCol := int(node.StartPoint().Column) + 1
	endCol := int(node.EndPoint().Column) + 1

	// Get code text
	codeText := string(content[node.StartByte():node.EndByte()])
	codeText = p.truncateCodeText(codeText)

	// Generate deterministic ID
	id := GenerateTypeID(filePath, name, startLine, endLine)

	docComment := extractGoLeadingDocComment(node, content)
	if docComment == "" {
		if parent := node.Parent(); parent != nil && parent.Type() == "type_declaration" {
			docComment = extractGoLeadingDocComment(parent, content)
		}
	}

	te := &TypeEntity{
		ID:         id,
		Name:       name,
		Kind:       kind,
		FilePath:   filePath,
		CodeText:   codeText,
		DocComment: docComment,
		StartLine:  startLine,
		EndLine:    endLine,
		StartCol:   startCol,
		EndCol:     endCol,
		IsExported: isGoNameExported(name),
	}

	switch kind {
	case "struct":
		te.ExtendsClass = extractGoEmbeddedStructName(typeNode, content)
	case "interface":
		te.IsAbstract = true
		te.Extends = extractGoEmbeddedInterfaceNames(typeNode, content)
		te.PropertiesJSON = extractGoInterfacePropertiesJSON(typeNode, content)
	case "type_alias":
		te.Definition = string(content[typeNode.StartByte():typeNode.EndByte()])
	}

	return te
}

// extractGoEmbeddedStructName returns the first anonymous (embedded) field's
// type name in a struct, a loose analogue of single-class inheritance for
// languages that have no struct_type equivalent.
func extractGoEmbeddedStructName(structNode *sitter.Node, content []byte) string {
	if structNode == nil || structNode.Type() != "struct_type" {
		return ""
	}
	listNode := structNode.ChildByFieldName("body")
	if listNode == nil {
		for i := 0; i < int(structNode.ChildCount()); i++ {
			if structNode.Child(i).Type() == "field_declaration_list" {
				listNode = structNode.Child(i)
				break
			}
		}
	}
	if listNode == nil {
		return ""
	}
	for i := 0; i < int(listNode.ChildCount()); i++ {
		field := listNode.Child(i)
		if field.Type() != "field_declaration" {
			continue
		}
		if field.ChildByFieldName("name") != nil {
			continue // named field, not embedded
		}
		typeNode := field.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		return extractBaseTypeName(typeNode, content)
	}
	return ""
}

// extractGoEmbeddedInterfaceNames returns the type names embedded directly in
// an interface body, Go's form of interface extension.
func extractGoEmbeddedInterfaceNames(ifaceNode *sitter.Node, content []byte) []string {
	if ifaceNode == nil || ifaceNode.Type() != "interface_type" {
		return nil
	}
	var names []string
	for i := 0; i < int(ifaceNode.ChildCount()); i++ {
		child := ifaceNode.Child(i)
		switch child.Type() {
		case "type_identifier", "qualified_type":
			names = append(names, string(content[child.StartByte():child.EndByte()]))
		}
	}
	return names
}

// goInterfaceProperty mirrors the {name, type} shape projectInterfaceProperties
// expects when rendering an embedding text's property listing.
type goInterfaceProperty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// extractGoInterfacePropertiesJSON projects an interface's method set into a
// JSON-encoded name/type listing, used by the canonical embedding text.
func extractGoInterfacePropertiesJSON(ifaceNode *sitter.Node, content []byte) string {
	if ifaceNode == nil || ifaceNode.Type() != "interface_type" {
		return ""
	}
	var props []goInterfaceProperty
	for i := 0; i < int(ifaceNode.ChildCount()); i++ {
		child := ifaceNode.Child(i)
		if child.Type() != "method_elem" {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := string(content[nameNode.StartByte():nameNode.EndByte()])
		sig := string(content[child.StartByte():child.EndByte()])
		props = append(props, goInterfaceProperty{Name: name, Type: sig})
	}
	if len(props) == 0 {
		return ""
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// determineGoTypeKind determines the kind of a Go type.
func (p *TreeSitterParser) determineGoTypeKind(typeNode *sitter.Node, content []byte) string {
	if typeNode == nil {
		return ""
	}

	nodeType := typeNode.Type()

	switch nodeType {
	case "struct_type":
		return "struct"
	case "interface_type":
		return "interface"
	case "type_identifier", "pointer_type", "array_type", "slice_type",
		"map_type", "channel_type", "function_type", "generic_type":
		// These are type aliases: type Foo = Bar, type Foo Bar, type Foo *Bar, etc.
		return "type_alias"
	default:
		// Unknown type, skip it
		return ""
	}
}

// extractGoStructFields extracts named fields from a struct_type node.
// Skips embedded fields (no field name) and primitive types.
// Returns FieldEntity for each named field whose type is a user-defined type identifier.
func (p *TreeSitterParser) extractGoStructFields(structNode *sitter.Node, structName string, content []byte, filePath string) []FieldEntity {
	var fields []FieldEntity

	// Find the field_declaration_list inside the struct_type
	for i := 0; i < int(structNode.ChildCount()); i++ {
		child := structNode.Child(i)
		if child.Type() == "field_declaration_list" {
			for j := 0; j < int(child.ChildCount()); j++ {
				fieldDecl := child.Child(j)
				if fieldDecl.Type() == "field_declaration" {
					fe := p.extractGoFieldDeclaration(fieldDecl, structName, content, filePath)
					if fe != nil {
						fields = append(fields, *fe)
					}
				}
			}
		}
	}

	return fields
}

// extractGoFieldDeclaration extracts a single struct field declaration.
// Returns nil for embedded fields (no name) or fields with primitive/builtin types.
func (p *TreeSitterParser) extractGoFieldDeclaration(fieldNode *sitter.Node, structName string, content []byte, filePath string) *FieldEntity {
	// Get the field name (field_identifier)
	// Embedded fields have no name child — skip them
	var fieldName string
	for i := 0; i < int(fieldNode.ChildCount()); i++ {
		child := fieldNode.Child(i)
		if child.Type() == "field_identifier" {
			fieldName = string(content[child.StartByte():child.EndByte()])
			break
		}
	}
	if fieldName == "" {
		return nil // Embedded field, skip
	}

	// Get the type node
	typeNode := fieldNode.ChildByFieldName("type")
	if typeNode == nil {
		// Fallback: look for type-like nodes after the field identifier
		for i := 0; i < int(fieldNode.ChildCount()); i++ {
			child := fieldNode.Child(i)
			ct := child.Type()
			if ct == "type_identifier" || ct == "pointer_type" || ct == "slice_type" ||
				ct == "array_type" || ct == "generic_type" || ct == "qualified_type" {
				typeNode = child
				break
			}
		}
	}
	if typeNode == nil {
		return nil
	}

	// Extract base type name (unwrap pointer/slice/array)
	fieldType := extractBaseTypeName(typeNode, content)
	if fieldType == "" {
		return nil
	}

	// Skip builtin/primitive types — we only care about user-defined types
	// that could be interfaces
	if isGoBuiltinType(fieldType) {
		return nil
	}

	line := int(fieldNode.StartPoint().Row) + 1

	return &FieldEntity{
		StructName: structName,
		FieldName:  fieldName,
		FieldType:  fieldType,
		FilePath:   filePath,
		Line:       line,
	}
}

// isGoBuiltinType checks if a type name is a Go builtin type.
func isGoBuiltinType(name string) bool {
	builtins := map[string]bool{
		"bool": true, "byte": true, "complex64": true, "complex128": true,
		"error": true, "float32": true, "float64": true,
		"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
		"rune": true, "string": true,
		"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
		"uintptr": true, "any": true,
	}
	return builtins[name]
}
