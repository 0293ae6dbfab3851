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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"log/slog"
)

// Parser extracts functions and relationships from source code files.
//
// This parser uses simplified pattern matching (regex/string matching) for function extraction.
// It handles basic cases but has limitations:
//   - Functions nested inside structs/interfaces may not be extracted correctly
//   - Complex signatures with generics may be incomplete
//   - Call edges are only produced between functions of the same file; no
//     imports or unresolved calls are returned for cross-file resolution
//
// TreeSitterParser (parser_treesitter.go) is the AST-based alternative with
// precise ranges, full signatures and cross-file call resolution.
type Parser struct {
	logger          *slog.Logger
	maxCodeTextSize int64
	truncatedCount  int // Count of truncated CodeTexts (for summary)
}

// NewParser creates a new code parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger:          logger,
		maxCodeTextSize: 102400, // Default 100KB
		truncatedCount:  0,
	}
}

// SetMaxCodeTextSize sets the maximum size for CodeText (in bytes).
func (p *Parser) SetMaxCodeTextSize(size int64) {
	p.maxCodeTextSize = size
}

// GetTruncatedCount returns the number of CodeTexts that were truncated.
func (p *Parser) GetTruncatedCount() int {
	return p.truncatedCount
}

// ResetTruncatedCount resets the truncation counter.
func (p *Parser) ResetTruncatedCount() {
	p.truncatedCount = 0
}

// truncateCodeText truncates CodeText if it exceeds the limit and increments counter.
func (p *Parser) truncateCodeText(codeText string) string {
	if p.maxCodeTextSize > 0 && int64(len(codeText)) > p.maxCodeTextSize {
		p.truncatedCount++
		return codeText[:p.maxCodeTextSize]
	}
	return codeText
}

// ParseResult contains extracted entities from a file.
type ParseResult struct {
	// File is the file entity containing metadata (path, hash, language, size).
	File FileEntity

	// Functions contains all functions/methods extracted from the file.
	Functions []FunctionEntity

	// Types contains all types/interfaces/classes/structs extracted from the file.
	Types []TypeEntity

	// Fields contains struct field entities with their types (for interface dispatch resolution).
	Fields []FieldEntity

	// Variables contains package-level variable and constant declarations.
	Variables []VariableEntity

	// DefinesVariables contains edges connecting the file to its variables.
	DefinesVariables []DefinesVariableEdge

	// Defines contains edges connecting the file to its functions.
	Defines []DefinesEdge

	// DefinesTypes contains edges connecting the file to its types.
	DefinesTypes []DefinesTypeEdge

	// Calls contains function-to-function call relationships discovered within the file.
	Calls []CallsEdge

	// Imports contains import statements for cross-package resolution (Go-specific).
	Imports []ImportEntity

	// UnresolvedCalls contains function calls that couldn't be resolved within the file.
	// These will be resolved later during cross-package call resolution.
	UnresolvedCalls []UnresolvedCall

	// PackageName is the package name for Go files (e.g., "handlers", "main").
	// Empty for other languages.
	PackageName string
}

// ParseFile parses a source file and extracts functions.
// Uses simplified pattern matching with fallback for unsupported languages.
// See Parser struct documentation for limitations.
func (p *Parser) ParseFile(fileInfo FileInfo) (*ParseResult, error) {
	// Read file content
	content, err := os.ReadFile(fileInfo.FullPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Compute content hash
	hash := sha256.Sum256(content)
	hashStr := hex.EncodeToString(hash[:])

	// Create file entity
	fileID := GenerateFileID(fileInfo.Path)
	fileEntity := FileEntity{
		ID:       fileID,
		Path:     fileInfo.Path,
		Hash:     hashStr,
		Language: fileInfo.Language,
		Size:     fileInfo.Size,
	}

	// Extract functions based on language
	var functions []FunctionEntity
	var calls []CallsEdge

	switch fileInfo.Language {
	case "go":
		functions, calls = p.parseGoFile(string(content), fileInfo.Path)
	case "python":
		functions, calls = p.parsePythonFile(string(content), fileInfo.Path)
	case "javascript", "typescript":
		functions, calls = p.parseJSFile(string(content), fileInfo.Path)
	case "protobuf":
		functions, calls = parseProtobufContent(string(content), fileInfo.Path, p.truncateCodeText)
	default:
		// For unsupported languages, return empty result
		p.logger.Debug("parser.skip_unsupported_language",
			"path", fileInfo.Path,
			"language", fileInfo.Language,
		)
	}

	// Create defines edges
	defines := make([]DefinesEdge, len(functions))
	for i, fn := range functions {
		defines[i] = DefinesEdge{
			FileID:     fileID,
			FunctionID: fn.ID,
		}
	}

	return &ParseResult{
		File:      fileEntity,
		Functions: functions,
		Defines:   defines,
		Calls:     calls,
	}, nil
}
