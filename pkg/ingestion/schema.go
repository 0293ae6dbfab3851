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

// Schema defines the in-memory entity and edge structs produced by the
// ingestion pipeline before they are written to the relations created by
// pkg/storage (ent_file, ent_function, ent_type, ent_calls, and so on).
//
// All IDs are deterministic and stable across re-runs for idempotency.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FileEntity represents a source file in the repository.
type FileEntity struct {
	ID       string // Deterministic: hash(file_path) or file_path itself
	Path     string // Relative path from repo root
	Hash     string // Content hash (SHA256) for change detection
	Language string // Detected language (go, python, javascript, etc.)
	Size     int64  // File size in bytes
}

// FunctionEntity represents a function/method extracted from code.
// Note: In the database, CodeText and Embedding are stored in separate tables
// (ent_function_code, ent_function_embedding) for query performance.
// The struct keeps all fields for use in the ingestion pipeline.
type FunctionEntity struct {
	ID         string    // Deterministic: hash(file_path + name + range) - signature excluded for stability
	Name       string    // Function name
	Signature  string    // Full signature if available, else empty (metadata only, not used in ID)
	FilePath   string    // Path to containing file
	CodeText   string    // Raw code snippet (stored in ent_function_code)
	DocComment string    // Leading doc comment, if any (feeds the canonical embedding text)
	Embedding  []float32 // Embedding vector (stored in ent_function_embedding)
	StartLine  int       // Start line (1-indexed)
	EndLine    int       // End line (1-indexed)
	StartCol   int       // Start column (1-indexed)
	EndCol     int       // End column (1-indexed)
	IsExported bool      // True if the name is exported (language-specific rule)
	IsAsync    bool      // True for async/goroutine-launching functions (language-specific)
}

// DefinesEdge represents a "file defines function" relationship.
type DefinesEdge struct {
	FileID     string // Reference to FileEntity.ID
	FunctionID string // Reference to FunctionEntity.ID
}

// TypeEntity represents a type/interface/class/struct definition.
// This is language-agnostic and normalizes across:
//   - Go: struct, interface, type_alias
//   - Python: class
//   - TypeScript: interface, class, type_alias
//   - JavaScript: class
//
// Note: In the database, CodeText and Embedding are stored in separate tables
// (ent_type_code, ent_type_embedding) for query performance.
type TypeEntity struct {
	ID        string    // Deterministic: hash(file_path + name + range)
	Name      string    // Type name (e.g., "UserService", "Handler")
	Kind      string    // "struct", "interface", "class", "type_alias"
	FilePath  string    // Path to containing file
	CodeText  string    // Raw code snippet (stored in ent_type_code)
	Embedding []float32 // Embedding vector (stored in ent_type_embedding)
	StartLine int       // Start line (1-indexed)
	EndLine   int       // End line (1-indexed)
	StartCol  int       // Start column (1-indexed)
	EndCol    int       // End column (1-indexed)

	IsExported bool // True if the name is exported (language-specific rule)

	// Class-only fields (Kind == "class" or "struct" acting as a class).
	IsAbstract   bool     // True if the type declares no direct instantiation (e.g. Python ABC, Go interface-backed base)
	ExtendsClass string   // Name of the superclass, if single-inheritance language; empty otherwise
	Implements   []string // Interface names this class implements

	// Interface-only fields.
	Extends []string // Interface names this interface embeds/extends

	// TypeAlias-only field: the underlying type expression.
	Definition string

	DocComment     string // Leading doc comment, if any (feeds the canonical embedding text)
	PropertiesJSON string // JSON-encoded property listing (name/type pairs), used for interfaces and classes
}

// DefinesTypeEdge represents a "file defines type" relationship.
type DefinesTypeEdge struct {
	FileID string // Reference to FileEntity.ID
	TypeID string // Reference to TypeEntity.ID
}

// CallsEdge represents a "function calls function" relationship.
// Includes both same-file calls and cross-package calls (resolved via imports).
type CallsEdge struct {
	CallerID string // Reference to FunctionEntity.ID (caller)
	CalleeID string // Reference to FunctionEntity.ID (callee)
	CallLine int    // Line number where the call occurs in the caller (0 = unknown)
}

// ImportEntity represents an import statement in a source file.
type ImportEntity struct {
	ID         string // Deterministic: hash(file_path + import_path)
	FilePath   string // File that contains the import
	ImportPath string // Module/package being imported (e.g., "fmt", "github.com/org/pkg")
	Alias      string // Import alias: "" (default), "alias", "." (dot import), "_" (blank import)
	StartLine  int    // Line number of the import statement
}

// UnresolvedCall represents a function call that couldn't be resolved locally.
// These are collected during parsing and resolved later using import information.
type UnresolvedCall struct {
	CallerID   string // Reference to FunctionEntity.ID of the caller
	CalleeName string // Name of the called function (e.g., "foo" or "pkg.Foo")
	FilePath   string // File where the call occurs (for import resolution)
	Line       int    // Line number of the call
}

// PackageInfo represents a Go package with its files.
type PackageInfo struct {
	PackagePath string   // Directory path (e.g., "internal/http/handlers")
	PackageName string   // Package name from `package X` declaration
	Files       []string // Files that belong to this package
}

// FieldEntity represents a struct field with its type, used for interface dispatch resolution.
// When a struct has a field of an interface type, calls through that field can be resolved
// to concrete implementations.
type FieldEntity struct {
	StructName string // e.g., "Builder"
	FieldName  string // e.g., "writer"
	FieldType  string // Base type name, no pointer/slice (e.g., "Writer")
	FilePath   string
	Line       int
}

// ImplementsEdge represents that a concrete type implements an interface.
// Built by matching method sets: if a struct has all methods declared by an interface,
// it implements that interface.
type ImplementsEdge struct {
	TypeName      string // e.g., "CozoDB"
	InterfaceName string // e.g., "Writer"
	FilePath      string // File containing the concrete type
}

// VariableEntity represents a module/package-level variable or constant
// declaration. Local variables inside function bodies are not indexed.
type VariableEntity struct {
	ID         string // Deterministic: hash(file_path + name + start_line)
	Name       string // Variable name
	VarType    string // Declared or inferred type, best-effort (may be empty)
	FilePath   string // Path to containing file
	StartLine  int    // Declaration line (1-indexed)
	IsConst    bool   // True for const declarations
	IsExported bool   // True if the name is exported (language-specific rule)
}

// DefinesVariableEdge represents a "file defines variable" relationship.
type DefinesVariableEdge struct {
	FileID     string // Reference to FileEntity.ID
	VariableID string // Reference to VariableEntity.ID
}

// GhostNodeEntity is a placeholder for a symbol resolved outside the indexed
// tree: stdlib, third-party, or vendored code that was never parsed. Ghost
// nodes let call and reference edges target a stable ID instead of dangling
// or being silently dropped.
type GhostNodeEntity struct {
	ID          string // Deterministic: "ghost:" + package_name + ":" + symbol
	PackageName string // e.g., "fmt", "net/http", "github.com/org/pkg"
	Symbol      string // e.g., "Println", "Client.Do"
	Kind        string // "function", "type", "variable", or "unknown"
}

// ExternalReferenceEdge records that some indexed entity references a ghost
// node, e.g. a function calling an unparsed third-party function.
type ExternalReferenceEdge struct {
	SourceID      string // Reference to FunctionEntity.ID or similar
	GhostID       string // Reference to GhostNodeEntity.ID
	ReferenceKind string // "call", "embed", "type_use", ...
}

// GenerateFieldID generates a deterministic ID for a field entity.
func GenerateFieldID(filePath, structName, fieldName string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(structName))
	h.Write([]byte("|"))
	h.Write([]byte(fieldName))
	return "fld:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateImplementsID generates a deterministic ID for an implements edge.
func GenerateImplementsID(typeName, interfaceName string) string {
	h := sha256.New()
	h.Write([]byte(typeName))
	h.Write([]byte("|"))
	h.Write([]byte(interfaceName))
	return "impl:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateVariableID generates a deterministic ID for a variable entity.
func GenerateVariableID(filePath, name string, startLine int) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d", startLine)
	return "var:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateGhostNodeID generates the ID for a ghost node. Unlike the other
// Generate*ID functions, this is not a hash: ghost nodes use the literal
// "ghost:<package>:<symbol>" form so a ghost's identity is readable directly
// off the id, without needing to resolve it back through a lookup table.
func GenerateGhostNodeID(packageName, symbol string) string {
	return "ghost:" + packageName + ":" + symbol
}

// GenerateReferenceID generates a deterministic ID for an external reference edge.
func GenerateReferenceID(sourceID, ghostID, referenceKind string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte("|"))
	h.Write([]byte(ghostID))
	h.Write([]byte("|"))
	h.Write([]byte(referenceKind))
	return "ref:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateImportID generates a deterministic ID for an import entity.
func GenerateImportID(filePath, importPath string) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(importPath))
	return "imp:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GenerateTypeID generates a deterministic ID for a type entity.
func GenerateTypeID(filePath, name string, startLine, endLine int) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte("|"))
	h.Write([]byte(name))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d-%d", startLine, endLine)
	return "typ:" + hex.EncodeToString(h.Sum(nil))[:16]
}
