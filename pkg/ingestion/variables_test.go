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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGoParser_Variables tests package-level variable and constant extraction.
func TestGoParser_Variables(t *testing.T) {
	result := parseTestFile(t, "testdata/go/variables.go")

	require.Len(t, result.Variables, 6, "Should extract 6 package-level variables/constants")

	byName := make(map[string]VariableEntity, len(result.Variables))
	for _, v := range result.Variables {
		byName[v.Name] = v
	}

	maxRetries, ok := byName["MaxRetries"]
	require.True(t, ok, "MaxRetries should be extracted")
	assert.True(t, maxRetries.IsConst)
	assert.True(t, maxRetries.IsExported)

	statusPending, ok := byName["StatusPending"]
	require.True(t, ok, "StatusPending should be extracted from a const block")
	assert.True(t, statusPending.IsConst)
	assert.True(t, statusPending.IsExported)

	statusDone, ok := byName["statusDone"]
	require.True(t, ok, "statusDone should be extracted from a const block")
	assert.True(t, statusDone.IsConst)
	assert.False(t, statusDone.IsExported)

	timeout, ok := byName["DefaultTimeoutSeconds"]
	require.True(t, ok, "DefaultTimeoutSeconds should be extracted")
	assert.False(t, timeout.IsConst)
	assert.Equal(t, "int", timeout.VarType)

	_, hasHandlers := byName["RegisteredHandlers"]
	assert.True(t, hasHandlers, "RegisteredHandlers should be extracted from a var block")

	_, hasAttempts := byName["attempts"]
	assert.False(t, hasAttempts, "function-local variables must not be indexed")

	for _, v := range result.Variables {
		assert.NotEmpty(t, v.ID)
		assert.Equal(t, "variables.go", v.FilePath)
		assert.Greater(t, v.StartLine, 0)
	}
}

// TestGenerateVariableID_Deterministic verifies ID generation is stable and
// varies with any of its inputs.
func TestGenerateVariableID_Deterministic(t *testing.T) {
	id1 := GenerateVariableID("a.go", "X", 3)
	id2 := GenerateVariableID("a.go", "X", 3)
	assert.Equal(t, id1, id2)

	assert.NotEqual(t, id1, GenerateVariableID("b.go", "X", 3))
	assert.NotEqual(t, id1, GenerateVariableID("a.go", "Y", 3))
	assert.NotEqual(t, id1, GenerateVariableID("a.go", "X", 4))
	assert.True(t, strings.HasPrefix(id1, "var:"))
}

// TestResolveCallsWithGhosts_LocalCallResolvedNoGhost verifies that a call
// resolvable within the same file produces no ghost node.
func TestResolveCallsWithGhosts_LocalCallResolvedNoGhost(t *testing.T) {
	files := []FileEntity{
		{ID: "file:handlers/user.go", Path: "internal/handlers/user.go", Language: "go"},
		{ID: "file:routes/auth.go", Path: "internal/routes/auth.go", Language: "go"},
	}
	functions := []FunctionEntity{
		{ID: "fn:HandleUser", Name: "HandleUser", FilePath: "internal/handlers/user.go"},
		{ID: "fn:RegisterAuthRoutes", Name: "RegisterAuthRoutes", FilePath: "internal/routes/auth.go"},
	}
	imports := []ImportEntity{
		{
			ID:         GenerateImportID("internal/routes/auth.go", "project/internal/handlers"),
			FilePath:   "internal/routes/auth.go",
			ImportPath: "project/internal/handlers",
		},
	}
	packageNames := map[string]string{
		"internal/handlers/user.go": "handlers",
		"internal/routes/auth.go":   "routes",
	}

	resolver := NewCallResolver()
	resolver.BuildIndex(files, functions, imports, packageNames)

	unresolved := []UnresolvedCall{
		{CallerID: "fn:RegisterAuthRoutes", CalleeName: "handlers.HandleUser", FilePath: "internal/routes/auth.go"},
	}

	edges, ghosts, refs := resolver.ResolveCallsWithGhosts(unresolved)

	require.Len(t, edges, 1)
	assert.Equal(t, "fn:HandleUser", edges[0].CalleeID)
	assert.Empty(t, ghosts)
	assert.Empty(t, refs)
}

// TestResolveCallsWithGhosts_ExternalCallGetsGhostNode verifies that a call to
// a symbol outside the indexed tree produces a ghost node and a reference
// edge instead of being dropped.
func TestResolveCallsWithGhosts_ExternalCallGetsGhostNode(t *testing.T) {
	files := []FileEntity{{ID: "file:a.go", Path: "a.go", Language: "go"}}
	functions := []FunctionEntity{
		{ID: "fn:caller", Name: "Caller", FilePath: "a.go"},
	}
	resolver := NewCallResolver()
	resolver.BuildIndex(files, functions, nil, map[string]string{"a.go": "pkg"})

	unresolved := []UnresolvedCall{
		{CallerID: "fn:caller", CalleeName: "json.Marshal", FilePath: "a.go"},
	}

	edges, ghosts, refs := resolver.ResolveCallsWithGhosts(unresolved)

	assert.Empty(t, edges)
	require.Len(t, ghosts, 1)
	assert.Equal(t, "json", ghosts[0].PackageName)
	assert.Equal(t, "Marshal", ghosts[0].Symbol)
	assert.Equal(t, "function", ghosts[0].Kind)

	require.Len(t, refs, 1)
	assert.Equal(t, "fn:caller", refs[0].SourceID)
	assert.Equal(t, ghosts[0].ID, refs[0].GhostID)
	assert.Equal(t, "call", refs[0].ReferenceKind)
}

// TestResolveCallsWithGhosts_DedupesGhostNodes verifies that repeated calls to
// the same external symbol reuse one ghost node but each produce their own
// reference edge.
func TestResolveCallsWithGhosts_DedupesGhostNodes(t *testing.T) {
	files := []FileEntity{{ID: "file:a.go", Path: "a.go", Language: "go"}}
	functions := []FunctionEntity{
		{ID: "fn:a", Name: "A", FilePath: "a.go"},
		{ID: "fn:b", Name: "B", FilePath: "a.go"},
	}
	resolver := NewCallResolver()
	resolver.BuildIndex(files, functions, nil, map[string]string{"a.go": "pkg"})

	unresolved := []UnresolvedCall{
		{CallerID: "fn:a", CalleeName: "fmt.Sprintf", FilePath: "a.go"},
		{CallerID: "fn:b", CalleeName: "fmt.Sprintf", FilePath: "a.go"},
	}

	_, ghosts, refs := resolver.ResolveCallsWithGhosts(unresolved)

	require.Len(t, ghosts, 1, "identical external symbol should only create one ghost node")
	require.Len(t, refs, 2, "each call site still gets its own reference edge")
	assert.Equal(t, ghosts[0].ID, refs[0].GhostID)
	assert.Equal(t, ghosts[0].ID, refs[1].GhostID)
}

// TestSplitQualifiedName covers the package/symbol split used to build ghost
// node identities.
func TestSplitQualifiedName(t *testing.T) {
	pkg, symbol := splitQualifiedName("strings.TrimSpace")
	assert.Equal(t, "strings", pkg)
	assert.Equal(t, "TrimSpace", symbol)

	pkg, symbol = splitQualifiedName("doSomething")
	assert.Equal(t, ".", pkg)
	assert.Equal(t, "doSomething", symbol)
}

// TestBuildVariableAndGhostMutations verifies the Datalog mutation script
// produced for variables, defines-variable edges, ghost nodes, and external
// reference edges.
func TestBuildVariableAndGhostMutations(t *testing.T) {
	builder := NewDatalogBuilder()

	variables := []VariableEntity{
		{ID: "var:1", Name: "MaxRetries", VarType: "int", FilePath: "a.go", StartLine: 5, IsConst: true, IsExported: true},
	}
	definesVariables := []DefinesVariableEdge{
		{FileID: "file:a.go", VariableID: "var:1"},
	}
	ghosts := []GhostNodeEntity{
		{ID: "ghost:1", PackageName: "json", Symbol: "Marshal", Kind: "function"},
	}
	references := []ExternalReferenceEdge{
		{SourceID: "fn:caller", GhostID: "ghost:1", ReferenceKind: "call"},
	}

	script := builder.BuildVariableAndGhostMutations(variables, definesVariables, ghosts, references)

	assert.Contains(t, script, ":put ent_variable")
	assert.Contains(t, script, "MaxRetries")
	assert.Contains(t, script, ":put ent_defines_variable")
	assert.Contains(t, script, ":put ent_ghost_node")
	assert.Contains(t, script, "json")
	assert.Contains(t, script, ":put ent_references_external")
	assert.Contains(t, script, "fn:caller")
}

// TestBuildVariableAndGhostMutations_Empty verifies an empty input produces
// an empty script rather than malformed Datalog.
func TestBuildVariableAndGhostMutations_Empty(t *testing.T) {
	builder := NewDatalogBuilder()
	script := builder.BuildVariableAndGhostMutations(nil, nil, nil, nil)
	assert.Empty(t, script)
}
