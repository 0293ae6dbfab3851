// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReconcile_NoPriorProvider(t *testing.T) {
	manifest := NewProjectManifest("proj")
	reuse, err := Reconcile(manifest, ResumePolicyFailFast, "ollama", 768)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reuse {
		t.Error("expected reuse=true when manifest has no recorded provider")
	}
}

func TestReconcile_MatchingProvider(t *testing.T) {
	manifest := NewProjectManifest("proj")
	manifest.EmbeddingProvider = "ollama"
	manifest.EmbeddingDimensions = 768

	reuse, err := Reconcile(manifest, ResumePolicyFailFast, "ollama", 768)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reuse {
		t.Error("expected reuse=true on a matching provider/dimensions")
	}
}

func TestReconcile_MismatchByPolicy(t *testing.T) {
	manifest := NewProjectManifest("proj")
	manifest.EmbeddingProvider = "ollama"
	manifest.EmbeddingDimensions = 768

	tests := []struct {
		policy    ResumePolicy
		wantReuse bool
		wantErr   bool
	}{
		{ResumePolicyFailFast, false, true},
		{"", false, true},
		{ResumePolicyForceReprocess, false, false},
		{ResumePolicyTrustCheckpoint, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			reuse, err := Reconcile(manifest, tt.policy, "openai", 1536)
			if tt.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reuse != tt.wantReuse {
				t.Errorf("reuse = %v, want %v", reuse, tt.wantReuse)
			}
		})
	}
}

func TestApplyCachedEmbeddings_ReusesUnchangedBodies(t *testing.T) {
	manifest := NewProjectManifest("proj")
	cachedVec := []float32{0.1, 0.2, 0.3}
	manifest.Files["a.go"] = &FileManifestEntry{
		Path: "a.go",
		Functions: []FunctionManifestEntry{
			{ID: "fn1", BodyHash: computeBodyHash("func Foo() {}"), Embedding: cachedVec},
		},
		Types: []TypeManifestEntry{
			{ID: "t1", BodyHash: computeBodyHash("type Foo struct{}"), Embedding: cachedVec},
		},
	}

	functions := []FunctionEntity{
		{ID: "fn1", FilePath: "a.go", CodeText: "func Foo() {}"},
		{ID: "fn2", FilePath: "a.go", CodeText: "func Bar() {}"}, // not cached
	}
	types := []TypeEntity{
		{ID: "t1", FilePath: "a.go", CodeText: "type Foo struct{}"},
	}

	fnReused, typeReused := ApplyCachedEmbeddings(manifest, functions, types)
	if fnReused != 1 {
		t.Errorf("functionsReused = %d, want 1", fnReused)
	}
	if typeReused != 1 {
		t.Errorf("typesReused = %d, want 1", typeReused)
	}
	if len(functions[0].Embedding) != 3 {
		t.Errorf("expected fn1 to receive the cached embedding, got %v", functions[0].Embedding)
	}
	if len(functions[1].Embedding) != 0 {
		t.Errorf("expected fn2 (not cached) to remain unembedded, got %v", functions[1].Embedding)
	}
	if len(types[0].Embedding) != 3 {
		t.Errorf("expected t1 to receive the cached embedding, got %v", types[0].Embedding)
	}
}

func TestApplyCachedEmbeddings_BodyChangedInvalidatesCache(t *testing.T) {
	manifest := NewProjectManifest("proj")
	manifest.Files["a.go"] = &FileManifestEntry{
		Path: "a.go",
		Functions: []FunctionManifestEntry{
			{ID: "fn1", BodyHash: computeBodyHash("func Foo() { return 1 }"), Embedding: []float32{0.1}},
		},
	}

	functions := []FunctionEntity{
		{ID: "fn1", FilePath: "a.go", CodeText: "func Foo() { return 2 }"},
	}

	fnReused, _ := ApplyCachedEmbeddings(manifest, functions, nil)
	if fnReused != 0 {
		t.Errorf("functionsReused = %d, want 0 since the body changed", fnReused)
	}
	if len(functions[0].Embedding) != 0 {
		t.Error("expected no embedding to be applied for a changed body")
	}
}

func TestBuildManifest_GroupsEntitiesByFile(t *testing.T) {
	files := []FileEntity{{ID: "f1", Path: "a.go"}, {ID: "f2", Path: "b.go"}}
	functions := []FunctionEntity{
		{ID: "fn1", FilePath: "a.go", CodeText: "func A() {}"},
		{ID: "fn2", FilePath: "b.go", CodeText: "func B() {}"},
	}
	types := []TypeEntity{{ID: "t1", FilePath: "a.go", CodeText: "type T struct{}"}}
	calls := []CallsEdge{{CallerID: "fn1", CalleeID: "fn2"}}

	manifest := BuildManifest("proj", "deadbeef", "ollama", 768, files, functions, types, calls)

	if manifest.BaseSHA != "deadbeef" {
		t.Errorf("BaseSHA = %q, want deadbeef", manifest.BaseSHA)
	}
	if manifest.EmbeddingProvider != "ollama" || manifest.EmbeddingDimensions != 768 {
		t.Errorf("provider fingerprint not recorded: %+v", manifest)
	}
	if len(manifest.Files) != 2 {
		t.Fatalf("expected 2 files in manifest, got %d", len(manifest.Files))
	}
	if len(manifest.Files["a.go"].Functions) != 1 || len(manifest.Files["a.go"].Types) != 1 {
		t.Errorf("a.go entry = %+v", manifest.Files["a.go"])
	}
	if len(manifest.Files["a.go"].CallsEdges) != 1 {
		t.Errorf("expected a.go to carry its outgoing call edge, got %+v", manifest.Files["a.go"].CallsEdges)
	}
	if len(manifest.Files["b.go"].Functions) != 1 {
		t.Errorf("b.go entry = %+v", manifest.Files["b.go"])
	}
}

func TestCheckpointManager_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	manifest := NewProjectManifest("proj")
	manifest.EmbeddingProvider = "mock"
	manifest.EmbeddingDimensions = 768
	manifest.Files["a.go"] = &FileManifestEntry{
		Path:      "a.go",
		Functions: []FunctionManifestEntry{{ID: "fn1", BodyHash: "h1"}},
	}

	if err := cm.Save(manifest); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := cm.Load("proj")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.EmbeddingProvider != "mock" || loaded.EmbeddingDimensions != 768 {
		t.Errorf("round-tripped manifest lost its provider fingerprint: %+v", loaded)
	}
	if len(loaded.Files["a.go"].Functions) != 1 {
		t.Errorf("round-tripped manifest lost its function entries: %+v", loaded.Files["a.go"])
	}
}

func TestCheckpointManager_LoadMissingStartsFresh(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	manifest, err := cm.Load("never-seen-before")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if manifest.ProjectID != "never-seen-before" {
		t.Errorf("ProjectID = %q, want never-seen-before", manifest.ProjectID)
	}
	if len(manifest.Files) != 0 {
		t.Errorf("expected an empty manifest for a first run, got %+v", manifest.Files)
	}

	// Loading a genuinely missing manifest shouldn't leave a stray file behind.
	if _, err := os.Stat(filepath.Join(dir, "manifest-never-seen-before.json")); err == nil {
		t.Error("Load() should not create a file on disk for a fresh project")
	}
}
