package main

import (
	"path/filepath"
	"testing"

	cortexcfg "github.com/kraklabs/cortex/internal/config"
)

func TestDataRootFromConfig_Default(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CORTEX_DATA_DIR", "")

	root, err := dataRootFromConfig(&cortexcfg.Config{ProjectID: "demo"}, "")
	if err != nil {
		t.Fatalf("dataRootFromConfig() error = %v", err)
	}

	want := filepath.Join(home, ".cortex", "data")
	if root != want {
		t.Fatalf("dataRootFromConfig() = %q, want %q", root, want)
	}
}

func TestDataRootFromConfig_EnvOverride(t *testing.T) {
	t.Setenv("CORTEX_DATA_DIR", "/tmp/custom-cortex")

	root, err := dataRootFromConfig(&cortexcfg.Config{ProjectID: "demo"}, "")
	if err != nil {
		t.Fatalf("dataRootFromConfig() error = %v", err)
	}
	if root != "/tmp/custom-cortex" {
		t.Fatalf("dataRootFromConfig() = %q, want %q", root, "/tmp/custom-cortex")
	}
}

func TestDataRootFromConfig_RelativeLocalDataDir(t *testing.T) {
	t.Setenv("CORTEX_DATA_DIR", "")

	repo := t.TempDir()
	cfg := &cortexcfg.Config{
		ProjectID: "demo",
		Indexing: cortexcfg.IndexingConfig{
			LocalDataDir: "./.cortex/db",
		},
	}

	cfgPath := filepath.Join(repo, ".cortex", "project.yaml")
	root, err := dataRootFromConfig(cfg, cfgPath)
	if err != nil {
		t.Fatalf("dataRootFromConfig() error = %v", err)
	}

	want := filepath.Join(repo, ".cortex", ".cortex", "db")
	if root != want {
		t.Fatalf("dataRootFromConfig() = %q, want %q", root, want)
	}
}

func TestProjectDataDir_AppendsProjectID(t *testing.T) {
	t.Setenv("CORTEX_DATA_DIR", "/tmp/cortex-root")

	dir, err := projectDataDir(&cortexcfg.Config{ProjectID: "my-project"}, "")
	if err != nil {
		t.Fatalf("projectDataDir() error = %v", err)
	}
	if dir != "/tmp/cortex-root/my-project" {
		t.Fatalf("projectDataDir() = %q, want %q", dir, "/tmp/cortex-root/my-project")
	}
}
