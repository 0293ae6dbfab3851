// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	cortexcfg "github.com/kraklabs/cortex/internal/config"
	"github.com/kraklabs/cortex/pkg/ingestion"
)

// BuildIngestionConfig assembles the ingestion pipeline config from the project config.
// The cortex index command and the serve command build their own configs and do not call it.
func BuildIngestionConfig(cfg *cortexcfg.Config, repoPath, dataDir, checkpointDir string, forceReindex bool, embedWorkers int) (ingestion.Config, string) {
	defaults := ingestion.DefaultConfig()
	excludeGlobs := append(defaults.ExcludeGlobs, cfg.Indexing.Exclude...)

	embedProvider := cfg.Embedding.Provider
	if embedProvider == "" {
		embedProvider = "ollama"
	}
	dim := cfg.Embedding.Dimensions
	if dim <= 0 {
		dim = 768
	}
	batchTarget := cfg.Indexing.BatchTarget
	if batchTarget <= 0 {
		batchTarget = 500
	}
	maxFileSize := cfg.Indexing.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = 1024 * 1024
	}
	parserMode := ingestion.ParserMode(cfg.Indexing.ParserMode)
	if parserMode == "" {
		parserMode = ingestion.ParserModeAuto
	}
	if embedWorkers <= 0 {
		embedWorkers = 8
	}

	// Git-based delta detection is the default; hash-based works with any
	// VCS (or none) and is used when the project config opts out.
	useGit := cfg.Indexing.UseGit

	config := ingestion.Config{
		ProjectID: cfg.ProjectID,
		RepoSource: ingestion.RepoSource{
			Type:  "local_path",
			Value: repoPath,
		},
		IngestionConfig: ingestion.IngestionConfig{
			ParserMode:           parserMode,
			EmbeddingProvider:    embedProvider,
			EmbeddingDimensions:  dim,
			BatchTargetMutations: batchTarget,
			MaxFileSizeBytes:     maxFileSize,
			CheckpointPath:       checkpointDir,
			LocalDataDir:         dataDir,
			LocalEngine:          "rocksdb",
			ExcludeGlobs:         excludeGlobs,
			ForceReindex:         forceReindex,
			UseGitDelta:          useGit, // Передаём настройку из конфига
			Concurrency: ingestion.ConcurrencyConfig{
				ParseWorkers: 4,
				EmbedWorkers: embedWorkers,
			},
		},
	}
	return config, embedProvider
}
