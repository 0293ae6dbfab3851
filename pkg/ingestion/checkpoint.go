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
	"fmt"
	"sync"
)

// CheckpointManager persists a ProjectManifest across runs so an incremental
// or restarted ingestion can tell which functions and types are unchanged
// (skip re-embedding) and which embedding provider/dimensionality produced
// the cached vectors (so a provider switch doesn't silently reuse
// incompatible embeddings).
type CheckpointManager struct {
	mm *ManifestManager

	mu       sync.Mutex
	manifest *ProjectManifest
}

// NewCheckpointManager creates a checkpoint manager storing manifests under
// basePath (one file per project, see ManifestManager.getManifestPath).
func NewCheckpointManager(basePath string) *CheckpointManager {
	return &CheckpointManager{mm: NewManifestManager(basePath)}
}

// Load reads the checkpoint for projectID, or starts a fresh one if this is
// the first run. The loaded manifest is cached so repeated calls within the
// same run return the same instance.
func (cm *CheckpointManager) Load(projectID string) (*ProjectManifest, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	manifest, err := cm.mm.LoadManifest(projectID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if manifest == nil {
		manifest = NewProjectManifest(projectID)
	}
	cm.manifest = manifest
	return manifest, nil
}

// Save persists manifest to disk and caches it as the current checkpoint.
func (cm *CheckpointManager) Save(manifest *ProjectManifest) error {
	if err := cm.mm.SaveManifest(manifest); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	cm.mu.Lock()
	cm.manifest = manifest
	cm.mu.Unlock()
	return nil
}

// ApplyCachedEmbeddings fills in Embedding for every function/type whose
// body is unchanged from the checkpoint manifest, so EmbeddingGenerator
// skips re-embedding them. Entries are matched by ID within their file and
// confirmed unchanged by body hash, not by ID alone: IDs are positional
// (file+name+range) and don't move when a body edit shifts line numbers
// within the same range, so the hash is the real staleness check.
func ApplyCachedEmbeddings(manifest *ProjectManifest, functions []FunctionEntity, types []TypeEntity) (functionsReused, typesReused int) {
	if manifest == nil {
		return 0, 0
	}

	manifest.mu.RLock()
	defer manifest.mu.RUnlock()

	for i := range functions {
		entry, ok := manifest.Files[functions[i].FilePath]
		if !ok {
			continue
		}
		for _, cached := range entry.Functions {
			if cached.ID == functions[i].ID && cached.BodyHash == computeBodyHash(functions[i].CodeText) && len(cached.Embedding) > 0 {
				functions[i].Embedding = cached.Embedding
				functionsReused++
				break
			}
		}
	}

	for i := range types {
		entry, ok := manifest.Files[types[i].FilePath]
		if !ok {
			continue
		}
		for _, cached := range entry.Types {
			if cached.ID == types[i].ID && cached.BodyHash == computeBodyHash(types[i].CodeText) && len(cached.Embedding) > 0 {
				types[i].Embedding = cached.Embedding
				typesReused++
				break
			}
		}
	}

	return functionsReused, typesReused
}

// BuildManifest groups a run's entities by file and assembles a fresh
// ProjectManifest fit for CheckpointManager.Save, recording the embedding
// provider/dimensionality so the next run's Reconcile can detect a
// provider switch.
func BuildManifest(projectID, headSHA, embeddingProvider string, embeddingDimensions int, files []FileEntity, functions []FunctionEntity, types []TypeEntity, calls []CallsEdge) *ProjectManifest {
	manifest := NewProjectManifest(projectID)
	manifest.BaseSHA = headSHA
	manifest.EmbeddingProvider = embeddingProvider
	manifest.EmbeddingDimensions = embeddingDimensions

	functionsByFile := make(map[string][]FunctionEntity)
	for _, fn := range functions {
		functionsByFile[fn.FilePath] = append(functionsByFile[fn.FilePath], fn)
	}
	typesByFile := make(map[string][]TypeEntity)
	for _, t := range types {
		typesByFile[t.FilePath] = append(typesByFile[t.FilePath], t)
	}

	for _, file := range files {
		entry := CreateFileManifestEntryWithCalls(file, functionsByFile[file.Path], typesByFile[file.Path], calls)
		manifest.Files[file.Path] = entry
	}

	return manifest
}

// Reconcile compares the embedding provider/dimensions recorded in manifest
// against the current run's, and decides whether cached embeddings
// (FunctionManifestEntry.Embedding, TypeManifestEntry.Embedding) may be
// reused. A manifest with no recorded provider (first run, or one from
// before this field existed) always permits reuse: there's nothing to
// conflict with yet.
//
// On a mismatch, policy decides the outcome:
//   - ResumePolicyFailFast: return an error, forcing the caller to resolve
//     the mismatch explicitly (e.g. --force-full-reindex).
//   - ResumePolicyForceReprocess: reuse=false — every embedding is
//     regenerated, safe but discards the cache.
//   - ResumePolicyTrustCheckpoint: reuse=true despite the mismatch, logging
//     the risk is the caller's responsibility.
func Reconcile(manifest *ProjectManifest, policy ResumePolicy, provider string, dimensions int) (reuse bool, err error) {
	if manifest.EmbeddingProvider == "" {
		return true, nil
	}
	if manifest.EmbeddingProvider == provider && manifest.EmbeddingDimensions == dimensions {
		return true, nil
	}

	switch policy {
	case ResumePolicyForceReprocess:
		return false, nil
	case ResumePolicyTrustCheckpoint:
		return true, nil
	case ResumePolicyFailFast, "":
		return false, fmt.Errorf(
			"checkpoint embeddings were produced by %s (dim %d), current run uses %s (dim %d); "+
				"rerun with --force-full-reindex or set ResumePolicy to force_reprocess/trust_checkpoint",
			manifest.EmbeddingProvider, manifest.EmbeddingDimensions, provider, dimensions,
		)
	default:
		return false, fmt.Errorf("unknown resume policy %q", policy)
	}
}
