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

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cozo "github.com/kraklabs/cortex/pkg/cozodb"
)

var _ Backend = (*EmbeddedBackend)(nil)
var _ Backend = (*lockedBackend)(nil)

// EmbeddedBackend implements Backend using a local CozoDB instance.
// This is the default backend for standalone/open-source Cortex.
type EmbeddedBackend struct {
	db                  *cozo.CozoDB
	mu                  sync.RWMutex
	closed              bool
	embeddingDimensions int
}

// EmbeddedConfig configures the embedded backend.
type EmbeddedConfig struct {
	// DataDir is the directory where CozoDB stores its data.
	// Defaults to ~/.cortex/data/<project_id>
	DataDir string

	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	// Defaults to "rocksdb" for persistence.
	Engine string

	// ProjectID is used to namespace the data directory.
	ProjectID string

	// EmbeddingDimensions is the vector size for embeddings.
	// Defaults to 768 (nomic-embed-text). Use 1536 for OpenAI.
	EmbeddingDimensions int
}

// NewEmbeddedBackend creates a new embedded CozoDB backend.
func NewEmbeddedBackend(config EmbeddedConfig) (*EmbeddedBackend, error) {
	// Set defaults
	if config.Engine == "" {
		config.Engine = "rocksdb"
	}
	if config.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		config.DataDir = filepath.Join(homeDir, ".cortex", "data")
		if config.ProjectID != "" {
			config.DataDir = filepath.Join(config.DataDir, config.ProjectID)
		}
	}

	// Ensure data directory exists
	if err := os.MkdirAll(config.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Open CozoDB
	db, err := cozo.New(config.Engine, config.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cozodb: %w", err)
	}

	// Default embedding dimensions to 768 (nomic-embed-text)
	embeddingDim := config.EmbeddingDimensions
	if embeddingDim <= 0 {
		embeddingDim = 768
	}

	return &EmbeddedBackend{
		db:                  &db,
		embeddingDimensions: embeddingDim,
	}, nil
}

// Query executes a read-only Datalog query.
func (b *EmbeddedBackend) Query(ctx context.Context, datalog string) (*QueryResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("backend is closed")
	}

	// Check context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.db.RunReadOnly(datalog, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return FromNamedRows(result), nil
}

// Execute runs a Datalog mutation.
func (b *EmbeddedBackend) Execute(ctx context.Context, datalog string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	// Check context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, err := b.db.Run(datalog, nil)
	if err != nil {
		return fmt.Errorf("execute failed: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	b.db.Close()
	return nil
}

// DB returns the underlying CozoDB instance for advanced operations.
// Use with caution - prefer the Backend interface methods.
func (b *EmbeddedBackend) DB() *cozo.CozoDB {
	return b.db
}

// EnsureSchema creates the Cortex tables if they don't exist and runs any
// migrations not yet recorded. Idempotent and safe to call multiple times.
// Uses the embedding dimensions configured in the backend.
func (b *EmbeddedBackend) EnsureSchema() error {
	dim := b.embeddingDimensions
	if dim <= 0 {
		dim = 768 // default for nomic-embed-text
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, table := range schemaTables(dim) {
		_, err := b.db.Run(table, nil)
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "already exists") ||
				strings.Contains(errStr, "conflicts with an existing one") {
				continue
			}
			return fmt.Errorf("create table failed: %w", err)
		}
	}

	// A fresh install already has the latest column set from schemaTables()
	// above; running the migrations anyway is harmless since each Up is
	// probe-then-noop, and it keeps ent_schema_migrations accurate.
	applied, _, _ := appliedMigrations(b.db)
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := m.Up(b.db); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if err := recordMigration(b.db, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// CreateHNSWIndex creates HNSW indexes for semantic search.
// Should be called after schema creation.
// dimensions: embedding vector size (768 for nomic-embed-text, 1536 for OpenAI)
func (b *EmbeddedBackend) CreateHNSWIndex(dimensions int) error {
	if dimensions <= 0 {
		dimensions = 768 // default for nomic-embed-text
	}
	// Use Cosine distance for semantic similarity (returns 0-2, where 0 = identical)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, idx := range hnswIndexes(dimensions) {
		_, err := b.db.Run(idx, nil)
		if err != nil {
			// Ignore "already exists" errors
			continue
		}
	}

	return nil
}

// GetProjectMeta retrieves a metadata value by key.
// Returns empty string if key doesn't exist.
func (b *EmbeddedBackend) GetProjectMeta(key string) (string, error) {
	query := `?[value] := *ent_project_meta{key, value}, key = $key`
	params := map[string]interface{}{"key": key}

	b.mu.RLock()
	result, err := b.db.Run(query, params)
	b.mu.RUnlock()

	if err != nil {
		return "", err
	}

	if len(result.Rows) == 0 {
		return "", nil
	}

	if val, ok := result.Rows[0][0].(string); ok {
		return val, nil
	}
	return "", nil
}

// SetProjectMeta sets a metadata value by key.
func (b *EmbeddedBackend) SetProjectMeta(key, value string) error {
	query := `?[key, value] <- [[$key, $value]] :put ent_project_meta { key, value }`
	params := map[string]interface{}{"key": key, "value": value}

	b.mu.Lock()
	_, err := b.db.Run(query, params)
	b.mu.Unlock()

	return err
}

// GetLastIndexedSHA retrieves the last successfully indexed git SHA.
func (b *EmbeddedBackend) GetLastIndexedSHA() (string, error) {
	return b.GetProjectMeta("last_indexed_sha")
}

// SetLastIndexedSHA stores the last successfully indexed git SHA.
func (b *EmbeddedBackend) SetLastIndexedSHA(sha string) error {
	return b.SetProjectMeta("last_indexed_sha", sha)
}

// DeleteEntitiesForFile removes all entities associated with a file path.
// This is used during incremental indexing when files are deleted or modified.
func (b *EmbeddedBackend) DeleteEntitiesForFile(filePath string) error {
	// Delete in order: edges first, then entities
	queries := []string{
		// Delete call edges where caller or callee is in this file
		`?[id] := *ent_calls{id, caller_id}, *ent_function{id: caller_id, file_path}, file_path = $path
		 :rm ent_calls {id}`,
		`?[id] := *ent_calls{id, callee_id}, *ent_function{id: callee_id, file_path}, file_path = $path
		 :rm ent_calls {id}`,
		// Delete defines edges for this file
		`?[id] := *ent_defines{id, file_id}, *ent_file{id: file_id, path}, path = $path
		 :rm ent_defines {id}`,
		// Delete defines_type edges for this file
		`?[id] := *ent_defines_type{id, file_id}, *ent_file{id: file_id, path}, path = $path
		 :rm ent_defines_type {id}`,
		// Delete function embeddings
		`?[function_id] := *ent_function{id: function_id, file_path}, file_path = $path
		 :rm ent_function_embedding {function_id}`,
		// Delete function code
		`?[function_id] := *ent_function{id: function_id, file_path}, file_path = $path
		 :rm ent_function_code {function_id}`,
		// Delete functions
		`?[id] := *ent_function{id, file_path}, file_path = $path
		 :rm ent_function {id}`,
		// Delete type embeddings
		`?[type_id] := *ent_type{id: type_id, file_path}, file_path = $path
		 :rm ent_type_embedding {type_id}`,
		// Delete type code
		`?[type_id] := *ent_type{id: type_id, file_path}, file_path = $path
		 :rm ent_type_code {type_id}`,
		// Delete types
		`?[id] := *ent_type{id, file_path}, file_path = $path
		 :rm ent_type {id}`,
		// Delete imports for this file
		`?[id] := *ent_import{id, file_path}, file_path = $path
		 :rm ent_import {id}`,
		// Delete the file itself
		`?[id] := *ent_file{id, path}, path = $path
		 :rm ent_file {id}`,
	}

	params := map[string]interface{}{"path": filePath}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, query := range queries {
		if _, err := b.db.Run(query, params); err != nil {
			// Log but continue - some queries may fail if entities don't exist
			continue
		}
	}

	return nil
}

// Initialize brings the backend up to the current schema version,
// creating tables and running migrations as needed. Equivalent to
// EnsureSchema; it exists under this name to satisfy Backend.
func (b *EmbeddedBackend) Initialize(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return b.EnsureSchema()
}

// WriteBatch runs a group of mutations under a single write lock. CozoDB's
// own query engine evaluates each script atomically, but the batch as a
// whole is not: it stops at the first failing mutation, and the mutations
// that ran before it stay applied.
func (b *EmbeddedBackend) WriteBatch(ctx context.Context, mutations []Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for i, m := range mutations {
		if _, err := b.db.Run(m.Script, m.Params); err != nil {
			return fmt.Errorf("mutation %d/%d failed: %w", i+1, len(mutations), err)
		}
	}
	return nil
}

// Transaction runs fn with exclusive access to this backend. cozodb has no
// native multi-statement transaction handle, so exclusivity is provided by
// holding the write lock for fn's entire duration; fn receives b itself
// since every write it issues through b already serializes behind that
// lock.
func (b *EmbeddedBackend) Transaction(ctx context.Context, fn func(tx Backend) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return fn(&lockedBackend{b})
}

// lockedBackend wraps an EmbeddedBackend whose mutex is already held by the
// enclosing Transaction call, so its Query/Execute bypass re-locking.
type lockedBackend struct {
	b *EmbeddedBackend
}

func (l *lockedBackend) Initialize(ctx context.Context) error { return l.b.EnsureSchema() }

func (l *lockedBackend) WriteBatch(ctx context.Context, mutations []Mutation) error {
	for i, m := range mutations {
		if _, err := l.b.db.Run(m.Script, m.Params); err != nil {
			return fmt.Errorf("mutation %d/%d failed: %w", i+1, len(mutations), err)
		}
	}
	return nil
}

func (l *lockedBackend) Query(ctx context.Context, script string) (*QueryResult, error) {
	result, err := l.b.db.RunReadOnly(script, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return FromNamedRows(result), nil
}

func (l *lockedBackend) Execute(ctx context.Context, script string) error {
	_, err := l.b.db.Run(script, nil)
	return err
}

func (l *lockedBackend) Transaction(ctx context.Context, fn func(tx Backend) error) error {
	return fn(l)
}

func (l *lockedBackend) VectorSearch(ctx context.Context, q VectorQuery) (*QueryResult, error) {
	return l.b.runVectorSearch(q)
}

func (l *lockedBackend) HasSchema(ctx context.Context) (bool, error) {
	_, err := l.b.db.Run(`?[id] := *ent_file{id} :limit 1`, nil)
	return err == nil, nil
}

func (l *lockedBackend) SchemaVersion(ctx context.Context) (int, error) {
	applied, _, _ := appliedMigrations(l.b.db)
	version := 1
	for v := range applied {
		if v > version {
			version = v
		}
	}
	return version, nil
}

func (l *lockedBackend) Close() error { return nil }

// VectorSearch runs an HNSW nearest-neighbor query against one of the
// embedding tables.
func (b *EmbeddedBackend) VectorSearch(ctx context.Context, q VectorQuery) (*QueryResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("backend is closed")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return b.runVectorSearch(q)
}

// runVectorSearch issues the HNSW query. Caller must hold b.mu (read or write).
func (b *EmbeddedBackend) runVectorSearch(q VectorQuery) (*QueryResult, error) {
	idKey := "function_id"
	if strings.Contains(q.Table, "type_embedding") {
		idKey = "type_id"
	}
	ef := q.EF
	if ef <= 0 {
		ef = 50
	}
	k := q.K
	if k <= 0 {
		k = 10
	}
	script := fmt.Sprintf(
		`?[%s, dist] := ~%s:%s { %s | query: q, k: %d, ef: %d, bind_distance: dist }, q = vec($query_vec)`,
		idKey, q.Table, q.IndexName, idKey, k, ef,
	)
	result, err := b.db.Run(script, map[string]any{"query_vec": q.Vector})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return FromNamedRows(result), nil
}

// HasSchema reports whether the core entity tables already exist.
func (b *EmbeddedBackend) HasSchema(ctx context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.db.Run(`?[id] := *ent_file{id} :limit 1`, nil)
	return err == nil, nil
}

// SchemaVersion returns the highest migration version recorded in
// ent_schema_migrations, or 1 if none have run (baseline schema only).
func (b *EmbeddedBackend) SchemaVersion(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	applied, _, _ := appliedMigrations(b.db)
	version := 1
	for v := range applied {
		if v > version {
			version = v
		}
	}
	return version, nil
}
