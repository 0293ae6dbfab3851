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

import "context"

// Mutation is a single Datalog write statement plus its bound parameters,
// the unit WriteBatch runs, in order, as one group.
type Mutation struct {
	Script string
	Params map[string]any
}

// VectorQuery describes a single HNSW nearest-neighbor lookup against one
// of the embedding tables.
type VectorQuery struct {
	// Table is the embedding relation to search, e.g. "ent_function_embedding".
	Table string
	// IndexName is the HNSW index name, e.g. "embedding_idx".
	IndexName string
	// Vector is the query embedding.
	Vector []float32
	// K is the number of nearest neighbors to return.
	K int
	// EF is the HNSW search-time candidate list size.
	EF int
}

// Backend is the storage-engine-agnostic surface every Cortex component
// programs against: the graph store behind it may be a local CozoDB file,
// an in-memory instance for tests, or (in principle) a remote service
// fronted by the same interface.
type Backend interface {
	// Initialize creates the schema if absent and runs any pending
	// migrations, bringing the backend to the current SchemaVersion.
	Initialize(ctx context.Context) error

	// WriteBatch executes a group of mutations in order. EmbeddedBackend
	// runs them under one write lock and stops at the first failing
	// mutation; mutations that ran before it stay applied (no rollback).
	WriteBatch(ctx context.Context, mutations []Mutation) error

	// Query runs a read-only Datalog script and returns its rows.
	Query(ctx context.Context, script string) (*QueryResult, error)

	// Execute runs a single Datalog mutation outside of a batch.
	Execute(ctx context.Context, script string) error

	// Transaction runs fn with exclusive write access, so fn's mutations
	// are isolated from concurrent WriteBatch/Execute callers.
	Transaction(ctx context.Context, fn func(tx Backend) error) error

	// VectorSearch runs an HNSW nearest-neighbor query.
	VectorSearch(ctx context.Context, q VectorQuery) (*QueryResult, error)

	// HasSchema reports whether the entity tables already exist.
	HasSchema(ctx context.Context) (bool, error)

	// SchemaVersion returns the highest migration version applied.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases the underlying database handle.
	Close() error
}
